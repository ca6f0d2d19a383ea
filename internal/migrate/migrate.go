// Package migrate brings the database schema up to date at startup using
// the SQL migrations embedded in the binary.
package migrate

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/and161185/talkmesh/migrations"
)

// Up applies every pending migration from the embedded filesystem. It opens
// its own short-lived database/sql handle, since goose does not speak pgx pools.
func Up(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	return goose.UpContext(ctx, db, ".")
}
