package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/talkmesh/internal/errs"
	"github.com/and161185/talkmesh/internal/model"
)

func TestPresenceRepo_SaveAndGet(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPresenceRepo(db)
	ctx := context.Background()
	now := time.Now()

	p := &model.Presence{
		ClientID:         "A",
		ConnectionStatus: model.StatusOnline,
		ClientName:       "alice",
		ClientStatus:     "hi",
		AvatarURL:        "https://cdn/av.png",
		KeyID:            "k1",
		Timestamp:        now,
	}
	mock.ExpectExec(`INSERT INTO presences`).
		WithArgs(p.ClientID, p.ConnectionStatus, p.ClientName, p.ClientStatus, p.AvatarURL, p.KeyID, p.Timestamp).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.SavePresence(ctx, p))

	mock.ExpectQuery(`FROM presences WHERE client_id=\$1`).
		WithArgs("A").
		WillReturnRows(pgxmock.NewRows([]string{
			"client_id", "connection_status", "client_name", "client_status", "avatar_url", "key_id", "updated_at",
		}).AddRow("A", model.StatusOnline, "alice", "hi", "https://cdn/av.png", "k1", now))
	got, err := r.GetPresenceByClientID(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, model.StatusOnline, got.ConnectionStatus)
	require.Equal(t, "k1", got.KeyID)

	mock.ExpectQuery(`FROM presences WHERE client_id=\$1`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetPresenceByClientID(ctx, "ghost")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestPresenceRepo_Delete(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewPresenceRepo(db)

	mock.ExpectExec(`DELETE FROM presences WHERE client_id=\$1`).
		WithArgs("A").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, r.DeletePresence(context.Background(), "A"))
	require.NoError(t, mock.ExpectationsWereMet())
}
