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

var relationshipColumns = []string{
	"client_id", "other_client_id", "state", "unblock_state", "notifications", "last_changed",
}

func TestRelationshipRepo_SaveRelationship(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRelationshipRepo(db)

	rel := &model.Relationship{
		ClientID: "A", OtherClientID: "B", State: model.RelationshipFriend,
		UnblockState: model.RelationshipNone, Notifications: model.NotificationsEnabled,
		LastChanged: time.Now(),
	}
	mock.ExpectExec(`INSERT INTO relationships`).
		WithArgs(rel.ClientID, rel.OtherClientID, rel.State, rel.UnblockState, rel.Notifications, rel.LastChanged).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.SaveRelationship(context.Background(), rel))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRelationshipRepo_GetRelationship(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRelationshipRepo(db)
	ctx := context.Background()
	changed := time.Now()

	mock.ExpectQuery(`FROM relationships WHERE client_id=\$1 AND other_client_id=\$2`).
		WithArgs("A", "B").
		WillReturnRows(pgxmock.NewRows(relationshipColumns).
			AddRow("A", "B", model.RelationshipBlocked, model.RelationshipFriend, model.NotificationsDisabled, changed))
	rel, err := r.GetRelationship(ctx, "A", "B")
	require.NoError(t, err)
	require.Equal(t, model.RelationshipBlocked, rel.State)
	require.Equal(t, model.RelationshipFriend, rel.UnblockState)

	mock.ExpectQuery(`FROM relationships WHERE client_id=\$1 AND other_client_id=\$2`).
		WithArgs("A", "ghost").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetRelationship(ctx, "A", "ghost")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRelationshipRepo_FindBothDirections(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRelationshipRepo(db)
	ctx := context.Background()
	changed := time.Now()

	mock.ExpectQuery(`FROM relationships WHERE client_id=\$1`).
		WithArgs("A").
		WillReturnRows(pgxmock.NewRows(relationshipColumns).
			AddRow("A", "B", model.RelationshipFriend, model.RelationshipNone, "", changed).
			AddRow("A", "C", model.RelationshipInvited, model.RelationshipNone, "", changed))
	out, err := r.FindRelationshipsByClientID(ctx, "A")
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "C", out[1].OtherClientID)

	mock.ExpectQuery(`FROM relationships WHERE other_client_id=\$1`).
		WithArgs("A").
		WillReturnRows(pgxmock.NewRows(relationshipColumns).
			AddRow("B", "A", model.RelationshipFriend, model.RelationshipNone, "", changed))
	in, err := r.FindRelationshipsByOtherClientID(ctx, "A")
	require.NoError(t, err)
	require.Len(t, in, 1)
	require.Equal(t, "B", in[0].ClientID)
}
