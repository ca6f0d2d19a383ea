package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/talkmesh/internal/errs"
	"github.com/and161185/talkmesh/internal/model"
)

// RelationshipRepo implements RelationshipRepository using PostgreSQL.
type RelationshipRepo struct{ db *DB }

// NewRelationshipRepo constructs a relationship repository.
func NewRelationshipRepo(db *DB) *RelationshipRepo { return &RelationshipRepo{db: db} }

// SaveRelationship upserts a directed edge row.
func (r *RelationshipRepo) SaveRelationship(ctx context.Context, rel *model.Relationship) error {
	const q = `
INSERT INTO relationships (client_id, other_client_id, state, unblock_state, notifications, last_changed)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (client_id, other_client_id) DO UPDATE
SET state=EXCLUDED.state,
    unblock_state=EXCLUDED.unblock_state,
    notifications=EXCLUDED.notifications,
    last_changed=EXCLUDED.last_changed`
	_, err := r.db.Pool.Exec(ctx, q,
		rel.ClientID, rel.OtherClientID, rel.State, rel.UnblockState, rel.Notifications, rel.LastChanged)
	return err
}

// GetRelationship selects the edge clientID -> otherClientID.
func (r *RelationshipRepo) GetRelationship(ctx context.Context, clientID, otherClientID string) (*model.Relationship, error) {
	const q = `
SELECT client_id, other_client_id, state, unblock_state, notifications, last_changed
FROM relationships WHERE client_id=$1 AND other_client_id=$2`
	row := r.db.Pool.QueryRow(ctx, q, clientID, otherClientID)
	var rel model.Relationship
	if err := row.Scan(&rel.ClientID, &rel.OtherClientID, &rel.State, &rel.UnblockState, &rel.Notifications, &rel.LastChanged); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, errs.ErrNotFound
	}
	return &rel, nil
}

// FindRelationshipsByClientID selects all edges originating at clientID.
func (r *RelationshipRepo) FindRelationshipsByClientID(ctx context.Context, clientID string) ([]*model.Relationship, error) {
	const q = `
SELECT client_id, other_client_id, state, unblock_state, notifications, last_changed
FROM relationships WHERE client_id=$1
ORDER BY other_client_id`
	rows, err := r.db.Pool.Query(ctx, q, clientID)
	if err != nil {
		return nil, err
	}
	return scanRelationships(rows)
}

// FindRelationshipsByOtherClientID selects all edges pointing at otherClientID.
func (r *RelationshipRepo) FindRelationshipsByOtherClientID(ctx context.Context, otherClientID string) ([]*model.Relationship, error) {
	const q = `
SELECT client_id, other_client_id, state, unblock_state, notifications, last_changed
FROM relationships WHERE other_client_id=$1
ORDER BY client_id`
	rows, err := r.db.Pool.Query(ctx, q, otherClientID)
	if err != nil {
		return nil, err
	}
	return scanRelationships(rows)
}

func scanRelationships(rows pgx.Rows) ([]*model.Relationship, error) {
	defer rows.Close()
	var out []*model.Relationship
	for rows.Next() {
		var rel model.Relationship
		if err := rows.Scan(&rel.ClientID, &rel.OtherClientID, &rel.State, &rel.UnblockState, &rel.Notifications, &rel.LastChanged); err != nil {
			return nil, err
		}
		out = append(out, &rel)
	}
	return out, rows.Err()
}
