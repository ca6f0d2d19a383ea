package postgres

import (
	"context"
	"errors"

	"github.com/and161185/talkmesh/internal/errs"
	"github.com/and161185/talkmesh/internal/model"
)

// PresenceRepo implements PresenceRepository using PostgreSQL.
type PresenceRepo struct{ db *DB }

// NewPresenceRepo constructs a presence repository.
func NewPresenceRepo(db *DB) *PresenceRepo { return &PresenceRepo{db: db} }

// SavePresence upserts the client's presence row.
func (r *PresenceRepo) SavePresence(ctx context.Context, p *model.Presence) error {
	const q = `
INSERT INTO presences (client_id, connection_status, client_name, client_status, avatar_url, key_id, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (client_id) DO UPDATE
SET connection_status=EXCLUDED.connection_status,
    client_name=EXCLUDED.client_name,
    client_status=EXCLUDED.client_status,
    avatar_url=EXCLUDED.avatar_url,
    key_id=EXCLUDED.key_id,
    updated_at=EXCLUDED.updated_at`
	_, err := r.db.Pool.Exec(ctx, q,
		p.ClientID, p.ConnectionStatus, p.ClientName, p.ClientStatus, p.AvatarURL, p.KeyID, p.Timestamp)
	return err
}

// GetPresenceByClientID selects a presence by client id.
func (r *PresenceRepo) GetPresenceByClientID(ctx context.Context, clientID string) (*model.Presence, error) {
	const q = `
SELECT client_id, connection_status, client_name, client_status, avatar_url, key_id, updated_at
FROM presences WHERE client_id=$1`
	row := r.db.Pool.QueryRow(ctx, q, clientID)
	var p model.Presence
	if err := row.Scan(&p.ClientID, &p.ConnectionStatus, &p.ClientName, &p.ClientStatus, &p.AvatarURL, &p.KeyID, &p.Timestamp); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, errs.ErrNotFound
	}
	return &p, nil
}

// DeletePresence removes the client's presence row.
func (r *PresenceRepo) DeletePresence(ctx context.Context, clientID string) error {
	const q = `DELETE FROM presences WHERE client_id=$1`
	_, err := r.db.Pool.Exec(ctx, q, clientID)
	return err
}
