package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/and161185/talkmesh/internal/errs"
	"github.com/and161185/talkmesh/internal/model"
)

// ClientRepo implements ClientRepository using PostgreSQL.
type ClientRepo struct{ db *DB }

// NewClientRepo constructs a client repository.
func NewClientRepo(db *DB) *ClientRepo { return &ClientRepo{db: db} }

// SaveClient upserts a client row.
func (r *ClientRepo) SaveClient(ctx context.Context, c *model.Client) error {
	const q = `
INSERT INTO clients (id, srp_salt, srp_verifier, suspended_at, suspended_for_ns, time_registered)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE
SET srp_salt=EXCLUDED.srp_salt,
    srp_verifier=EXCLUDED.srp_verifier,
    suspended_at=EXCLUDED.suspended_at,
    suspended_for_ns=EXCLUDED.suspended_for_ns`
	_, err := r.db.Pool.Exec(ctx, q,
		c.ID, c.SRPSalt, c.SRPVerifier, c.SuspendedAt, int64(c.SuspendedFor), c.TimeRegistered)
	return err
}

// GetClientByID selects a client by id.
func (r *ClientRepo) GetClientByID(ctx context.Context, id string) (*model.Client, error) {
	const q = `
SELECT id, srp_salt, srp_verifier, suspended_at, suspended_for_ns, time_registered
FROM clients WHERE id=$1`
	row := r.db.Pool.QueryRow(ctx, q, id)
	var c model.Client
	var suspendedForNs int64
	if err := row.Scan(&c.ID, &c.SRPSalt, &c.SRPVerifier, &c.SuspendedAt, &suspendedForNs, &c.TimeRegistered); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, errs.ErrNotFound
	}
	c.SuspendedFor = time.Duration(suspendedForNs)
	return &c, nil
}

// DeleteClient removes a client row.
func (r *ClientRepo) DeleteClient(ctx context.Context, id string) error {
	const q = `DELETE FROM clients WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// SaveHostInfo upserts the client's host info row.
func (r *ClientRepo) SaveHostInfo(ctx context.Context, h *model.HostInfo) error {
	const q = `
INSERT INTO host_info (client_id, client_name, client_version, device_model, system_name, system_version)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (client_id) DO UPDATE
SET client_name=EXCLUDED.client_name,
    client_version=EXCLUDED.client_version,
    device_model=EXCLUDED.device_model,
    system_name=EXCLUDED.system_name,
    system_version=EXCLUDED.system_version`
	_, err := r.db.Pool.Exec(ctx, q,
		h.ClientID, h.ClientName, h.ClientVersion, h.DeviceModel, h.SystemName, h.SystemVersion)
	return err
}

// DeleteHostInfo removes the client's host info row.
func (r *ClientRepo) DeleteHostInfo(ctx context.Context, clientID string) error {
	const q = `DELETE FROM host_info WHERE client_id=$1`
	_, err := r.db.Pool.Exec(ctx, q, clientID)
	return err
}
