package postgres

import (
	"context"
	"errors"

	"github.com/and161185/talkmesh/internal/errs"
	"github.com/and161185/talkmesh/internal/model"
)

// KeyRepo implements KeyRepository using PostgreSQL.
type KeyRepo struct{ db *DB }

// NewKeyRepo constructs a key repository.
func NewKeyRepo(db *DB) *KeyRepo { return &KeyRepo{db: db} }

// SaveKey upserts a published public key row.
func (r *KeyRepo) SaveKey(ctx context.Context, k *model.Key) error {
	const q = `
INSERT INTO public_keys (client_id, key_id, public_key, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (client_id, key_id) DO UPDATE
SET public_key=EXCLUDED.public_key,
    updated_at=EXCLUDED.updated_at`
	_, err := r.db.Pool.Exec(ctx, q, k.ClientID, k.KeyID, k.PublicKey, k.Timestamp)
	return err
}

// GetKey selects one of the client's public keys by key id.
func (r *KeyRepo) GetKey(ctx context.Context, clientID, keyID string) (*model.Key, error) {
	const q = `
SELECT client_id, key_id, public_key, updated_at
FROM public_keys WHERE client_id=$1 AND key_id=$2`
	row := r.db.Pool.QueryRow(ctx, q, clientID, keyID)
	var k model.Key
	if err := row.Scan(&k.ClientID, &k.KeyID, &k.PublicKey, &k.Timestamp); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, errs.ErrNotFound
	}
	return &k, nil
}

// DeleteKeysByClient removes all of the client's published keys.
func (r *KeyRepo) DeleteKeysByClient(ctx context.Context, clientID string) error {
	const q = `DELETE FROM public_keys WHERE client_id=$1`
	_, err := r.db.Pool.Exec(ctx, q, clientID)
	return err
}

// SaveToken inserts a pairing token row. Token ids are minted fresh, so a
// conflicting insert is a collision reported as ErrAlreadyExists.
func (r *KeyRepo) SaveToken(ctx context.Context, t *model.PairingToken) error {
	const q = `
INSERT INTO pairing_tokens (token_id, client_id, purpose, secret_hash, salt, use_count, max_uses, expiry)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.Pool.Exec(ctx, q,
		t.TokenID, t.ClientID, t.Purpose, t.SecretHash, t.Salt, t.UseCount, t.MaxUses, t.Expiry)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetToken selects a pairing token by token id.
func (r *KeyRepo) GetToken(ctx context.Context, tokenID string) (*model.PairingToken, error) {
	const q = `
SELECT token_id, client_id, purpose, secret_hash, salt, use_count, max_uses, expiry
FROM pairing_tokens WHERE token_id=$1`
	row := r.db.Pool.QueryRow(ctx, q, tokenID)
	var t model.PairingToken
	if err := row.Scan(&t.TokenID, &t.ClientID, &t.Purpose, &t.SecretHash, &t.Salt,
		&t.UseCount, &t.MaxUses, &t.Expiry); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, errs.ErrNotFound
	}
	return &t, nil
}

// MarkTokenUse increments the token's redemption counter.
func (r *KeyRepo) MarkTokenUse(ctx context.Context, tokenID string) error {
	const q = `UPDATE pairing_tokens SET use_count = use_count + 1 WHERE token_id=$1`
	ct, err := r.db.Pool.Exec(ctx, q, tokenID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// DeleteTokensByClient removes all tokens issued by the client.
func (r *KeyRepo) DeleteTokensByClient(ctx context.Context, clientID string) error {
	const q = `DELETE FROM pairing_tokens WHERE client_id=$1`
	_, err := r.db.Pool.Exec(ctx, q, clientID)
	return err
}

// DeleteEnvironmentsByClient removes the client's location/proximity records.
func (r *KeyRepo) DeleteEnvironmentsByClient(ctx context.Context, clientID string) error {
	const q = `DELETE FROM environments WHERE client_id=$1`
	_, err := r.db.Pool.Exec(ctx, q, clientID)
	return err
}
