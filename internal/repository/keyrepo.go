package repository

import (
	"context"

	"github.com/and161185/talkmesh/internal/model"
)

// KeyRepository provides access to published public keys, pairing tokens and
// environment records.
type KeyRepository interface {
	// SaveKey upserts a public key by (clientID, keyID).
	SaveKey(ctx context.Context, k *model.Key) error
	// GetKey loads one of the client's public keys by key id.
	GetKey(ctx context.Context, clientID, keyID string) (*model.Key, error)
	// DeleteKeysByClient removes all of the client's published keys.
	DeleteKeysByClient(ctx context.Context, clientID string) error

	// SaveToken upserts a pairing token by token id.
	SaveToken(ctx context.Context, t *model.PairingToken) error
	// GetToken loads a pairing token by token id.
	GetToken(ctx context.Context, tokenID string) (*model.PairingToken, error)
	// MarkTokenUse increments the token's redemption counter.
	MarkTokenUse(ctx context.Context, tokenID string) error
	// DeleteTokensByClient removes all tokens issued by the client.
	DeleteTokensByClient(ctx context.Context, clientID string) error

	// DeleteEnvironmentsByClient removes the client's location/proximity records.
	DeleteEnvironmentsByClient(ctx context.Context, clientID string) error
}
