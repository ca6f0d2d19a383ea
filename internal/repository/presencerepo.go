package repository

import (
	"context"

	"github.com/and161185/talkmesh/internal/model"
)

// PresenceRepository provides access to per-client presence snapshots.
// At most one presence exists per client.
type PresenceRepository interface {
	// SavePresence upserts the client's presence.
	SavePresence(ctx context.Context, p *model.Presence) error
	// GetPresenceByClientID loads a presence by client id.
	GetPresenceByClientID(ctx context.Context, clientID string) (*model.Presence, error)
	// DeletePresence removes the client's presence.
	DeletePresence(ctx context.Context, clientID string) error
}
