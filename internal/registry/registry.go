// Package registry tracks live client connections and the calls the server
// can make back into connected clients.
package registry

import (
	"context"
	"time"

	"github.com/and161185/talkmesh/internal/model"
)

// ClientRPC is the set of calls the server can invoke on a connected client.
// Implemented by the websocket gateway in production and by recording fakes in
// tests; protocol logic never touches the transport directly.
type ClientRPC interface {
	// PresenceUpdated pushes a full presence record.
	PresenceUpdated(ctx context.Context, p *model.Presence) error
	// PresenceModified pushes a field-filtered presence copy.
	PresenceModified(ctx context.Context, p *model.Presence) error
	// RelationshipUpdated pushes a full relationship record.
	RelationshipUpdated(ctx context.Context, r *model.Relationship) error
	// GroupUpdated pushes a group presence record.
	GroupUpdated(ctx context.Context, g *model.GroupPresence) error
	// GroupMemberUpdated pushes a (possibly redacted) membership record.
	GroupMemberUpdated(ctx context.Context, m *model.GroupMembership) error
	// AlertUser shows a message to the user.
	AlertUser(ctx context.Context, message string) error
	// SettingsChanged informs the client about a server-side setting change.
	SettingsChanged(ctx context.Context, key, value, message string) error
	// GetEncryptedGroupKeys asks the client, acting as keymaster, to wrap the
	// group key for the listed members. Blocks until the client responds.
	GetEncryptedGroupKeys(ctx context.Context, groupID, sharedKeyID, salt string, clientIDs, publicKeyIDs []string) ([]string, error)
}

// Connection is one live client session.
type Connection interface {
	// ClientID returns the authenticated client id, empty before login.
	ClientID() string
	// IsConnected reports whether the underlying transport is open.
	IsConnected() bool
	// IsLoggedIn reports whether the session finished login and is ready for
	// server-initiated calls.
	IsLoggedIn() bool
	// RPC returns the callable client proxy.
	RPC() ClientRPC
	// PingLatency returns the last measured round-trip time.
	PingLatency() time.Duration
	// PriorityPenalty returns the cooldown penalty accumulated by failed
	// keymaster duty; added to the ping latency during selection.
	PriorityPenalty() time.Duration
	// Penalize increases the priority penalty.
	Penalize(d time.Duration)
	// ResetPenalty clears the priority penalty.
	ResetPenalty()
	// Close terminates the session.
	Close() error
}

// Registry yields the live connection of a client, if any. Read-only from the
// update engine's perspective.
type Registry interface {
	ConnectionFor(clientID string) (Connection, bool)
}
