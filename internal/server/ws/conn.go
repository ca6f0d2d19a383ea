package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid/v5"
	"golang.org/x/net/websocket"

	"github.com/and161185/talkmesh/internal/errs"
	"github.com/and161185/talkmesh/internal/model"
	"github.com/and161185/talkmesh/internal/registry"
)

// priorityPenaltyMax caps the accumulated keymaster cooldown so a single bad
// streak cannot deprioritize a connection forever.
const priorityPenaltyMax = 10 * time.Second

// conn is one live websocket session. All server-to-client frames go through
// send, serialized by wmu; reads happen only on the gateway's read loop.
type conn struct {
	ws  *websocket.Conn
	wmu sync.Mutex

	clientID string

	loggedIn atomic.Bool
	closed   atomic.Bool

	latency atomic.Int64 // last round trip, nanoseconds
	penalty atomic.Int64 // keymaster cooldown, nanoseconds

	keyTimeout time.Duration

	mu      sync.Mutex
	pending map[string]chan keyResultPayload // key-wrap requests awaiting a result frame
	pings   map[string]time.Time             // ping nonce -> sent at
}

func newConn(ws *websocket.Conn, clientID string, keyTimeout time.Duration) *conn {
	return &conn{
		ws:         ws,
		clientID:   clientID,
		keyTimeout: keyTimeout,
		pending:    make(map[string]chan keyResultPayload),
		pings:      make(map[string]time.Time),
	}
}

func (c *conn) ClientID() string { return c.clientID }

func (c *conn) IsConnected() bool { return !c.closed.Load() }

func (c *conn) IsLoggedIn() bool { return c.loggedIn.Load() && !c.closed.Load() }

func (c *conn) RPC() registry.ClientRPC { return c }

func (c *conn) PingLatency() time.Duration {
	return time.Duration(c.latency.Load())
}

func (c *conn) PriorityPenalty() time.Duration {
	return time.Duration(c.penalty.Load())
}

func (c *conn) Penalize(d time.Duration) {
	for {
		cur := c.penalty.Load()
		next := cur + int64(d)
		if next > int64(priorityPenaltyMax) {
			next = int64(priorityPenaltyMax)
		}
		if c.penalty.CompareAndSwap(cur, next) {
			return
		}
	}
}

func (c *conn) ResetPenalty() { c.penalty.Store(0) }

func (c *conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.failPending()
	return c.ws.Close()
}

// failPending wakes every caller blocked on a key-wrap exchange.
func (c *conn) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *conn) send(f frame) error {
	if c.closed.Load() {
		return errs.ErrNotConnected
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return websocket.JSON.Send(c.ws, f)
}

// sendPing emits a ping frame and remembers the nonce for latency measurement.
func (c *conn) sendPing() error {
	nonce := uuid.Must(uuid.NewV4()).String()
	c.mu.Lock()
	c.pings[nonce] = time.Now()
	c.mu.Unlock()
	return c.send(frame{Type: framePing, Payload: mustJSON(pingPayload{Nonce: nonce})})
}

// handlePong resolves a ping nonce into a round-trip measurement.
func (c *conn) handlePong(p pingPayload) {
	c.mu.Lock()
	sentAt, ok := c.pings[p.Nonce]
	if ok {
		delete(c.pings, p.Nonce)
	}
	c.mu.Unlock()
	if ok {
		c.latency.Store(int64(time.Since(sentAt)))
	}
}

// handleResult routes a result frame to the caller waiting on its request id.
func (c *conn) handleResult(requestID string, p keyResultPayload) {
	c.mu.Lock()
	ch, ok := c.pending[requestID]
	if ok {
		delete(c.pending, requestID)
	}
	c.mu.Unlock()
	if ok {
		ch <- p
		close(ch)
	}
}

func (c *conn) PresenceUpdated(ctx context.Context, p *model.Presence) error {
	return c.send(frame{Type: framePresenceUpdated, Payload: mustJSON(presenceToPayload(p))})
}

func (c *conn) PresenceModified(ctx context.Context, p *model.Presence) error {
	return c.send(frame{Type: framePresenceModified, Payload: mustJSON(presenceToPayload(p))})
}

func (c *conn) RelationshipUpdated(ctx context.Context, r *model.Relationship) error {
	return c.send(frame{Type: frameRelationshipUpdated, Payload: mustJSON(relationshipToPayload(r))})
}

func (c *conn) GroupUpdated(ctx context.Context, g *model.GroupPresence) error {
	return c.send(frame{Type: frameGroupUpdated, Payload: mustJSON(groupToPayload(g))})
}

func (c *conn) GroupMemberUpdated(ctx context.Context, m *model.GroupMembership) error {
	return c.send(frame{Type: frameGroupMemberUpdated, Payload: mustJSON(membershipToPayload(m))})
}

func (c *conn) AlertUser(ctx context.Context, message string) error {
	return c.send(frame{Type: frameAlertUser, Payload: mustJSON(alertPayload{Message: message})})
}

func (c *conn) SettingsChanged(ctx context.Context, key, value, message string) error {
	return c.send(frame{Type: frameSettingsChanged, Payload: mustJSON(settingsPayload{Key: key, Value: value, Message: message})})
}

// GetEncryptedGroupKeys sends a key-wrap request and blocks until the client
// answers with a matching result frame, the timeout fires, the context is
// canceled or the connection closes.
func (c *conn) GetEncryptedGroupKeys(ctx context.Context, groupID, sharedKeyID, salt string, clientIDs, publicKeyIDs []string) ([]string, error) {
	requestID := uuid.Must(uuid.NewV4()).String()
	ch := make(chan keyResultPayload, 1)

	c.mu.Lock()
	c.pending[requestID] = ch
	c.mu.Unlock()

	req := frame{
		Type:      frameKeyRequest,
		RequestID: requestID,
		Payload: mustJSON(keyRequestPayload{
			GroupID:         groupID,
			SharedKeyID:     sharedKeyID,
			SharedKeyIDSalt: salt,
			ClientIDs:       clientIDs,
			PublicKeyIDs:    publicKeyIDs,
		}),
	}
	if err := c.send(req); err != nil {
		c.abandonPending(requestID)
		return nil, err
	}

	timer := time.NewTimer(c.keyTimeout)
	defer timer.Stop()

	select {
	case res, ok := <-ch:
		if !ok {
			return nil, errs.ErrNotConnected
		}
		return res.Keys, nil
	case <-timer.C:
		c.abandonPending(requestID)
		return nil, errs.ErrKeyRequestTimeout
	case <-ctx.Done():
		c.abandonPending(requestID)
		return nil, ctx.Err()
	}
}

func (c *conn) abandonPending(requestID string) {
	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()
}
