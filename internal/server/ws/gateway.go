package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"github.com/and161185/talkmesh/internal/errs"
	"github.com/and161185/talkmesh/internal/limiter"
	"github.com/and161185/talkmesh/internal/model"
	"github.com/and161185/talkmesh/internal/pairing"
	"github.com/and161185/talkmesh/internal/registry"
	"github.com/and161185/talkmesh/internal/repository"
)

// presenceNotifier is the slice of the update engine the gateway drives: a
// presence fan-out after login and after disconnect.
type presenceNotifier interface {
	OnPresenceChanged(ctx context.Context, clientID string, changedFields ...string)
}

// Config carries the gateway knobs.
type Config struct {
	JWTSecret         string
	KeyRequestTimeout time.Duration
	PingInterval      time.Duration
}

func (c Config) withDefaults() Config {
	if c.KeyRequestTimeout <= 0 {
		c.KeyRequestTimeout = 30 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	return c
}

// Gateway terminates client websockets, authenticates login frames and hands
// live sessions to the connection registry.
type Gateway struct {
	log       *zap.Logger
	clients   repository.ClientRepository
	presences repository.PresenceRepository
	reg       *registry.Memory
	limiter   limiter.Limiter
	notifier  presenceNotifier
	pairings  *pairing.Service
	cfg       Config
}

func New(log *zap.Logger, clients repository.ClientRepository, presences repository.PresenceRepository, reg *registry.Memory, lim limiter.Limiter, notifier presenceNotifier, pairings *pairing.Service, cfg Config) *Gateway {
	return &Gateway{
		log:       log,
		clients:   clients,
		presences: presences,
		reg:       reg,
		limiter:   lim,
		notifier:  notifier,
		pairings:  pairings,
		cfg:       cfg.withDefaults(),
	}
}

// Handler returns the http routes: /up for health checks and /ws for the
// client websocket.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(g.handleConn)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})

	return mux
}

func (g *Gateway) handleConn(wsc *websocket.Conn) {
	defer func() {
		_ = wsc.Close()
	}()

	remoteIP := remoteIPOf(wsc)
	decoder := json.NewDecoder(wsc)

	c, err := g.awaitLogin(wsc, decoder, remoteIP)
	if err != nil {
		return
	}

	ctx := context.Background()
	if replaced := g.reg.Register(c.clientID, c); replaced != nil {
		_ = replaced.Close()
	}

	_ = c.send(frame{Type: frameLoginOK, Payload: mustJSON(loginOKPayload{
		ClientID:   c.clientID,
		ServerTime: serverTime(),
	})})

	g.notifier.OnPresenceChanged(ctx, c.clientID, model.FieldConnectionStatus)
	g.log.Info("client connected", zap.String("clientID", c.clientID))

	stopPings := make(chan struct{})
	go g.pingLoop(c, stopPings)

	g.readLoop(c, decoder)

	close(stopPings)
	_ = c.Close()
	g.reg.Unregister(c.clientID, c)
	// A replaced session must not mark the client offline while its successor
	// is live.
	if _, ok := g.reg.ConnectionFor(c.clientID); !ok {
		g.markOffline(ctx, c.clientID)
	}
	g.log.Info("client disconnected", zap.String("clientID", c.clientID))
}

// awaitLogin reads frames until a valid login arrives. Any other frame type
// before login is refused; repeated garbage drops the connection.
func (g *Gateway) awaitLogin(wsc *websocket.Conn, decoder *json.Decoder, remoteIP string) (*conn, error) {
	decodeErrors := 0
	for {
		var f frame
		if err := decoder.Decode(&f); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, err
			}
			decodeErrors++
			g.writeError(wsc, "", "INVALID_ARGUMENT", "invalid frame payload", 0)
			if decodeErrors >= maxDecodeErrorsPerConn {
				return nil, err
			}
			continue
		}
		if f.Type != frameLogin {
			g.writeError(wsc, f.RequestID, "UNAUTHENTICATED", "login required", 0)
			continue
		}
		if len(f.Payload) > maxFramePayloadBytes {
			g.writeError(wsc, f.RequestID, "INVALID_ARGUMENT", "payload too large", 0)
			continue
		}

		var p loginPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			g.writeError(wsc, f.RequestID, "INVALID_ARGUMENT", "invalid login payload", 0)
			continue
		}

		c, code, msg, retryAfter := g.login(context.Background(), wsc, p, remoteIP)
		if c == nil {
			g.writeError(wsc, f.RequestID, code, msg, retryAfter)
			if code == "RESOURCE_EXHAUSTED" {
				return nil, errs.ErrRateLimited
			}
			continue
		}
		return c, nil
	}
}

func (g *Gateway) login(ctx context.Context, wsc *websocket.Conn, p loginPayload, remoteIP string) (*conn, string, string, time.Duration) {
	clientID := strings.TrimSpace(p.ClientID)
	if clientID == "" || p.Token == "" {
		return nil, "INVALID_ARGUMENT", "client_id and token are required", 0
	}

	ipHash := limiter.HashIP(remoteIP)
	allowed, retryAfter, err := g.limiter.Allow(ctx, clientID, ipHash)
	if err != nil {
		g.log.Error("login limiter check failed", zap.String("clientID", clientID), zap.Error(err))
		return nil, "UNAVAILABLE", "login temporarily unavailable", 0
	}
	if !allowed {
		return nil, "RESOURCE_EXHAUSTED", "too many login attempts", retryAfter
	}

	subject, err := g.verifyToken(p.Token)
	if err != nil || subject != clientID {
		blocked, blockFor, _ := g.limiter.Failure(ctx, clientID, ipHash)
		if blocked {
			return nil, "RESOURCE_EXHAUSTED", "too many login attempts", blockFor
		}
		return nil, "UNAUTHENTICATED", "invalid token", 0
	}

	client, err := g.clients.GetClientByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			blocked, blockFor, _ := g.limiter.Failure(ctx, clientID, ipHash)
			if blocked {
				return nil, "RESOURCE_EXHAUSTED", "too many login attempts", blockFor
			}
			return nil, "NOT_FOUND", "unknown client", 0
		}
		g.log.Error("login client lookup failed", zap.String("clientID", clientID), zap.Error(err))
		return nil, "UNAVAILABLE", "login temporarily unavailable", 0
	}
	if client.IsDeleted() {
		return nil, "FAILED_PRECONDITION", "account deleted", 0
	}
	if client.IsSuspended(time.Now()) {
		return nil, "FAILED_PRECONDITION", "account suspended", 0
	}

	if err := g.limiter.Success(ctx, clientID, ipHash); err != nil {
		g.log.Warn("login limiter reset failed", zap.String("clientID", clientID), zap.Error(err))
	}

	c := newConn(wsc, clientID, g.cfg.KeyRequestTimeout)
	c.loggedIn.Store(true)
	return c, "", "", 0
}

func (g *Gateway) verifyToken(tok string) (string, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(g.cfg.JWTSecret), nil
	})
	if err != nil || !parsed.Valid {
		return "", errors.New("invalid token")
	}

	v := jwt.NewValidator(jwt.WithLeeway(30 * time.Second))
	if err := v.Validate(&claims); err != nil {
		return "", errors.New("token expired or not valid yet")
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("bad subject")
	}
	return claims.Subject, nil
}

// readLoop consumes client frames after login: pongs feed the latency gauge,
// results resolve pending key-wrap requests.
func (g *Gateway) readLoop(c *conn, decoder *json.Decoder) {
	decodeErrors := 0
	for {
		var f frame
		if err := decoder.Decode(&f); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if !c.IsConnected() {
				return
			}
			decodeErrors++
			_ = c.send(frame{Type: frameError, Payload: mustJSON(errorPayload{
				Code:    "INVALID_ARGUMENT",
				Message: "invalid frame payload",
			})})
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(f.Payload) > maxFramePayloadBytes {
			_ = c.send(frame{Type: frameError, RequestID: f.RequestID, Payload: mustJSON(errorPayload{
				Code:    "INVALID_ARGUMENT",
				Message: "payload too large",
			})})
			continue
		}

		switch f.Type {
		case framePong:
			var p pingPayload
			if err := json.Unmarshal(f.Payload, &p); err != nil {
				continue
			}
			c.handlePong(p)
		case frameResult:
			var p keyResultPayload
			if err := json.Unmarshal(f.Payload, &p); err != nil {
				c.handleResult(f.RequestID, keyResultPayload{})
				continue
			}
			c.handleResult(f.RequestID, p)
		case framePairIssue:
			g.handlePairIssue(c, f)
		case framePairRedeem:
			g.handlePairRedeem(c, f)
		default:
			_ = c.send(frame{Type: frameError, RequestID: f.RequestID, Payload: mustJSON(errorPayload{
				Code:    "INVALID_ARGUMENT",
				Message: "unsupported frame type",
			})})
		}
	}
}

func (g *Gateway) handlePairIssue(c *conn, f frame) {
	if g.pairings == nil {
		g.sendError(c, f.RequestID, "UNAVAILABLE", "pairing is not configured")
		return
	}
	var p pairIssuePayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		g.sendError(c, f.RequestID, "INVALID_ARGUMENT", "invalid pair issue payload")
		return
	}

	tok, err := g.pairings.Issue(context.Background(), c.clientID, p.Purpose, p.MaxUses, time.Duration(p.TTLMS)*time.Millisecond)
	if err != nil {
		g.log.Error("pair issue failed", zap.String("clientID", c.clientID), zap.Error(err))
		g.sendError(c, f.RequestID, "UNAVAILABLE", "could not issue token")
		return
	}

	out := pairIssuedPayload{TokenID: tok.TokenID, Secret: tok.Secret}
	if !tok.Expiry.IsZero() {
		out.Expiry = tok.Expiry.UTC().Format(time.RFC3339)
	}
	_ = c.send(frame{Type: framePairIssued, RequestID: f.RequestID, Payload: mustJSON(out)})
}

func (g *Gateway) handlePairRedeem(c *conn, f frame) {
	if g.pairings == nil {
		g.sendError(c, f.RequestID, "UNAVAILABLE", "pairing is not configured")
		return
	}
	var p pairRedeemPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil || p.TokenID == "" || p.Secret == "" {
		g.sendError(c, f.RequestID, "INVALID_ARGUMENT", "invalid pair redeem payload")
		return
	}

	issuer, err := g.pairings.Redeem(context.Background(), p.TokenID, p.Secret, c.clientID)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrNotFound):
			g.sendError(c, f.RequestID, "NOT_FOUND", "unknown token")
		case errors.Is(err, errs.ErrTokenSpent):
			g.sendError(c, f.RequestID, "FAILED_PRECONDITION", "token expired or spent")
		case errors.Is(err, errs.ErrUnauthorized):
			g.sendError(c, f.RequestID, "FORBIDDEN", "token refused")
		default:
			g.log.Error("pair redeem failed", zap.String("clientID", c.clientID), zap.Error(err))
			g.sendError(c, f.RequestID, "UNAVAILABLE", "could not redeem token")
		}
		return
	}
	_ = c.send(frame{Type: framePairRedeemed, RequestID: f.RequestID, Payload: mustJSON(pairRedeemedPayload{IssuerID: issuer})})
}

func (g *Gateway) sendError(c *conn, requestID, code, message string) {
	_ = c.send(frame{Type: frameError, RequestID: requestID, Payload: mustJSON(errorPayload{
		Code:    code,
		Message: message,
	})})
}

func (g *Gateway) pingLoop(c *conn, stop <-chan struct{}) {
	ticker := time.NewTicker(g.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.sendPing(); err != nil {
				return
			}
		}
	}
}

// markOffline records the disconnect in the presence snapshot before the
// fan-out so recipients see the final state.
func (g *Gateway) markOffline(ctx context.Context, clientID string) {
	p, err := g.presences.GetPresenceByClientID(ctx, clientID)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			g.log.Error("presence lookup on disconnect failed", zap.String("clientID", clientID), zap.Error(err))
		}
		return
	}
	if p.ConnectionStatus == model.StatusOffline {
		return
	}
	p.ConnectionStatus = model.StatusOffline
	p.Timestamp = time.Now()
	if err := g.presences.SavePresence(ctx, p); err != nil {
		g.log.Error("presence save on disconnect failed", zap.String("clientID", clientID), zap.Error(err))
		return
	}
	g.notifier.OnPresenceChanged(ctx, clientID, model.FieldConnectionStatus)
}

func (g *Gateway) writeError(wsc *websocket.Conn, requestID, code, message string, retryAfter time.Duration) {
	f := frame{Type: frameError, RequestID: requestID, Payload: mustJSON(errorPayload{
		Code:       code,
		Message:    message,
		RetryAfter: retryAfter.Milliseconds(),
	})}
	_ = websocket.JSON.Send(wsc, f)
}

func remoteIPOf(wsc *websocket.Conn) string {
	req := wsc.Request()
	if req == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
