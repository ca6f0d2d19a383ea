package update

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/talkmesh/internal/batch"
	"github.com/and161185/talkmesh/internal/errs"
	"github.com/and161185/talkmesh/internal/locks"
	"github.com/and161185/talkmesh/internal/model"
	"github.com/and161185/talkmesh/internal/registry"
	"github.com/and161185/talkmesh/internal/repository"
)

// fakeStore is an in-memory stand-in for all repository interfaces. Saves
// store copies and loads return copies, like a real database would.
type fakeStore struct {
	mu sync.Mutex

	clients   map[string]*model.Client
	hostInfos map[string]*model.HostInfo
	presences map[string]*model.Presence
	rels      map[string]*model.Relationship
	groups    map[string]*model.GroupPresence
	mems      map[string]*model.GroupMembership
	dels      map[string]*model.Delivery
	msgs      map[string]*model.Message
	keys      map[string]*model.Key
	tokens    map[string]*model.PairingToken
	envs      map[string][]*model.EnvironmentRecord

	saveRelationshipCalls int
	saveMembershipCalls   int
	savePresenceCalls     int
}

var (
	_ repository.ClientRepository       = (*fakeStore)(nil)
	_ repository.PresenceRepository     = (*fakeStore)(nil)
	_ repository.RelationshipRepository = (*fakeStore)(nil)
	_ repository.GroupRepository        = (*fakeStore)(nil)
	_ repository.DeliveryRepository     = (*fakeStore)(nil)
	_ repository.KeyRepository          = (*fakeStore)(nil)
)

func newFakeStore() *fakeStore {
	return &fakeStore{
		clients:   make(map[string]*model.Client),
		hostInfos: make(map[string]*model.HostInfo),
		presences: make(map[string]*model.Presence),
		rels:      make(map[string]*model.Relationship),
		groups:    make(map[string]*model.GroupPresence),
		mems:      make(map[string]*model.GroupMembership),
		dels:      make(map[string]*model.Delivery),
		msgs:      make(map[string]*model.Message),
		keys:      make(map[string]*model.Key),
		tokens:    make(map[string]*model.PairingToken),
		envs:      make(map[string][]*model.EnvironmentRecord),
	}
}

func relKey(a, b string) string    { return a + "|" + b }
func memKey(g, c string) string    { return g + "|" + c }
func delKey(m, s, r string) string { return m + "|" + s + "|" + r }
func pubKeyKey(c, k string) string { return c + "|" + k }

func (f *fakeStore) SaveClient(_ context.Context, c *model.Client) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.clients[c.ID] = &cp
	return nil
}

func (f *fakeStore) GetClientByID(_ context.Context, id string) (*model.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) DeleteClient(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.clients, id)
	return nil
}

func (f *fakeStore) SaveHostInfo(_ context.Context, h *model.HostInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *h
	f.hostInfos[h.ClientID] = &cp
	return nil
}

func (f *fakeStore) DeleteHostInfo(_ context.Context, clientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.hostInfos, clientID)
	return nil
}

func (f *fakeStore) SavePresence(_ context.Context, p *model.Presence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savePresenceCalls++
	cp := *p
	f.presences[p.ClientID] = &cp
	return nil
}

func (f *fakeStore) GetPresenceByClientID(_ context.Context, clientID string) (*model.Presence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.presences[clientID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) DeletePresence(_ context.Context, clientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.presences, clientID)
	return nil
}

func (f *fakeStore) SaveRelationship(_ context.Context, r *model.Relationship) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveRelationshipCalls++
	cp := *r
	f.rels[relKey(r.ClientID, r.OtherClientID)] = &cp
	return nil
}

func (f *fakeStore) GetRelationship(_ context.Context, clientID, otherClientID string) (*model.Relationship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rels[relKey(clientID, otherClientID)]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) FindRelationshipsByClientID(_ context.Context, clientID string) ([]*model.Relationship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Relationship
	for _, r := range f.rels {
		if r.ClientID == clientID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sortRels(out)
	return out, nil
}

func (f *fakeStore) FindRelationshipsByOtherClientID(_ context.Context, otherClientID string) ([]*model.Relationship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Relationship
	for _, r := range f.rels {
		if r.OtherClientID == otherClientID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sortRels(out)
	return out, nil
}

func sortRels(rels []*model.Relationship) {
	sort.Slice(rels, func(i, j int) bool {
		if rels[i].ClientID != rels[j].ClientID {
			return rels[i].ClientID < rels[j].ClientID
		}
		return rels[i].OtherClientID < rels[j].OtherClientID
	})
}

func (f *fakeStore) SaveGroupPresence(_ context.Context, g *model.GroupPresence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *g
	f.groups[g.GroupID] = &cp
	return nil
}

func (f *fakeStore) GetGroupPresence(_ context.Context, groupID string) (*model.GroupPresence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[groupID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (f *fakeStore) SaveMembership(_ context.Context, m *model.GroupMembership) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveMembershipCalls++
	cp := *m
	f.mems[memKey(m.GroupID, m.ClientID)] = &cp
	return nil
}

func (f *fakeStore) GetMembership(_ context.Context, groupID, clientID string) (*model.GroupMembership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.mems[memKey(groupID, clientID)]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func stateIn(state string, states []string) bool {
	if len(states) == 0 {
		return true
	}
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}

func (f *fakeStore) FindMembershipsByGroupWithStates(_ context.Context, groupID string, states []string) ([]*model.GroupMembership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.GroupMembership
	for _, m := range f.mems {
		if m.GroupID == groupID && stateIn(m.State, states) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

func (f *fakeStore) FindMembershipsByClientWithStates(_ context.Context, clientID string, states []string) ([]*model.GroupMembership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.GroupMembership
	for _, m := range f.mems {
		if m.ClientID == clientID && stateIn(m.State, states) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out, nil
}

func (f *fakeStore) SaveDelivery(_ context.Context, d *model.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *d
	f.dels[delKey(d.MessageID, d.SenderID, d.ReceiverID)] = &cp
	return nil
}

func (f *fakeStore) FindUnfinishedBySender(_ context.Context, senderID string) ([]*model.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Delivery
	for _, d := range f.dels {
		if d.SenderID == senderID && !d.IsFinished() {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	return out, nil
}

func (f *fakeStore) FindUnfinishedByReceiver(_ context.Context, receiverID string) ([]*model.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Delivery
	for _, d := range f.dels {
		if d.ReceiverID == receiverID && !d.IsFinished() {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	return out, nil
}

func (f *fakeStore) DeleteMessagesBySender(_ context.Context, senderID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id, m := range f.msgs {
		if m.SenderID == senderID {
			delete(f.msgs, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) SaveKey(_ context.Context, k *model.Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *k
	f.keys[pubKeyKey(k.ClientID, k.KeyID)] = &cp
	return nil
}

func (f *fakeStore) GetKey(_ context.Context, clientID, keyID string) (*model.Key, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.keys[pubKeyKey(clientID, keyID)]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (f *fakeStore) DeleteKeysByClient(_ context.Context, clientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, k := range f.keys {
		if k.ClientID == clientID {
			delete(f.keys, id)
		}
	}
	return nil
}

func (f *fakeStore) SaveToken(_ context.Context, t *model.PairingToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *t
	f.tokens[t.TokenID] = &cp
	return nil
}

func (f *fakeStore) GetToken(_ context.Context, tokenID string) (*model.PairingToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[tokenID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) MarkTokenUse(_ context.Context, tokenID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[tokenID]
	if !ok {
		return errs.ErrNotFound
	}
	t.UseCount++
	return nil
}

func (f *fakeStore) DeleteTokensByClient(_ context.Context, clientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, t := range f.tokens {
		if t.ClientID == clientID {
			delete(f.tokens, id)
		}
	}
	return nil
}

func (f *fakeStore) DeleteEnvironmentsByClient(_ context.Context, clientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.envs, clientID)
	return nil
}

// fakeRPC records server-to-client calls.
type fakeRPC struct {
	mu sync.Mutex

	presenceUpdated     []*model.Presence
	presenceModified    []*model.Presence
	relationshipUpdated []*model.Relationship
	groupUpdated        []*model.GroupPresence
	memberUpdated       []*model.GroupMembership
	alerts              []string

	pushErr error // returned by all notification pushes when set

	wrapFn    func(groupID, sharedKeyID, salt string, clientIDs, publicKeyIDs []string) ([]string, error)
	wrapCalls [][]string // recorded clientIDs per call
}

var _ registry.ClientRPC = (*fakeRPC)(nil)

func (f *fakeRPC) PresenceUpdated(_ context.Context, p *model.Presence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	cp := *p
	f.presenceUpdated = append(f.presenceUpdated, &cp)
	return nil
}

func (f *fakeRPC) PresenceModified(_ context.Context, p *model.Presence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	cp := *p
	f.presenceModified = append(f.presenceModified, &cp)
	return nil
}

func (f *fakeRPC) RelationshipUpdated(_ context.Context, r *model.Relationship) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	cp := *r
	f.relationshipUpdated = append(f.relationshipUpdated, &cp)
	return nil
}

func (f *fakeRPC) GroupUpdated(_ context.Context, g *model.GroupPresence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	cp := *g
	f.groupUpdated = append(f.groupUpdated, &cp)
	return nil
}

func (f *fakeRPC) GroupMemberUpdated(_ context.Context, m *model.GroupMembership) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	cp := *m
	f.memberUpdated = append(f.memberUpdated, &cp)
	return nil
}

func (f *fakeRPC) AlertUser(_ context.Context, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, message)
	return nil
}

func (f *fakeRPC) SettingsChanged(_ context.Context, _, _, _ string) error { return nil }

func (f *fakeRPC) GetEncryptedGroupKeys(_ context.Context, groupID, sharedKeyID, salt string, clientIDs, publicKeyIDs []string) ([]string, error) {
	f.mu.Lock()
	fn := f.wrapFn
	f.wrapCalls = append(f.wrapCalls, append([]string(nil), clientIDs...))
	f.mu.Unlock()
	if fn == nil {
		return nil, errs.ErrNotConnected
	}
	return fn(groupID, sharedKeyID, salt, clientIDs, publicKeyIDs)
}

func (f *fakeRPC) memberUpdates() []*model.GroupMembership {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.GroupMembership(nil), f.memberUpdated...)
}

// fakeConn is a live connection stand-in with adjustable latency and penalty.
type fakeConn struct {
	id        string
	rpc       *fakeRPC
	connected bool
	loggedIn  bool
	latency   time.Duration

	mu      sync.Mutex
	penalty time.Duration
	closed  bool
}

var _ registry.Connection = (*fakeConn)(nil)

func (f *fakeConn) ClientID() string           { return f.id }
func (f *fakeConn) IsConnected() bool          { return f.connected }
func (f *fakeConn) IsLoggedIn() bool           { return f.loggedIn }
func (f *fakeConn) RPC() registry.ClientRPC    { return f.rpc }
func (f *fakeConn) PingLatency() time.Duration { return f.latency }

func (f *fakeConn) PriorityPenalty() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.penalty
}

func (f *fakeConn) Penalize(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.penalty += d
}

func (f *fakeConn) ResetPenalty() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.penalty = 0
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) wasClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeFileCache records purge calls.
type fakeFileCache struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeFileCache) DeleteAccount(_ context.Context, clientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, clientID)
	return nil
}

// harness bundles the agent with its fakes.
type harness struct {
	store *fakeStore
	reg   *registry.Memory
	disp  *batch.Dispatcher
	files *fakeFileCache
	agent *Agent
}

func newHarness(cfg Config) *harness {
	store := newFakeStore()
	reg := registry.NewMemory()
	disp := batch.NewDispatcher(zap.NewNop(), 2, 64)
	files := &fakeFileCache{}
	agent := NewAgent(Deps{
		Clients:       store,
		Presences:     store,
		Relationships: store,
		Groups:        store,
		Deliveries:    store,
		Keys:          store,
		Registry:      reg,
		Dispatcher:    disp,
		Locks:         locks.NewManager(),
		Files:         files,
		Log:           zap.NewNop(),
	}, cfg)
	return &harness{store: store, reg: reg, disp: disp, files: files, agent: agent}
}

// connect registers an online, logged-in fake connection for a client.
func (h *harness) connect(clientID string, latency time.Duration) *fakeConn {
	c := &fakeConn{
		id:        clientID,
		rpc:       &fakeRPC{},
		connected: true,
		loggedIn:  true,
		latency:   latency,
	}
	h.reg.Register(clientID, c)
	return c
}

// seedMember creates presence, public key and membership for one group member.
func (h *harness) seedMember(groupID, clientID, state, role, keyID string) *model.GroupMembership {
	ctx := context.Background()
	_ = h.store.SavePresence(ctx, &model.Presence{ClientID: clientID, KeyID: keyID, ConnectionStatus: model.StatusOffline})
	if keyID != "" {
		_ = h.store.SaveKey(ctx, &model.Key{ClientID: clientID, KeyID: keyID, PublicKey: "pem-" + clientID})
	}
	m := &model.GroupMembership{GroupID: groupID, ClientID: clientID, State: state, Role: role}
	_ = h.store.SaveMembership(ctx, m)
	return m
}

// grantCurrentKey stamps a member's copy with the group's current generation.
func (h *harness) grantCurrentKey(groupID, clientID, keyID string) {
	ctx := context.Background()
	g, _ := h.store.GetGroupPresence(ctx, groupID)
	m, _ := h.store.GetMembership(ctx, groupID, clientID)
	m.SetGroupKey(g.SharedKeyID, g.SharedKeyIDSalt, keyID, "wrapped-"+clientID, "seed", time.Now())
	_ = h.store.SaveMembership(ctx, m)
}

func hasWrapCallFor(rpc *fakeRPC, ids ...string) bool {
	rpc.mu.Lock()
	defer rpc.mu.Unlock()
	want := strings.Join(ids, ",")
	for _, call := range rpc.wrapCalls {
		if strings.Join(call, ",") == want {
			return true
		}
	}
	return false
}
