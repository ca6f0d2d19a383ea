// Package update propagates presence, relationship and group-membership
// changes to connected clients and keeps every group member in possession of
// a current, per-member-encrypted group key.
package update

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/talkmesh/internal/batch"
	"github.com/and161185/talkmesh/internal/locks"
	"github.com/and161185/talkmesh/internal/model"
	"github.com/and161185/talkmesh/internal/registry"
	"github.com/and161185/talkmesh/internal/repository"
)

// FileCache is the external blob service holding a client's attachments;
// notified when an account is purged.
type FileCache interface {
	DeleteAccount(ctx context.Context, clientID string) error
}

// Config tunes keymaster selection and the rekey retry policy.
type Config struct {
	// KeymasterLatencyMax disqualifies candidates above this effective latency.
	KeymasterLatencyMax time.Duration
	// KeymasterPenalty is added to a keymaster's selection priority after a
	// failed key-wrap attempt.
	KeymasterPenalty time.Duration
	// RekeyRetries bounds retry attempts after the initial reconciliation.
	RekeyRetries uint64
	// RekeyBackoff is the base of the exponential retry backoff.
	RekeyBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.KeymasterLatencyMax <= 0 {
		c.KeymasterLatencyMax = 10 * time.Second
	}
	if c.KeymasterPenalty <= 0 {
		c.KeymasterPenalty = 5 * time.Second
	}
	if c.RekeyRetries == 0 {
		c.RekeyRetries = 4
	}
	if c.RekeyBackoff <= 0 {
		c.RekeyBackoff = 500 * time.Millisecond
	}
	return c
}

// Deps collects the agent's collaborators.
type Deps struct {
	Clients       repository.ClientRepository
	Presences     repository.PresenceRepository
	Relationships repository.RelationshipRepository
	Groups        repository.GroupRepository
	Deliveries    repository.DeliveryRepository
	Keys          repository.KeyRepository

	Registry   registry.Registry
	Dispatcher *batch.Dispatcher
	Locks      *locks.Manager
	Files      FileCache
	Log        *zap.Logger
}

// Agent is the update engine. All exported On*/Delete operations schedule
// work on the dispatcher and return immediately; the push and reconcile
// internals run on the worker pool.
type Agent struct {
	clients    repository.ClientRepository
	presences  repository.PresenceRepository
	rels       repository.RelationshipRepository
	groups     repository.GroupRepository
	deliveries repository.DeliveryRepository
	keys       repository.KeyRepository

	reg   registry.Registry
	disp  *batch.Dispatcher
	locks *locks.Manager
	files FileCache
	log   *zap.Logger
	cfg   Config
}

// NewAgent constructs the update engine.
func NewAgent(deps Deps, cfg Config) *Agent {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Agent{
		clients:    deps.Clients,
		presences:  deps.Presences,
		rels:       deps.Relationships,
		groups:     deps.Groups,
		deliveries: deps.Deliveries,
		keys:       deps.Keys,
		reg:        deps.Registry,
		disp:       deps.Dispatcher,
		locks:      deps.Locks,
		files:      deps.Files,
		log:        log,
		cfg:        cfg.withDefaults(),
	}
}

// BeginBatch opens a request-scoped notification batch on the context.
func (a *Agent) BeginBatch(ctx context.Context) (context.Context, *batch.Batch) {
	return batch.NewBatch(ctx)
}

// EndBatch flushes a batch once the triggering request has committed.
func (a *Agent) EndBatch(b *batch.Batch) {
	a.disp.Flush(b)
}

// OnPresenceChanged propagates a presence change. With changedFields a
// field-filtered copy is pushed via the modified variant instead of the full
// record.
func (a *Agent) OnPresenceChanged(ctx context.Context, clientID string, changedFields ...string) {
	a.disp.RunOrDefer(ctx, batch.Task{
		Name: "pushPresence/" + clientID,
		Do: func(ctx context.Context) error {
			return a.pushPresence(ctx, clientID, changedFields)
		},
	})
}

// OnRelationshipChanged propagates one direction of a relationship edge to
// its owning client.
func (a *Agent) OnRelationshipChanged(ctx context.Context, rel *model.Relationship) {
	r := *rel
	a.disp.RunOrDefer(ctx, batch.Task{
		Name: "pushRelationship/" + r.ClientID,
		Do: func(ctx context.Context) error {
			a.pushRelationship(ctx, &r)
			return nil
		},
	})
}

// OnGroupPresenceChanged propagates a group presence change to every involved
// member.
func (a *Agent) OnGroupPresenceChanged(ctx context.Context, groupID string) {
	a.disp.RunOrDefer(ctx, batch.Task{
		Name: "pushGroup/" + groupID,
		Do: func(ctx context.Context) error {
			return a.pushGroup(ctx, groupID, "")
		},
	})
}

// OnGroupPresenceChangedForClient propagates a group presence change to one
// client only.
func (a *Agent) OnGroupPresenceChangedForClient(ctx context.Context, groupID, clientID string) {
	a.disp.RunOrDefer(ctx, batch.Task{
		Name: "pushGroup/" + groupID + "/" + clientID,
		Do: func(ctx context.Context) error {
			return a.pushGroup(ctx, groupID, clientID)
		},
	})
}

// OnGroupMembershipChanged re-derives a membership, notifies every involved
// member (foreign recipients get a redacted copy) and re-evaluates group key
// currency.
func (a *Agent) OnGroupMembershipChanged(ctx context.Context, groupID, clientID string) {
	a.disp.RunOrDefer(ctx, batch.Task{
		Name: "pushGroupMembership/" + groupID + "/" + clientID,
		Do: func(ctx context.Context) error {
			return a.pushMembershipDerived(ctx, groupID, clientID)
		},
	})
}

// OnNewGroupMember sends the new member a redacted snapshot of the group
// roster.
func (a *Agent) OnNewGroupMember(ctx context.Context, groupID, newClientID string) {
	a.disp.RunOrDefer(ctx, batch.Task{
		Name: "pushGroupRoster/" + groupID + "/" + newClientID,
		Do: func(ctx context.Context) error {
			return a.pushRosterToNewMember(ctx, groupID, newClientID)
		},
	})
}

// ReconcileGroupKeys re-evaluates group key currency and rekeys stale members.
func (a *Agent) ReconcileGroupKeys(ctx context.Context, groupID string) {
	a.disp.RunOrDefer(ctx, batch.Task{
		Name: "groupKeyCheck/" + groupID,
		Do: func(ctx context.Context) error {
			return a.reconcile(ctx, groupID)
		},
	})
}

// DeleteAccount runs the account deletion cascade for the client.
func (a *Agent) DeleteAccount(ctx context.Context, clientID string) {
	a.disp.RunOrDefer(ctx, batch.Task{
		Name: "deleteAccount/" + clientID,
		Do: func(ctx context.Context) error {
			return a.deleteAccount(ctx, clientID)
		},
	})
}
