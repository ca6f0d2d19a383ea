package update

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/talkmesh/internal/errs"
	"github.com/and161185/talkmesh/internal/model"
	"github.com/and161185/talkmesh/internal/registry"
)

// membershipActiveStates are the states of members currently belonging to a
// group.
var membershipActiveStates = []string{
	model.MembershipInvited,
	model.MembershipJoined,
	model.MembershipSuspended,
}

// membershipInvolvedStates additionally include removed members, so they
// still hear about their own removal.
var membershipInvolvedStates = []string{
	model.MembershipInvited,
	model.MembershipJoined,
	model.MembershipSuspended,
	model.MembershipGroupRemoved,
}

// liveConnection returns the client's connection when it is ready for
// server-initiated calls.
func (a *Agent) liveConnection(clientID string) (registry.Connection, bool) {
	conn, ok := a.reg.ConnectionFor(clientID)
	if !ok || !conn.IsConnected() || !conn.IsLoggedIn() {
		return nil, false
	}
	return conn, true
}

// refreshConnectionStatus reconciles a presence snapshot with the live
// registry and persists it when the stored status went stale.
func (a *Agent) refreshConnectionStatus(ctx context.Context, p *model.Presence) error {
	want := p.ConnectionStatus
	if _, ok := a.liveConnection(p.ClientID); ok {
		if want == "" || want == model.StatusOffline {
			want = model.StatusOnline
		}
	} else {
		want = model.StatusOffline
	}
	if want == p.ConnectionStatus {
		return nil
	}
	p.ConnectionStatus = want
	p.Timestamp = time.Now()
	return a.presences.SavePresence(ctx, p)
}

// presenceRecipients computes the interested-party set for a presence change:
// clients holding a related edge towards the subject, co-members of shared
// groups, and peers of unfinished deliveries. The subject itself is excluded.
func (a *Agent) presenceRecipients(ctx context.Context, clientID string) (map[string]struct{}, error) {
	set := make(map[string]struct{})

	rels, err := a.rels.FindRelationshipsByOtherClientID(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("load reverse relationships: %w", err)
	}
	for _, r := range rels {
		if r.IsRelated() {
			set[r.ClientID] = struct{}{}
		}
	}

	mems, err := a.groups.FindMembershipsByClientWithStates(ctx, clientID, membershipActiveStates)
	if err != nil {
		return nil, fmt.Errorf("load memberships: %w", err)
	}
	for _, m := range mems {
		others, err := a.groups.FindMembershipsByGroupWithStates(ctx, m.GroupID, membershipActiveStates)
		if err != nil {
			return nil, fmt.Errorf("load group %s members: %w", m.GroupID, err)
		}
		for _, o := range others {
			set[o.ClientID] = struct{}{}
		}
	}

	outs, err := a.deliveries.FindUnfinishedBySender(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("load outgoing deliveries: %w", err)
	}
	for _, d := range outs {
		set[d.ReceiverID] = struct{}{}
	}
	ins, err := a.deliveries.FindUnfinishedByReceiver(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("load incoming deliveries: %w", err)
	}
	for _, d := range ins {
		set[d.SenderID] = struct{}{}
	}

	delete(set, clientID)
	return set, nil
}

// pushPresence fans a presence change out to all interested connected
// clients. Disconnected recipients and per-recipient RPC failures are
// tolerated silently.
func (a *Agent) pushPresence(ctx context.Context, clientID string, changedFields []string) error {
	p, err := a.presences.GetPresenceByClientID(ctx, clientID)
	if err != nil {
		return fmt.Errorf("load presence %s: %w", clientID, err)
	}
	if err := a.refreshConnectionStatus(ctx, p); err != nil {
		return fmt.Errorf("refresh connection status %s: %w", clientID, err)
	}

	recipients, err := a.presenceRecipients(ctx, clientID)
	if err != nil {
		return err
	}

	var filtered *model.Presence
	if len(changedFields) > 0 {
		filtered = p.FilteredCopy(changedFields)
	}
	for id := range recipients {
		conn, ok := a.liveConnection(id)
		if !ok {
			continue
		}
		var pushErr error
		if filtered != nil {
			pushErr = conn.RPC().PresenceModified(ctx, filtered)
		} else {
			pushErr = conn.RPC().PresenceUpdated(ctx, p)
		}
		if pushErr != nil {
			a.log.Debug("presence push failed",
				zap.String("client", clientID),
				zap.String("recipient", id),
				zap.Error(pushErr))
		}
	}
	return nil
}

// pushRelationship notifies only the edge's owning client; the mirror edge is
// a separate record pushed on its own trigger.
func (a *Agent) pushRelationship(ctx context.Context, r *model.Relationship) {
	conn, ok := a.liveConnection(r.ClientID)
	if !ok {
		return
	}
	if err := conn.RPC().RelationshipUpdated(ctx, r); err != nil {
		a.log.Debug("relationship push failed",
			zap.String("client", r.ClientID),
			zap.String("other", r.OtherClientID),
			zap.Error(err))
	}
}

// pushGroup notifies one client, or every involved member when clientID is
// empty, about a group presence change.
func (a *Agent) pushGroup(ctx context.Context, groupID, clientID string) error {
	g, err := a.groups.GetGroupPresence(ctx, groupID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return fmt.Errorf("group %s has no presence record: %w", groupID, errs.ErrDataIntegrity)
		}
		return fmt.Errorf("load group %s: %w", groupID, err)
	}

	notify := func(id string) {
		conn, ok := a.liveConnection(id)
		if !ok {
			return
		}
		if err := conn.RPC().GroupUpdated(ctx, g); err != nil {
			a.log.Debug("group push failed",
				zap.String("group", groupID),
				zap.String("recipient", id),
				zap.Error(err))
		}
	}

	if clientID != "" {
		notify(clientID)
		return nil
	}
	mems, err := a.groups.FindMembershipsByGroupWithStates(ctx, groupID, membershipInvolvedStates)
	if err != nil {
		return fmt.Errorf("load group %s members: %w", groupID, err)
	}
	for _, m := range mems {
		notify(m.ClientID)
	}
	return nil
}

// pushMembership sends a membership's own unredacted record to its client.
func (a *Agent) pushMembership(ctx context.Context, m *model.GroupMembership) {
	conn, ok := a.liveConnection(m.ClientID)
	if !ok {
		return
	}
	if err := conn.RPC().GroupMemberUpdated(ctx, m); err != nil {
		a.log.Debug("membership push failed",
			zap.String("group", m.GroupID),
			zap.String("client", m.ClientID),
			zap.Error(err))
	}
}

// pushMembershipDerived re-derives the membership, sends the subject its
// unredacted record and everyone else a redacted copy, then re-evaluates key
// currency for the group if anyone was notified. A membership-state change is
// the trigger for key reconciliation.
func (a *Agent) pushMembershipDerived(ctx context.Context, groupID, clientID string) error {
	m, err := a.groups.GetMembership(ctx, groupID, clientID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return fmt.Errorf("membership %s/%s missing: %w", groupID, clientID, errs.ErrDataIntegrity)
		}
		return fmt.Errorf("load membership %s/%s: %w", groupID, clientID, err)
	}
	foreign := m.RedactedForForeignView()

	mems, err := a.groups.FindMembershipsByGroupWithStates(ctx, groupID, membershipInvolvedStates)
	if err != nil {
		return fmt.Errorf("load group %s members: %w", groupID, err)
	}
	notified := false
	for _, rec := range mems {
		conn, ok := a.liveConnection(rec.ClientID)
		if !ok {
			continue
		}
		payload := foreign
		if rec.ClientID == clientID {
			payload = m
		}
		if err := conn.RPC().GroupMemberUpdated(ctx, payload); err != nil {
			a.log.Debug("membership push failed",
				zap.String("group", groupID),
				zap.String("recipient", rec.ClientID),
				zap.Error(err))
			continue
		}
		notified = true
	}
	if notified {
		return a.reconcile(ctx, groupID)
	}
	return nil
}

// pushRosterToNewMember sends the new member a redacted snapshot of every
// other active membership so it can render the roster without learning keys
// it has not been granted yet.
func (a *Agent) pushRosterToNewMember(ctx context.Context, groupID, newClientID string) error {
	conn, ok := a.liveConnection(newClientID)
	if !ok {
		return nil
	}
	mems, err := a.groups.FindMembershipsByGroupWithStates(ctx, groupID, membershipActiveStates)
	if err != nil {
		return fmt.Errorf("load group %s members: %w", groupID, err)
	}
	for _, m := range mems {
		if m.ClientID == newClientID {
			continue
		}
		if err := conn.RPC().GroupMemberUpdated(ctx, m.RedactedForForeignView()); err != nil {
			a.log.Debug("roster push failed",
				zap.String("group", groupID),
				zap.String("recipient", newClientID),
				zap.Error(err))
		}
	}
	return nil
}
