package update

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/talkmesh/internal/errs"
	"github.com/and161185/talkmesh/internal/locks"
	"github.com/and161185/talkmesh/internal/model"
)

// deletionStatus is written into the scrubbed presence of a deleted account.
const deletionStatus = "account deleted"

// deleteAccount walks all state referencing the client and either purges it
// or marks it deleted. Partial failures are logged and the cascade continues:
// database consistency matters more than perfect bookkeeping.
func (a *Agent) deleteAccount(ctx context.Context, clientID string) error {
	log := a.log.With(zap.String("client", clientID))
	now := time.Now()

	// 1. force the live connection closed
	if conn, ok := a.reg.ConnectionFor(clientID); ok {
		_ = conn.Close()
	}

	// acquaintances counts relationships and memberships still referencing
	// the client; a non-zero count defers the purge.
	acquaintances := 0

	// 2./3. group memberships
	mems, err := a.groups.FindMembershipsByClientWithStates(ctx, clientID, nil)
	if err != nil {
		return fmt.Errorf("load memberships: %w", err)
	}
	for _, m := range mems {
		if !m.IsInvolved() {
			continue
		}
		if m.IsAdmin() {
			if err := a.dissolveGroup(ctx, m.GroupID, clientID, now, &acquaintances); err != nil {
				log.Warn("group dissolution incomplete",
					zap.String("group", m.GroupID), zap.Error(err))
			}
		}
		changed, err := a.removeMembership(ctx, m, model.MembershipNone, now)
		if err != nil {
			log.Warn("membership removal failed",
				zap.String("group", m.GroupID), zap.Error(err))
			continue
		}
		if changed {
			acquaintances++
		}
	}

	// 4. relationships, both directions, nullified pairwise under the
	// two-client lock
	out, err := a.rels.FindRelationshipsByClientID(ctx, clientID)
	if err != nil {
		return fmt.Errorf("load relationships: %w", err)
	}
	in, err := a.rels.FindRelationshipsByOtherClientID(ctx, clientID)
	if err != nil {
		return fmt.Errorf("load reverse relationships: %w", err)
	}
	if len(out) != len(in) {
		log.Warn("relationship records not symmetric",
			zap.Int("outgoing", len(out)), zap.Int("incoming", len(in)))
	}
	others := make(map[string]struct{})
	for _, r := range out {
		others[r.OtherClientID] = struct{}{}
	}
	for _, r := range in {
		others[r.ClientID] = struct{}{}
	}
	for otherID := range others {
		changed, err := a.nullifyRelationshipPair(ctx, clientID, otherID)
		if err != nil {
			log.Warn("relationship nullification failed",
				zap.String("other", otherID), zap.Error(err))
			continue
		}
		if changed {
			acquaintances++
		}
	}

	// 5. scrub the presence
	if p, err := a.presences.GetPresenceByClientID(ctx, clientID); err == nil {
		p.AvatarURL = ""
		p.ClientStatus = deletionStatus
		p.ConnectionStatus = model.StatusOffline
		p.Timestamp = now
		if err := a.presences.SavePresence(ctx, p); err != nil {
			log.Warn("presence scrub failed", zap.Error(err))
		}
	} else if !errors.Is(err, errs.ErrNotFound) {
		log.Warn("presence load failed", zap.Error(err))
	}

	// 6. finish off pending deliveries
	if outs, err := a.deliveries.FindUnfinishedBySender(ctx, clientID); err != nil {
		log.Warn("outgoing deliveries load failed", zap.Error(err))
	} else {
		for _, d := range outs {
			d.State = model.DeliveryExpired
			d.TimeChanged = now
			if err := a.deliveries.SaveDelivery(ctx, d); err != nil {
				log.Warn("delivery expiry failed",
					zap.String("message", d.MessageID), zap.Error(err))
			}
		}
	}
	if ins, err := a.deliveries.FindUnfinishedByReceiver(ctx, clientID); err != nil {
		log.Warn("incoming deliveries load failed", zap.Error(err))
	} else {
		for _, d := range ins {
			if d.IsInFlight() {
				d.State = model.DeliveryRejected
			} else {
				d.State = model.DeliveryExpired
			}
			d.TimeChanged = now
			if err := a.deliveries.SaveDelivery(ctx, d); err != nil {
				log.Warn("delivery rejection failed",
					zap.String("message", d.MessageID), zap.Error(err))
			}
		}
	}

	// 7. authored messages are not retained
	if n, err := a.deliveries.DeleteMessagesBySender(ctx, clientID); err != nil {
		log.Warn("message purge failed", zap.Error(err))
	} else if n > 0 {
		log.Info("messages purged", zap.Int("count", n))
	}

	// 8. keys, tokens, environment records
	if err := a.keys.DeleteKeysByClient(ctx, clientID); err != nil {
		log.Warn("key purge failed", zap.Error(err))
	}
	if err := a.keys.DeleteTokensByClient(ctx, clientID); err != nil {
		log.Warn("token purge failed", zap.Error(err))
	}
	if err := a.keys.DeleteEnvironmentsByClient(ctx, clientID); err != nil {
		log.Warn("environment purge failed", zap.Error(err))
	}

	// 9. purge now or retain marked-deleted until the last acquaintance is gone
	c, err := a.clients.GetClientByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			log.Warn("client record already gone")
			return nil
		}
		return fmt.Errorf("load client: %w", err)
	}
	if acquaintances == 0 {
		if err := a.presences.DeletePresence(ctx, clientID); err != nil && !errors.Is(err, errs.ErrNotFound) {
			log.Warn("presence purge failed", zap.Error(err))
		}
		if err := a.clients.DeleteHostInfo(ctx, clientID); err != nil && !errors.Is(err, errs.ErrNotFound) {
			log.Warn("host info purge failed", zap.Error(err))
		}
		if err := a.clients.DeleteClient(ctx, clientID); err != nil {
			return fmt.Errorf("purge client: %w", err)
		}
		if a.files != nil {
			if err := a.files.DeleteAccount(ctx, clientID); err != nil {
				log.Warn("file cache purge failed", zap.Error(err))
			}
		}
		log.Info("account purged")
		return nil
	}

	if err := a.clients.DeleteClient(ctx, clientID); err != nil && !errors.Is(err, errs.ErrNotFound) {
		log.Warn("client record swap failed", zap.Error(err))
	}
	c.MarkDeleted()
	if err := a.clients.SaveClient(ctx, c); err != nil {
		return fmt.Errorf("mark client deleted: %w", err)
	}
	log.Info("account marked deleted", zap.Int("acquaintances", acquaintances))
	return nil
}

// dissolveGroup marks the admin's group deleted, fans that out, and removes
// every other involved member.
func (a *Agent) dissolveGroup(ctx context.Context, groupID, adminID string, now time.Time, acquaintances *int) error {
	g, err := a.groups.GetGroupPresence(ctx, groupID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return fmt.Errorf("group %s has no presence record: %w", groupID, errs.ErrDataIntegrity)
		}
		return fmt.Errorf("load group %s: %w", groupID, err)
	}
	g.State = model.GroupDeleted
	g.LastChanged = now
	if err := a.groups.SaveGroupPresence(ctx, g); err != nil {
		return fmt.Errorf("save group %s: %w", groupID, err)
	}
	if err := a.pushGroup(ctx, groupID, ""); err != nil {
		a.log.Warn("group deletion fan-out failed",
			zap.String("group", groupID), zap.Error(err))
	}

	others, err := a.groups.FindMembershipsByGroupWithStates(ctx, groupID, membershipActiveStates)
	if err != nil {
		return fmt.Errorf("load group %s members: %w", groupID, err)
	}
	for _, o := range others {
		if o.ClientID == adminID {
			continue
		}
		changed, err := a.removeMembership(ctx, o, model.MembershipGroupRemoved, now)
		if err != nil {
			a.log.Warn("member removal failed",
				zap.String("group", groupID),
				zap.String("member", o.ClientID),
				zap.Error(err))
			continue
		}
		if changed {
			*acquaintances++
		}
	}
	return nil
}

// removeMembership moves a membership to the target state, degrades the role,
// discards the member's key material and fans the change out. No-op when the
// membership is already there.
func (a *Agent) removeMembership(ctx context.Context, m *model.GroupMembership, targetState string, now time.Time) (bool, error) {
	if m.State == targetState && m.Role == model.RoleNone {
		return false, nil
	}
	m.State = targetState
	m.Role = model.RoleNone
	m.ClearGroupKey(now)
	if err := a.groups.SaveMembership(ctx, m); err != nil {
		return false, fmt.Errorf("save membership %s/%s: %w", m.GroupID, m.ClientID, err)
	}
	if err := a.pushMembershipDerived(ctx, m.GroupID, m.ClientID); err != nil {
		a.log.Warn("membership removal fan-out failed",
			zap.String("group", m.GroupID),
			zap.String("member", m.ClientID),
			zap.Error(err))
	}
	return true, nil
}

// nullifyRelationshipPair clears both directions of the edge between two
// clients under the pair lock, so a concurrent nullification from the other
// side cannot race. Idempotent: an already nullified record is neither saved
// nor pushed again. Reports whether either direction actually changed.
func (a *Agent) nullifyRelationshipPair(ctx context.Context, clientID, otherID string) (bool, error) {
	l := a.locks.Acquire(locks.KindRelationship, locks.PairID(clientID, otherID))
	defer a.locks.Release(l)
	l.Lock()
	defer l.Unlock()

	now := time.Now()
	changed := false
	for _, pair := range [][2]string{{clientID, otherID}, {otherID, clientID}} {
		r, err := a.rels.GetRelationship(ctx, pair[0], pair[1])
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				continue
			}
			return changed, fmt.Errorf("load relationship %s->%s: %w", pair[0], pair[1], err)
		}
		if !r.Nullify(now) {
			continue
		}
		if err := a.rels.SaveRelationship(ctx, r); err != nil {
			return changed, fmt.Errorf("save relationship %s->%s: %w", pair[0], pair[1], err)
		}
		changed = true
		a.pushRelationship(ctx, r)
	}
	return changed, nil
}
