package update

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/and161185/talkmesh/internal/errs"
	"github.com/and161185/talkmesh/internal/locks"
	"github.com/and161185/talkmesh/internal/model"
	"github.com/and161185/talkmesh/internal/registry"
)

// keyMember is one active membership annotated with what keymaster selection
// needs to know about it.
type keyMember struct {
	membership *model.GroupMembership
	keyID      string // the member's current public key id
	conn       registry.Connection
	current    bool
}

func effectiveLatency(c registry.Connection) time.Duration {
	return c.PingLatency() + c.PriorityPenalty()
}

// reconcile brings every active membership of the group up to the current key
// generation. Serialized per group by the lock table; when the lock is
// contended and somebody else is already queued, this run is redundant with
// theirs and abandons.
func (a *Agent) reconcile(ctx context.Context, groupID string) error {
	l := a.locks.Acquire(locks.KindGroupKey, groupID)
	defer a.locks.Release(l)
	if !l.TryLock() {
		if l.Waiters() > 0 {
			a.log.Debug("group key check abandoned, concurrent run pending",
				zap.String("group", groupID))
			return nil
		}
		l.Lock()
	}
	defer l.Unlock()

	backoff := retry.WithMaxRetries(a.cfg.RekeyRetries, retry.NewExponential(a.cfg.RekeyBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		return a.reconcileOnce(ctx, groupID)
	})
	if errors.Is(err, errs.ErrNoCandidate) {
		// retried on the next triggering event
		a.log.Warn("no reachable keymaster candidate", zap.String("group", groupID))
		return nil
	}
	return err
}

// reconcileOnce runs one full partition/select/request/commit pass. Transient
// failures come back wrapped as retryable so the caller's backoff re-runs the
// whole pass, including keymaster selection.
func (a *Agent) reconcileOnce(ctx context.Context, groupID string) error {
	g, err := a.groups.GetGroupPresence(ctx, groupID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return fmt.Errorf("group %s has no presence record: %w", groupID, errs.ErrDataIntegrity)
		}
		return retry.RetryableError(fmt.Errorf("load group %s: %w", groupID, err))
	}
	if g.State == model.GroupDeleted {
		return nil
	}

	mems, err := a.groups.FindMembershipsByGroupWithStates(ctx, groupID, membershipActiveStates)
	if err != nil {
		return retry.RetryableError(fmt.Errorf("load group %s members: %w", groupID, err))
	}

	var (
		outOfDate  []*keyMember
		withKey    []*keyMember
		withoutKey []*keyMember
	)
	for _, m := range mems {
		p, err := a.presences.GetPresenceByClientID(ctx, m.ClientID)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				continue
			}
			return retry.RetryableError(fmt.Errorf("load presence %s: %w", m.ClientID, err))
		}
		if p.KeyID == "" {
			// no published key, nothing to wrap for
			continue
		}
		if _, err := a.keys.GetKey(ctx, m.ClientID, p.KeyID); err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				continue
			}
			return retry.RetryableError(fmt.Errorf("load key %s/%s: %w", m.ClientID, p.KeyID, err))
		}

		km := &keyMember{membership: m, keyID: p.KeyID, current: m.IsKeyCurrent(g, p.KeyID)}
		if !km.current {
			outOfDate = append(outOfDate, km)
		}
		if conn, ok := a.liveConnection(m.ClientID); ok {
			km.conn = conn
			if km.current {
				withKey = append(withKey, km)
			} else {
				withoutKey = append(withoutKey, km)
			}
		}
	}
	if len(outOfDate) == 0 {
		return nil
	}

	keymaster := a.selectKeymaster(withKey, withoutKey)
	if keymaster == nil {
		return errs.ErrNoCandidate
	}

	// A keymaster that already holds the current key re-wraps it; otherwise a
	// brand-new key is minted and the group's generation rotates.
	renew := !g.HasKey() || !keymaster.current
	reqKeyID, reqSalt := g.SharedKeyID, g.SharedKeyIDSalt
	if renew {
		reqKeyID, reqSalt = model.SharedKeyIDRenew, model.SharedKeyIDSaltRenew
	}

	clientIDs := make([]string, len(outOfDate))
	publicKeyIDs := make([]string, len(outOfDate))
	for i, km := range outOfDate {
		clientIDs[i] = km.membership.ClientID
		publicKeyIDs[i] = km.keyID
	}

	keymasterID := keymaster.membership.ClientID
	resp, err := keymaster.conn.RPC().GetEncryptedGroupKeys(ctx, groupID, reqKeyID, reqSalt, clientIDs, publicKeyIDs)
	if err != nil {
		keymaster.conn.Penalize(a.cfg.KeymasterPenalty)
		return retry.RetryableError(fmt.Errorf("key wrap by %s: %w", keymasterID, err))
	}

	want := len(outOfDate)
	if renew {
		want += 2 // trailing new sharedKeyId and salt
	}
	if len(resp) != want {
		keymaster.conn.Penalize(a.cfg.KeymasterPenalty)
		return retry.RetryableError(fmt.Errorf("key wrap by %s: got %d entries, want %d: %w",
			keymasterID, len(resp), want, errs.ErrInvalidKeyResponse))
	}

	now := time.Now()
	newKeyID, newSalt := g.SharedKeyID, g.SharedKeyIDSalt
	if renew {
		newKeyID, newSalt = resp[len(resp)-2], resp[len(resp)-1]
		if newKeyID == "" || newSalt == "" {
			keymaster.conn.Penalize(a.cfg.KeymasterPenalty)
			return retry.RetryableError(fmt.Errorf("key wrap by %s: empty generation: %w",
				keymasterID, errs.ErrInvalidKeyResponse))
		}
		g.SharedKeyID = newKeyID
		g.SharedKeyIDSalt = newSalt
		g.KeySupplier = keymasterID
		g.LastChanged = now
		if err := a.groups.SaveGroupPresence(ctx, g); err != nil {
			return retry.RetryableError(fmt.Errorf("save group %s: %w", groupID, err))
		}
	}

	for i, km := range outOfDate {
		m := km.membership
		m.SetGroupKey(newKeyID, newSalt, km.keyID, resp[i], keymasterID, now)
		if err := a.groups.SaveMembership(ctx, m); err != nil {
			return retry.RetryableError(fmt.Errorf("save membership %s/%s: %w", groupID, m.ClientID, err))
		}
		// the keymaster already has the material locally
		if m.ClientID != keymasterID {
			a.pushMembership(ctx, m)
		}
	}
	keymaster.conn.ResetPenalty()
	a.log.Info("group rekeyed",
		zap.String("group", groupID),
		zap.String("keymaster", keymasterID),
		zap.Bool("renewed", renew),
		zap.Int("members", len(outOfDate)))
	return nil
}

// selectKeymaster prefers the lowest-latency candidate that already holds the
// current key; only when none qualifies under the latency threshold does it
// accept the cost of minting (and thus rotating) a brand-new key.
func (a *Agent) selectKeymaster(withKey, withoutKey []*keyMember) *keyMember {
	if km := bestUnder(withKey, a.cfg.KeymasterLatencyMax); km != nil {
		return km
	}
	return bestUnder(withoutKey, a.cfg.KeymasterLatencyMax)
}

func bestUnder(candidates []*keyMember, max time.Duration) *keyMember {
	var best *keyMember
	var bestLatency time.Duration
	for _, km := range candidates {
		lat := effectiveLatency(km.conn)
		if lat > max {
			continue
		}
		if best == nil || lat < bestLatency {
			best, bestLatency = km, lat
		}
	}
	return best
}
