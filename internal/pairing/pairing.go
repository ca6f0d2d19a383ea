// Package pairing issues and redeems the one-time tokens that let two clients
// establish a relationship without an existing channel between them. Only the
// argon2id hash of a token secret is stored; the plaintext secret travels to
// the issuer once and never comes back to the server except for redemption.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/talkmesh/internal/crypto"
	"github.com/and161185/talkmesh/internal/errs"
	"github.com/and161185/talkmesh/internal/model"
	"github.com/and161185/talkmesh/internal/repository"
)

// notifier is the slice of the update engine the pairing flow drives: a
// relationship fan-out for each new edge.
type notifier interface {
	OnRelationshipChanged(ctx context.Context, rel *model.Relationship)
}

// Token is what the issuer receives: the id identifies the token, the secret
// must be passed to the redeeming party out of band.
type Token struct {
	TokenID string
	Secret  string
	Expiry  time.Time
}

// Service implements the pairing flows.
type Service struct {
	keys     repository.KeyRepository
	rels     repository.RelationshipRepository
	notifier notifier
}

func NewService(keys repository.KeyRepository, rels repository.RelationshipRepository, n notifier) *Service {
	return &Service{keys: keys, rels: rels, notifier: n}
}

// Issue mints a pairing token on behalf of clientID. maxUses <= 0 means
// unlimited redemptions until expiry; ttl <= 0 means no expiry.
func (s *Service) Issue(ctx context.Context, clientID, purpose string, maxUses int, ttl time.Duration) (*Token, error) {
	if purpose == "" {
		purpose = model.TokenPurposePairing
	}
	secret, err := crypto.NewTokenSecret()
	if err != nil {
		return nil, fmt.Errorf("mint secret: %w", err)
	}
	salt, err := crypto.RandBytes(crypto.SaltLen)
	if err != nil {
		return nil, fmt.Errorf("mint salt: %w", err)
	}

	tok := &model.PairingToken{
		TokenID:    uuid.Must(uuid.NewV4()).String(),
		ClientID:   clientID,
		Purpose:    purpose,
		SecretHash: crypto.HashTokenSecret([]byte(secret), salt),
		Salt:       salt,
		MaxUses:    maxUses,
	}
	if ttl > 0 {
		tok.Expiry = time.Now().Add(ttl)
	}
	if err := s.keys.SaveToken(ctx, tok); err != nil {
		return nil, fmt.Errorf("save token: %w", err)
	}
	return &Token{TokenID: tok.TokenID, Secret: secret, Expiry: tok.Expiry}, nil
}

// Redeem verifies the token secret and establishes the relationship pair
// between the issuer and redeemerID. Returns the issuer's client id.
//
// Both directions are written as friend edges with notifications enabled; a
// scanned token is mutual consent, so no invited handshake is needed. Existing
// blocked edges are left untouched.
func (s *Service) Redeem(ctx context.Context, tokenID, secret, redeemerID string) (string, error) {
	tok, err := s.keys.GetToken(ctx, tokenID)
	if err != nil {
		return "", err
	}
	if tok.IsSpent(time.Now()) {
		return "", errs.ErrTokenSpent
	}
	if !crypto.VerifyTokenSecret([]byte(secret), tok.Salt, tok.SecretHash) {
		return "", errs.ErrUnauthorized
	}
	if tok.ClientID == redeemerID {
		return "", errs.ErrUnauthorized
	}

	if err := s.keys.MarkTokenUse(ctx, tokenID); err != nil {
		return "", fmt.Errorf("mark token use: %w", err)
	}

	now := time.Now()
	if err := s.befriend(ctx, tok.ClientID, redeemerID, now); err != nil {
		return "", err
	}
	if err := s.befriend(ctx, redeemerID, tok.ClientID, now); err != nil {
		return "", err
	}
	return tok.ClientID, nil
}

// befriend writes one direction of the pair and schedules its fan-out.
func (s *Service) befriend(ctx context.Context, clientID, otherID string, now time.Time) error {
	rel, err := s.rels.GetRelationship(ctx, clientID, otherID)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			return fmt.Errorf("load relationship: %w", err)
		}
		rel = &model.Relationship{ClientID: clientID, OtherClientID: otherID}
	}
	if rel.State == model.RelationshipBlocked || rel.State == model.RelationshipFriend {
		return nil
	}
	rel.State = model.RelationshipFriend
	rel.UnblockState = ""
	rel.Notifications = model.NotificationsEnabled
	rel.LastChanged = now
	if err := s.rels.SaveRelationship(ctx, rel); err != nil {
		return fmt.Errorf("save relationship: %w", err)
	}
	if s.notifier != nil {
		s.notifier.OnRelationshipChanged(ctx, rel)
	}
	return nil
}
