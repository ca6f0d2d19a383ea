package model

import "time"

// Key is a client's published public key, addressed by key id in key-wrap
// requests.
type Key struct {
	ClientID  string
	KeyID     string
	PublicKey string // PEM, opaque to the server
	Timestamp time.Time
}

// Pairing token purposes.
const (
	TokenPurposePairing = "pairing"
	TokenPurposeInvite  = "invite"
)

// PairingToken lets another client establish a relationship with its issuer.
// Only the argon2id hash of the secret is stored.
type PairingToken struct {
	TokenID    string
	ClientID   string
	Purpose    string
	SecretHash []byte
	Salt       []byte
	UseCount   int
	MaxUses    int
	Expiry     time.Time
}

// IsSpent reports whether the token can no longer be redeemed.
func (t *PairingToken) IsSpent(now time.Time) bool {
	if t.MaxUses > 0 && t.UseCount >= t.MaxUses {
		return true
	}
	return !t.Expiry.IsZero() && now.After(t.Expiry)
}

// Environment record types.
const (
	EnvironmentNearby    = "nearby"
	EnvironmentWorldwide = "worldwide"
)

// EnvironmentRecord is a client's location/proximity snapshot used for
// nearby/worldwide grouping. Purged on account deletion.
type EnvironmentRecord struct {
	ClientID  string
	GroupID   string
	Type      string
	Latitude  float64
	Longitude float64
	Accuracy  float64
	BSSIDs    []string
	Timestamp time.Time
}
