package model

import "time"

// GroupPresence states.
const (
	GroupExists  = "exists"
	GroupDeleted = "deleted"
)

// GroupMembership states.
const (
	MembershipNone         = "none"
	MembershipInvited      = "invited"
	MembershipJoined       = "joined"
	MembershipSuspended    = "suspended"
	MembershipGroupRemoved = "groupRemoved"
)

// GroupMembership roles.
const (
	RoleNone            = "none"
	RoleAdmin           = "admin"
	RoleMember          = "member"
	RoleNearbyMember    = "nearbyMember"
	RoleWorldwideMember = "worldwideMember"
)

// SharedKeyIDRenew is the sentinel key generation passed to a keymaster to
// request a brand-new group key instead of re-wrapping the current one.
const (
	SharedKeyIDRenew     = "RENEW"
	SharedKeyIDSaltRenew = "RENEW"
)

// GroupPresence is the one-per-group record. SharedKeyID/SharedKeyIDSalt
// identify the current key generation, never the key itself.
type GroupPresence struct {
	GroupID         string
	GroupName       string
	GroupType       string // e.g. "user", "nearby", "worldwide"
	State           string
	SharedKeyID     string
	SharedKeyIDSalt string
	KeySupplier     string // client id of the keymaster that minted the generation
	LastChanged     time.Time
}

// HasKey reports whether a key generation has ever been established.
func (g *GroupPresence) HasKey() bool {
	return g.SharedKeyID != "" && g.SharedKeyIDSalt != ""
}

// GroupMembership is the edge between a group and a client, carrying the
// member's per-member-encrypted copy of the group key.
type GroupMembership struct {
	GroupID  string
	ClientID string
	State    string
	Role     string
	// Key material. SharedKeyID/SharedKeyIDSalt/MemberKeyID/EncryptedGroupKey
	// are only ever written together as one atomic update.
	SharedKeyID       string
	SharedKeyIDSalt   string
	MemberKeyID       string // which of the member's public keys the key was wrapped for
	EncryptedGroupKey string // opaque ciphertext
	KeySupplier       string // client id that supplied the wrapped key
	Notifications     string
	LastChanged       time.Time
}

// IsActive reports whether the member currently belongs to the group.
func (m *GroupMembership) IsActive() bool {
	switch m.State {
	case MembershipInvited, MembershipJoined, MembershipSuspended:
		return true
	}
	return false
}

// IsInvolved reports whether the member should still hear about the group;
// removed members are included so they learn about their own removal.
func (m *GroupMembership) IsInvolved() bool {
	return m.IsActive() || m.State == MembershipGroupRemoved
}

// IsAdmin reports whether the member administrates the group.
func (m *GroupMembership) IsAdmin() bool {
	return m.Role == RoleAdmin
}

// IsKeyCurrent reports whether the member's wrapped key matches both the
// group's key generation and the member's present public key.
func (m *GroupMembership) IsKeyCurrent(g *GroupPresence, presenceKeyID string) bool {
	if !g.HasKey() || presenceKeyID == "" {
		return false
	}
	return m.SharedKeyID == g.SharedKeyID &&
		m.SharedKeyIDSalt == g.SharedKeyIDSalt &&
		m.MemberKeyID == presenceKeyID &&
		m.EncryptedGroupKey != ""
}

// SetGroupKey writes the wrapped-key fields as one unit.
func (m *GroupMembership) SetGroupKey(sharedKeyID, salt, memberKeyID, encryptedGroupKey, supplier string, now time.Time) {
	m.SharedKeyID = sharedKeyID
	m.SharedKeyIDSalt = salt
	m.MemberKeyID = memberKeyID
	m.EncryptedGroupKey = encryptedGroupKey
	m.KeySupplier = supplier
	m.LastChanged = now
}

// ClearGroupKey discards the wrapped-key fields as one unit.
func (m *GroupMembership) ClearGroupKey(now time.Time) {
	m.SharedKeyID = ""
	m.SharedKeyIDSalt = ""
	m.MemberKeyID = ""
	m.EncryptedGroupKey = ""
	m.KeySupplier = ""
	m.LastChanged = now
}

// RedactedForForeignView returns a copy safe to push to members other than the
// subject: the wrapped key and the key addressing fields are stripped.
func (m *GroupMembership) RedactedForForeignView() *GroupMembership {
	out := *m
	out.SharedKeyID = ""
	out.SharedKeyIDSalt = ""
	out.MemberKeyID = ""
	out.EncryptedGroupKey = ""
	out.KeySupplier = ""
	out.Notifications = ""
	return &out
}
