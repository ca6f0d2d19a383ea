package model

import "time"

// Relationship states. Each direction of an edge is a separate record; the
// business rules keep the two directions logically paired.
const (
	RelationshipNone      = "none"
	RelationshipInvited   = "invited"
	RelationshipInvitedMe = "invitedMe"
	RelationshipFriend    = "friend"
	RelationshipBlocked   = "blocked"
)

// Notification preference values.
const (
	NotificationsEnabled  = "enabled"
	NotificationsDisabled = "disabled"
)

// Relationship is a directed edge from ClientID to OtherClientID.
type Relationship struct {
	ClientID      string
	OtherClientID string
	State         string
	// UnblockState remembers the state to restore after unblocking.
	UnblockState  string
	Notifications string
	LastChanged   time.Time
}

// IsRelated reports whether the edge entitles ClientID to presence and
// key-management signals about OtherClientID. Blocked edges count: blockers
// still need liveness signals.
func (r *Relationship) IsRelated() bool {
	switch r.State {
	case RelationshipFriend, RelationshipInvited, RelationshipInvitedMe, RelationshipBlocked:
		return true
	}
	return false
}

// IsNullified reports whether the edge is already fully cleared. Nullification
// sets state, unblock state and notification preference together; a partially
// cleared record is not nullified.
func (r *Relationship) IsNullified() bool {
	return r.State == RelationshipNone && r.UnblockState == RelationshipNone && r.Notifications == ""
}

// Nullify clears state, unblock state and notification preference as one
// update and stamps the change time. Returns false if already nullified.
func (r *Relationship) Nullify(now time.Time) bool {
	if r.IsNullified() {
		return false
	}
	r.State = RelationshipNone
	r.UnblockState = RelationshipNone
	r.Notifications = ""
	r.LastChanged = now
	return true
}
