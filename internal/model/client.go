// Package model defines domain entities used by the update engine and repositories.
package model

import (
	"strings"
	"time"
)

// DeletedSuffix tags the id of a client whose deletion was requested but whose
// record is still retained for bookkeeping.
const DeletedSuffix = "-deleted"

// Client is the identity record of a registered device.
type Client struct {
	ID             string
	SRPSalt        string // opaque, managed by the registration servlet
	SRPVerifier    string
	SuspendedAt    time.Time
	SuspendedFor   time.Duration
	TimeRegistered time.Time
}

// IsSuspended reports whether the client is inside its suspension window.
func (c *Client) IsSuspended(now time.Time) bool {
	if c.SuspendedAt.IsZero() || c.SuspendedFor <= 0 {
		return false
	}
	return now.Before(c.SuspendedAt.Add(c.SuspendedFor))
}

// MarkDeleted tags the client id so the record no longer resolves for login.
// Idempotent.
func (c *Client) MarkDeleted() {
	if !c.IsDeleted() {
		c.ID += DeletedSuffix
	}
}

// IsDeleted reports whether the client id carries the deletion tag.
func (c *Client) IsDeleted() bool {
	return strings.HasSuffix(c.ID, DeletedSuffix)
}

// HostInfo describes the device a client registered from. Purged together
// with the client record.
type HostInfo struct {
	ClientID      string
	ClientName    string
	ClientVersion string
	DeviceModel   string
	SystemName    string
	SystemVersion string
}
