// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/engine layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation.
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrDataIntegrity indicates an internal inconsistency, e.g. a membership
	// referencing a group without a presence record. A unit of deferred work
	// failing with it is dropped, not retried.
	ErrDataIntegrity = errors.New("data integrity fault")

	// ErrNoCandidate indicates no reachable keymaster candidate for a group.
	ErrNoCandidate = errors.New("no keymaster candidate")

	// ErrInvalidKeyResponse indicates a key-wrap response of unexpected shape.
	ErrInvalidKeyResponse = errors.New("invalid key response")

	// ErrNotConnected indicates the target client has no live connection.
	ErrNotConnected = errors.New("not connected")

	// ErrKeyRequestTimeout indicates a keymaster did not answer a key-wrap
	// request in time.
	ErrKeyRequestTimeout = errors.New("key request timed out")

	// ErrTokenSpent indicates a pairing token past its use count or expiry.
	ErrTokenSpent = errors.New("token spent")
)
