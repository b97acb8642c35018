package core

import "errors"

// Error taxonomy for the transfer token lifecycle. Services wrap these
// with detail via %w; handlers map them to HTTP responses. Redemption-side
// handlers must collapse all of them to a single generic client response.
var (
	// ErrUnauthenticated indicates the caller has no valid, fresh session.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrInvalidDestination indicates a destination outside the allow-list,
	// or a token presented against a realm it was not issued for.
	ErrInvalidDestination = errors.New("invalid destination")

	// ErrRateLimited indicates the per-user issuance limit was hit.
	ErrRateLimited = errors.New("rate limited")

	// ErrConflict indicates a token ID collision on insert.
	ErrConflict = errors.New("token id conflict")

	// ErrNotFound indicates an unknown or already swept token ID.
	ErrNotFound = errors.New("token not found")

	// ErrExpired indicates a token past its expiry but never redeemed.
	ErrExpired = errors.New("token expired")

	// ErrAlreadyRedeemed indicates a second redemption attempt.
	ErrAlreadyRedeemed = errors.New("token already redeemed")

	// ErrRevoked indicates the token was administratively revoked.
	ErrRevoked = errors.New("token revoked")

	// ErrSignatureInvalid indicates a signed field was tampered with.
	ErrSignatureInvalid = errors.New("token signature invalid")

	// ErrUnavailable indicates a storage/infrastructure failure. Callers
	// retry once with backoff before surfacing it.
	ErrUnavailable = errors.New("store unavailable")
)
