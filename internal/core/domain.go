package core

import (
	"fmt"
	"time"
)

// Role is the closed set of user roles known to the platform.
// Routing decisions switch over this set; adding a role means adding
// a variant here and a route for it, not another ad hoc conditional.
type Role string

const (
	RoleTenant     Role = "tenant"
	RoleLandlord   Role = "landlord"
	RoleAgent      Role = "agent"
	RoleSuperAdmin Role = "super_admin"
)

// ParseRole maps a raw role string to a known Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleTenant, RoleLandlord, RoleAgent, RoleSuperAdmin:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Principal represents the authenticated identity of the caller.
// It is produced by a SessionVerifier after validating the caller's
// current session; this subsystem never persists it.
type Principal struct {
	// UserID is the stable, opaque subject identifier.
	UserID string `json:"user_id"`

	// Role is the user's resolved role.
	Role Role `json:"role"`

	// Realm is the name of the issuing realm/application that
	// authenticated this principal.
	Realm string `json:"realm,omitempty"`

	// AuthTime is when the user last actively authenticated.
	// Zero if the verifier cannot determine it.
	AuthTime time.Time `json:"-"`

	// Attributes are the remaining claims from the verified session.
	Attributes map[string]any `json:"-"`
}

// State is the lifecycle state of a transfer token.
// Issued is the only non-terminal state; Redeemed and Revoked absorb.
type State string

const (
	StateIssued   State = "issued"
	StateRedeemed State = "redeemed"
	StateRevoked  State = "revoked"
)

// Terminal reports whether no further transition is allowed out of s.
func (s State) Terminal() bool {
	return s == StateRedeemed || s == StateRevoked
}

// TransferToken is a short-lived, single-use credential that lets a user
// continue an authenticated session on a different application origin.
// The browser only ever carries the opaque TokenID; the full record stays
// server-side.
type TransferToken struct {
	// TokenID is the random store lookup key (128 bits of entropy).
	TokenID string `json:"token_id"`

	// UserID is copied verbatim from the Principal at issuance.
	UserID string `json:"user_id"`

	// Destination names the allow-listed target realm this token is
	// valid for. Never an arbitrary URL.
	Destination string `json:"destination"`

	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`

	State State `json:"state"`

	// Signature is an HMAC over the immutable fields, computed with a
	// server-held secret. It holds even if the store is bypassed.
	Signature []byte `json:"-"`
}

// Expired reports whether the token is past its expiry at the given time.
func (t *TransferToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
