package core

import (
	"context"
	"time"
)

// TokenStore is the durable, atomic bookkeeping for issued transfer tokens.
// Issuance and redemption happen in different deployed applications, so
// implementations must be shareable across processes.
type TokenStore interface {
	// Put inserts a new record keyed by TokenID.
	// Returns ErrConflict if the key already exists.
	Put(ctx context.Context, token *TransferToken) error

	// TryRedeem atomically transitions the record from Issued to Redeemed
	// and returns the pre-transition record. Two concurrent calls result in
	// exactly one success; the loser sees ErrAlreadyRedeemed. Other
	// failures: ErrNotFound, ErrExpired, ErrRevoked.
	TryRedeem(ctx context.Context, tokenID string) (*TransferToken, error)

	// Revoke transitions Issued to Revoked. Idempotent: a no-op if the
	// token is already terminal. ErrNotFound for unknown IDs.
	Revoke(ctx context.Context, tokenID string) error

	// Sweep removes records past expiry plus the retention window and
	// returns the number of removed records.
	Sweep(ctx context.Context, retention time.Duration) (int64, error)

	// ListActive returns tokens still in Issued state and not expired.
	ListActive(ctx context.Context) ([]TransferToken, error)

	// Close releases backing resources.
	Close() error
}

// SessionVerifier validates the caller's current origin-app session.
// Implementations: JWT session verifier, OIDC verifier, static (tests).
type SessionVerifier interface {
	// Name returns the identifier of this verifier (as used in config).
	Name() string

	// Verify takes a raw session token, validates it, and returns a Principal.
	Verify(ctx context.Context, sessionToken string) (*Principal, error)
}

// RoleResolver returns the current role for a user. The receiving side
// resolves the role fresh at redemption instead of trusting anything
// carried by the transfer token.
type RoleResolver interface {
	Resolve(ctx context.Context, userID string) (Role, error)
}
