package core

import "time"

type AuditEntry struct {
	// ID is the unique request ID (X-Correlation-ID)
	ID string `json:"id"`

	// Time is the timestamp of the event
	Time time.Time `json:"time"`

	// Action describing what happened (e.g. "transfer.issue", "transfer.redeem")
	Action string `json:"action"`

	// UserID identifies who the token belongs to. No PII beyond the identifier.
	UserID string `json:"user_id,omitempty"`

	// Destination the token was scoped to
	Destination string `json:"destination,omitempty"`

	// TokenID of the affected transfer token
	TokenID string `json:"token_id,omitempty"`

	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	// Detail holds the server-side failure reason. It is never sent to
	// clients; redemption responses stay oracle-free.
	Detail string `json:"detail,omitempty"`

	// Replay marks terminal-state violations (redeeming an already
	// redeemed or revoked token), surfaced as potential abuse signals.
	Replay bool `json:"replay,omitempty"`
}

type Auditor interface {
	Log(entry AuditEntry) error
	Close() error
}

// AuditQuerier is implemented by auditors that can be searched, used by
// the admin API. The file auditor does not implement it.
type AuditQuerier interface {
	GetRecent(limit int) ([]AuditEntry, error)
	Find(filter func(entry AuditEntry) bool, limit int) ([]AuditEntry, error)
}
