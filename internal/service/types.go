package service

import "github.com/propflow/handoff/internal/core"

type IssueRequest struct {
	// SessionToken is the caller's raw origin-app session token. The
	// principal always comes from verifying this, never from the body.
	SessionToken string

	// UserID is the user the login UI requests a transfer for. It must
	// match the verified session's subject.
	UserID string

	// Destination is optional. If empty, the post-authentication router
	// decides; if set, it must match the router's decision.
	Destination string
}

type IssueResult struct {
	// Token is the issued transfer token, persisted in Issued state.
	Token *core.TransferToken

	// RedirectURL is the destination accept URL carrying the opaque
	// token ID. The only place the token ID ever travels.
	RedirectURL string
}
