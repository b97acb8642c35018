package client

import (
	"context"
	"fmt"

	"github.com/propflow/handoff/internal/api"
	"github.com/propflow/handoff/internal/core"
)

type ListAuditsOpts struct {
	Limit uint

	CorrelationID string
	UserID        string
	TokenID       string
	ReplayOnly    bool
}

// ListAudits retrieves the latest audit entries from the server, limited to the specified number.
func (c *Client) ListAudits(ctx context.Context, opts ListAuditsOpts) ([]core.AuditEntry, string, error) {
	ub := c.url().setPath(api.ListAuditsRoute)
	if opts.Limit > 0 {
		ub = ub.addQueryParam("limit", opts.Limit)
	}
	if opts.CorrelationID != "" {
		ub = ub.addQueryParam("correlation_id", opts.CorrelationID)
	}
	if opts.UserID != "" {
		ub = ub.addQueryParam("user_id", opts.UserID)
	}
	if opts.TokenID != "" {
		ub = ub.addQueryParam("token_id", opts.TokenID)
	}
	if opts.ReplayOnly {
		ub = ub.addQueryParam("replay", "true")
	}
	var resp []core.AuditEntry
	correlation, err := c.get(ctx, ub.build(), &resp)
	return resp, correlation, err
}

// ListActiveTokens retrieves the transfer tokens still in Issued state.
func (c *Client) ListActiveTokens(ctx context.Context) ([]*core.TransferToken, string, error) {
	var resp []*core.TransferToken
	correlation, err := c.get(ctx, c.url().
		setPath(api.ListTokensRoute).
		build(), &resp)
	return resp, correlation, err
}

// RevokeToken invalidates an issued transfer token before redemption.
func (c *Client) RevokeToken(ctx context.Context, tokenID string) (string, error) {
	var resp map[string]string
	correlation, err := c.post(ctx, c.url().
		setPath(api.RevokeTokenRoute).
		setPathParam("id", tokenID).
		build(), nil, &resp)
	if err != nil {
		return correlation, err
	}
	if resp["status"] != "ok" {
		return correlation, fmt.Errorf("unexpected response status: %s", resp["status"])
	}
	return correlation, nil
}
