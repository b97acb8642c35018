package client

import (
	"context"

	"github.com/propflow/handoff/internal/api"
)

// GenerateTransferToken requests a session transfer for the given user.
// The sessionToken authenticates the request; userID must match the
// session's subject. An empty destination lets the server-side router
// decide. It returns the destination redirect URL.
func (c *Client) GenerateTransferToken(
	ctx context.Context,
	sessionToken, userID, destination string,
) (string, string, error) {
	payload := api.GenerateTransferTokenPayload{
		UserID:      userID,
		Destination: destination,
	}

	// the session token overrides the client-wide auth token for this
	// single call
	authed := *c
	authed.authToken = sessionToken

	var resp api.GenerateTransferTokenResponse
	correlation, err := authed.post(ctx, c.url().
		setPath(api.GenerateTransferTokenRoute).
		build(), payload, &resp)
	return resp.RedirectURL, correlation, err
}

// ExchangeToken redeems a transfer token on the receiving side and
// returns the established local session. SPA flow; browser flows use
// the accept redirect instead.
func (c *Client) ExchangeToken(ctx context.Context, transferToken string) (*api.ExchangeTokenResponse, string, error) {
	payload := api.ExchangeTokenPayload{
		Token: transferToken,
	}

	var resp api.ExchangeTokenResponse
	correlation, err := c.post(ctx, c.url().
		setPath(api.ExchangeTokenRoute).
		build(), payload, &resp)
	if err != nil {
		return nil, correlation, err
	}
	return &resp, correlation, nil
}
