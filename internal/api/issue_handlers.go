package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/propflow/handoff/internal/api/presenter"
	"github.com/propflow/handoff/internal/core"
	"github.com/propflow/handoff/internal/service"
)

type GenerateTransferTokenPayload struct {
	// UserID is the user the login UI requests a transfer for. It is
	// matched against the verified session, never trusted on its own.
	UserID string `json:"userId"`

	// Destination optionally pins the handoff target. Empty lets the
	// post-authentication router decide.
	Destination string `json:"destination,omitempty"`
}

type GenerateTransferTokenResponse struct {
	RedirectURL string `json:"redirect_url"`
}

// handleGenerateTransferToken mints a transfer token for the verified
// caller and responds with the destination redirect URL.
func (s *Server) handleGenerateTransferToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)

	var payload GenerateTransferTokenPayload
	if err := DecodePayload(r, &payload, false); err != nil {
		logger.Warn().Err(err).Msg("failed to decode transfer token request payload")
		presenter.Error(w, r, "invalid request payload", http.StatusBadRequest)
		return
	}

	sessionToken := s.sessionTokenFromRequest(r)
	if sessionToken == "" {
		logger.Warn().Msg("request carries no session token")
		presenter.Error(w, r, "authentication required", http.StatusUnauthorized)
		return
	}

	result, err := s.svc.Issue(ctx, service.IssueRequest{
		SessionToken: sessionToken,
		UserID:       payload.UserID,
		Destination:  payload.Destination,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("transfer token issuance failed")
		switch {
		case errors.Is(err, core.ErrRateLimited):
			presenter.Error(w, r, "too many transfer requests", http.StatusTooManyRequests)
		case errors.Is(err, core.ErrInvalidDestination):
			presenter.Error(w, r, "invalid transfer destination", http.StatusBadRequest)
		case errors.Is(err, core.ErrUnavailable):
			presenter.Error(w, r, "service temporarily unavailable", http.StatusServiceUnavailable)
		default:
			presenter.Error(w, r, "transfer request rejected", http.StatusUnauthorized)
		}
		return
	}

	presenter.JSON(w, r, GenerateTransferTokenResponse{
		RedirectURL: result.RedirectURL,
	}, http.StatusOK)
}

// sessionTokenFromRequest reads the origin session token from the
// Authorization header, falling back to the configured session cookie.
func (s *Server) sessionTokenFromRequest(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer")); token != "" {
		return token
	}

	cookie, err := r.Cookie(s.cfg.Origin.SessionCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}
