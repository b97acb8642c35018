package api

import (
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/propflow/handoff/internal/api/presenter"
	"github.com/propflow/handoff/internal/core"
)

// handleSessionAccept consumes a transfer token from the redirect and
// establishes a local session. Every failure collapses into the same
// generic login redirect so a caller probing with token IDs learns
// nothing; the distinction lives in the audit log.
func (s *Server) handleSessionAccept(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)

	tokenID := r.URL.Query().Get("token")
	if tokenID == "" {
		s.redirectToLogin(w, r)
		return
	}

	principal, err := s.svc.Redeem(ctx, tokenID, s.cfg.Receiver.Realm)
	if err != nil {
		s.redirectToLogin(w, r)
		return
	}

	session, exp, err := s.localIssuer.Issue(principal)
	if err != nil {
		logger.Error().Err(err).Msg("failed to issue local session after redemption")
		s.redirectToLogin(w, r)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.Receiver.Session.CookieName,
		Value:    session,
		Path:     "/",
		Expires:  exp,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, s.landingPath(principal), http.StatusSeeOther)
}

type ExchangeTokenPayload struct {
	Token string `json:"token"`
}

type ExchangeTokenResponse struct {
	Session   string    `json:"session"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
}

// handleExchangeToken is the SPA variant of session acceptance: the
// frontend posts the transfer token and stores the returned session
// itself instead of receiving a cookie.
func (s *Server) handleExchangeToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)

	var payload ExchangeTokenPayload
	if err := DecodePayload(r, &payload, false); err != nil || payload.Token == "" {
		presenter.Error(w, r, "invalid request payload", http.StatusBadRequest)
		return
	}

	principal, err := s.svc.Redeem(ctx, payload.Token, s.cfg.Receiver.Realm)
	if err != nil {
		// one generic answer for every redemption failure
		presenter.Error(w, r, "invalid or expired transfer token", http.StatusUnauthorized)
		return
	}

	session, exp, err := s.localIssuer.Issue(principal)
	if err != nil {
		logger.Error().Err(err).Msg("failed to issue local session after redemption")
		presenter.Error(w, r, "invalid or expired transfer token", http.StatusUnauthorized)
		return
	}

	presenter.JSON(w, r, ExchangeTokenResponse{
		Session:   session,
		ExpiresAt: exp,
		UserID:    principal.UserID,
		Role:      string(principal.Role),
	}, http.StatusOK)
}

func (s *Server) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	loginURL := s.cfg.Receiver.LoginURL

	u, err := url.Parse(loginURL)
	if err != nil {
		http.Redirect(w, r, loginURL, http.StatusSeeOther)
		return
	}
	q := u.Query()
	q.Set("error", "transfer_failed")
	u.RawQuery = q.Encode()

	http.Redirect(w, r, u.String(), http.StatusSeeOther)
}

// landingPath picks the post-login page for the redeemed principal.
func (s *Server) landingPath(principal *core.Principal) string {
	decision, err := s.router.Route(principal)
	if err != nil || decision.Path == "" {
		return "/"
	}
	return decision.Path
}
