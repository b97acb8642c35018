package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/propflow/handoff/internal/api/presenter"
	"github.com/propflow/handoff/internal/core"
)

// handleAdminTokens lists transfer tokens still in Issued state.
func (s *Server) handleAdminTokens(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)

	tokens, err := s.tokenStore.ListActive(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to retrieve active tokens")
		presenter.Error(w, r, "failed to retrieve active tokens", http.StatusInternalServerError)
		return
	}

	presenter.JSON(w, r, tokens, http.StatusOK)
}

// handleAdminRevoke invalidates an issued token before redemption.
func (s *Server) handleAdminRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)

	tokenID := r.PathValue("id")
	if tokenID == "" {
		presenter.Error(w, r, "missing token id", http.StatusBadRequest)
		return
	}

	if err := s.svc.Revoke(ctx, tokenID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			presenter.Error(w, r, "token not found", http.StatusNotFound)
			return
		}
		logger.Error().Err(err).Msg("failed to revoke token")
		presenter.Error(w, r, "failed to revoke token", http.StatusInternalServerError)
		return
	}

	presenter.JSON(w, r, map[string]string{"status": "ok"}, http.StatusOK)
}

// handleAdminAudits retrieves audit log entries, optionally filtered.
func (s *Server) handleAdminAudits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.Ctx(ctx)

	querier, ok := s.auditor.(core.AuditQuerier)
	if !ok {
		presenter.Error(w, r, "audit backend does not support queries", http.StatusNotImplemented)
		return
	}

	q := r.URL.Query()
	limitStr := q.Get("limit")

	filterCorrelationID := q.Get("correlation_id")
	filterUserID := q.Get("user_id")
	filterTokenID := q.Get("token_id")
	replayOnly := q.Get("replay") == "true"

	limit := 50
	if limitStr != "" {
		v, err := strconv.Atoi(limitStr)
		if err != nil {
			logger.Warn().Err(err).Str("limit", limitStr).Msg("invalid limit parameter")
			presenter.Error(w, r, "invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = v
	}

	var entries []core.AuditEntry
	var err error

	if filterCorrelationID != "" || filterUserID != "" || filterTokenID != "" || replayOnly {
		entries, err = querier.Find(func(entry core.AuditEntry) bool {
			if filterCorrelationID != "" && entry.ID != filterCorrelationID {
				return false
			}
			if filterUserID != "" && entry.UserID != filterUserID {
				return false
			}
			if filterTokenID != "" && entry.TokenID != filterTokenID {
				return false
			}
			if replayOnly && !entry.Replay {
				return false
			}
			return true
		}, limit)
	} else {
		entries, err = querier.GetRecent(limit)
	}

	if err != nil {
		logger.Error().Err(err).Msg("failed to retrieve audit logs")
		presenter.Error(w, r, "failed to retrieve audit logs", http.StatusInternalServerError)
		return
	}

	presenter.JSON(w, r, entries, http.StatusOK)
}
