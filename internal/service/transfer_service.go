package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/propflow/handoff/internal/audit"
	"github.com/propflow/handoff/internal/config"
	"github.com/propflow/handoff/internal/core"
	"github.com/propflow/handoff/internal/logging"
	"github.com/propflow/handoff/internal/routing"
	"github.com/propflow/handoff/internal/tasks"
	"github.com/propflow/handoff/internal/token"
)

// unavailableBackoff is how long we wait before the single retry of a
// store operation that failed with ErrUnavailable.
const unavailableBackoff = 150 * time.Millisecond

// TransferService orchestrates the transfer token lifecycle: issuance on
// the origin side, redemption and revocation on the receiver side. It is
// stateless with respect to any single token; all shared mutable state
// lives in the injected store.
type TransferService struct {
	verifier     core.SessionVerifier
	resolver     core.RoleResolver
	router       *routing.Router
	store        core.TokenStore
	signer       *token.Signer
	auditor      core.Auditor
	limiter      *userLimiter
	destinations map[string]config.Destination

	ttl             time.Duration
	freshnessWindow time.Duration
}

type Options struct {
	// Verifier authenticates issue callers. May be nil on a
	// receiver-only deployment.
	Verifier core.SessionVerifier

	// Resolver re-resolves roles at redemption. May be nil on an
	// origin-only deployment.
	Resolver core.RoleResolver

	Router  *routing.Router
	Store   core.TokenStore
	Signer  *token.Signer
	Auditor core.Auditor

	Destinations []config.Destination

	TTL             time.Duration
	FreshnessWindow time.Duration
	RateLimit       config.RateLimitConfig
}

func NewTransferService(opts Options) *TransferService {
	auditor := opts.Auditor
	if auditor == nil {
		auditor = audit.NewNoopAuditor()
	}
	router := opts.Router
	if router == nil {
		router = routing.New(nil)
	}
	ttl := opts.TTL
	if ttl == 0 {
		ttl = config.DefaultTTL
	}

	destinations := make(map[string]config.Destination, len(opts.Destinations))
	for _, d := range opts.Destinations {
		destinations[d.Name] = d
	}

	return &TransferService{
		verifier:        opts.Verifier,
		resolver:        opts.Resolver,
		router:          router,
		store:           opts.Store,
		signer:          opts.Signer,
		auditor:         auditor,
		limiter:         newUserLimiter(opts.RateLimit),
		destinations:    destinations,
		ttl:             ttl,
		freshnessWindow: opts.FreshnessWindow,
	}
}

// Issue mints a transfer token for an already-authenticated caller whose
// role hands off to a different origin. The token is persisted in Issued
// state before it is returned.
func (s *TransferService) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	logger := log.Ctx(ctx)
	reqID, _ := ctx.Value("correlation_id").(string)

	auditEntry := core.AuditEntry{
		ID:     reqID,
		Time:   time.Now(),
		Action: "transfer.issue",
		UserID: req.UserID,
	}
	defer func() {
		if err := s.auditor.Log(auditEntry); err != nil {
			logger.Error().Err(err).Msg("failed to write audit log entry for token issuance")
		}
	}()

	if s.verifier == nil {
		auditEntry.Error = "issuing not enabled"
		return nil, fmt.Errorf("issuing not enabled on this deployment: %w", core.ErrUnauthenticated)
	}

	principal, err := s.verifier.Verify(ctx, req.SessionToken)
	if err != nil {
		auditEntry.Error = "session verification failed"
		auditEntry.Detail = err.Error()
		return nil, fmt.Errorf("session verification failed: %w", core.ErrUnauthenticated)
	}

	logger.UpdateContext(func(c zerolog.Context) zerolog.Context {
		return c.Str("sub", principal.UserID)
	})

	// never trust the client-supplied user ID beyond matching it against
	// the verified session
	if principal.UserID != req.UserID {
		auditEntry.Error = "user mismatch"
		auditEntry.Detail = fmt.Sprintf("session subject does not match requested user %q", req.UserID)
		return nil, fmt.Errorf("session does not match requested user: %w", core.ErrUnauthenticated)
	}

	if s.freshnessWindow > 0 && !principal.AuthTime.IsZero() {
		if time.Since(principal.AuthTime) > s.freshnessWindow {
			auditEntry.Error = "stale authentication"
			return nil, fmt.Errorf("authentication is not recent enough: %w", core.ErrUnauthenticated)
		}
	}

	decision, err := s.router.Route(principal)
	if err != nil {
		auditEntry.Error = "routing failed"
		auditEntry.Detail = err.Error()
		return nil, fmt.Errorf("routing failed: %w", core.ErrUnauthenticated)
	}
	if !decision.Handoff {
		auditEntry.Error = "role does not hand off"
		return nil, fmt.Errorf("role %q does not require a cross-origin handoff: %w",
			principal.Role, core.ErrInvalidDestination)
	}

	destName := req.Destination
	if destName == "" {
		destName = decision.Destination
	} else if destName != decision.Destination {
		auditEntry.Error = "destination mismatch"
		auditEntry.Detail = fmt.Sprintf("requested %q, routed %q", destName, decision.Destination)
		return nil, fmt.Errorf("requested destination does not match route: %w", core.ErrInvalidDestination)
	}
	auditEntry.Destination = destName

	dest, ok := s.destinations[destName]
	if !ok {
		auditEntry.Error = "destination not allow-listed"
		return nil, fmt.Errorf("destination %q is not allow-listed: %w", destName, core.ErrInvalidDestination)
	}

	if !s.limiter.Allow(principal.UserID) {
		auditEntry.Error = "rate limited"
		return nil, fmt.Errorf("issuance limit reached for user: %w", core.ErrRateLimited)
	}

	tok, err := s.mint(ctx, principal.UserID, destName)
	if err != nil {
		auditEntry.Error = "minting failed"
		auditEntry.Detail = err.Error()
		return nil, err
	}
	auditEntry.TokenID = tok.TokenID
	auditEntry.Success = true

	logger.Info().
		Str("destination", destName).
		Str("token_id", tok.TokenID).
		Msg("transfer token issued")

	return &IssueResult{
		Token:       tok,
		RedirectURL: acceptURL(dest, tok.TokenID),
	}, nil
}

// mint creates, signs and persists a fresh token. A token ID collision is
// effectively unreachable, but when it happens we regenerate once rather
// than fail the login.
func (s *TransferService) mint(ctx context.Context, userID, destination string) (*core.TransferToken, error) {
	for attempt := 0; attempt < 2; attempt++ {
		id, err := token.NewID()
		if err != nil {
			return nil, fmt.Errorf("generating token id: %w", err)
		}

		now := time.Now()
		tok := &core.TransferToken{
			TokenID:     id,
			UserID:      userID,
			Destination: destination,
			IssuedAt:    now,
			ExpiresAt:   now.Add(s.ttl),
			State:       core.StateIssued,
		}
		tok.Signature = s.signer.Sign(tok)

		err = s.withRetry(ctx, func() error {
			return s.store.Put(ctx, tok)
		})
		if errors.Is(err, core.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return tok, nil
	}
	return nil, core.ErrConflict
}

// Redeem consumes a transfer token on the receiving side and returns a
// freshly resolved principal. Callers must collapse every error into one
// generic client-facing failure; the detail stays in the audit log.
func (s *TransferService) Redeem(ctx context.Context, tokenID, presentedDestination string) (*core.Principal, error) {
	logger := log.Ctx(ctx)
	reqID, _ := ctx.Value("correlation_id").(string)

	auditEntry := core.AuditEntry{
		ID:          reqID,
		Time:        time.Now(),
		Action:      "transfer.redeem",
		TokenID:     tokenID,
		Destination: presentedDestination,
	}
	defer func() {
		if err := s.auditor.Log(auditEntry); err != nil {
			logger.Error().Err(err).Msg("failed to write audit log entry for token redemption")
		}
	}()

	var rec *core.TransferToken
	err := s.withRetry(ctx, func() error {
		var redeemErr error
		rec, redeemErr = s.store.TryRedeem(ctx, tokenID)
		return redeemErr
	})
	if err != nil {
		auditEntry.Error = "redemption failed"
		auditEntry.Detail = err.Error()
		if errors.Is(err, core.ErrAlreadyRedeemed) || errors.Is(err, core.ErrRevoked) {
			// a second presentation of a consumed token is a replay signal
			auditEntry.Replay = true
			logger.Warn().Str("token_id", tokenID).Err(err).Msg("possible transfer token replay")
		}
		return nil, err
	}
	auditEntry.UserID = rec.UserID

	if err := s.signer.Verify(rec); err != nil {
		auditEntry.Error = "signature verification failed"
		auditEntry.Replay = true
		logger.Warn().Str("token_id", tokenID).Msg("transfer token failed signature verification")
		return nil, err
	}

	// bind the token to the realm redeeming it: a token issued for realm
	// A leaked to realm B must not be redeemable there
	if rec.Destination != presentedDestination {
		auditEntry.Error = "destination mismatch"
		auditEntry.Detail = fmt.Sprintf("token bound to %q, presented at %q", rec.Destination, presentedDestination)
		return nil, fmt.Errorf("token not valid for this destination: %w", core.ErrInvalidDestination)
	}

	// defense in depth on top of the store's own expiry check
	if rec.Expired(time.Now()) {
		auditEntry.Error = "expired"
		return nil, core.ErrExpired
	}

	if s.resolver == nil {
		auditEntry.Error = "redeeming not enabled"
		return nil, fmt.Errorf("redeeming not enabled on this deployment: %w", core.ErrUnauthenticated)
	}

	// re-resolve the role fresh rather than trusting anything stale
	// carried over from issuance
	role, err := s.resolver.Resolve(ctx, rec.UserID)
	if err != nil {
		auditEntry.Error = "role resolution failed"
		auditEntry.Detail = err.Error()
		return nil, fmt.Errorf("resolving role: %w", core.ErrUnauthenticated)
	}

	auditEntry.Success = true
	logger.Info().
		Str("sub", rec.UserID).
		Str("destination", presentedDestination).
		Msg("transfer token redeemed")

	return &core.Principal{
		UserID:   rec.UserID,
		Role:     role,
		Realm:    presentedDestination,
		AuthTime: time.Now(),
	}, nil
}

// Revoke invalidates an issued token before redemption, e.g. on logout
// or suspicious activity. Idempotent.
func (s *TransferService) Revoke(ctx context.Context, tokenID string) error {
	logger := log.Ctx(ctx)
	reqID, _ := ctx.Value("correlation_id").(string)

	auditEntry := core.AuditEntry{
		ID:      reqID,
		Time:    time.Now(),
		Action:  "transfer.revoke",
		TokenID: tokenID,
	}
	defer func() {
		if err := s.auditor.Log(auditEntry); err != nil {
			logger.Error().Err(err).Msg("failed to write audit log entry for token revocation")
		}
	}()

	err := s.withRetry(ctx, func() error {
		return s.store.Revoke(ctx, tokenID)
	})
	if err != nil {
		auditEntry.Error = "revocation failed"
		auditEntry.Detail = err.Error()
		return err
	}

	auditEntry.Success = true
	logger.Info().Str("token_id", tokenID).Msg("transfer token revoked")
	return nil
}

// Sweep removes records past expiry plus the retention window. Wired as
// a periodic background task by the server.
func (s *TransferService) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	removed, err := s.store.Sweep(ctx, retention)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		if err := s.auditor.Log(core.AuditEntry{
			Time:    time.Now(),
			Action:  "transfer.sweep",
			Success: true,
			Detail:  fmt.Sprintf("removed %d records", removed),
		}); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to write audit log entry for sweep")
		}
	}
	return removed, nil
}

// SweepTask adapts Sweep to the task manager's contract so it can run
// periodically and be triggered from the admin API.
func (s *TransferService) SweepTask(retention time.Duration) tasks.TaskFunc {
	return func(ctx context.Context, logger logging.InternalLogger) error {
		removed, err := s.Sweep(ctx, retention)
		if err != nil {
			return err
		}
		logger.Info("removed %d expired transfer token records", removed)
		return nil
	}
}

// withRetry runs fn and retries it exactly once, after a short backoff,
// when the store reports ErrUnavailable. The login flow fails fast
// rather than hanging.
func (s *TransferService) withRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if !errors.Is(err, core.ErrUnavailable) {
		return err
	}

	select {
	case <-time.After(unavailableBackoff):
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", core.ErrUnavailable, ctx.Err())
	}
	return fn()
}

func acceptURL(dest config.Destination, tokenID string) string {
	base := strings.TrimSuffix(dest.BaseURL, "/")
	return base + dest.AcceptPath + "?token=" + url.QueryEscape(tokenID)
}
