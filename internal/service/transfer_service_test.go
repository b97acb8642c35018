package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/propflow/handoff/internal/audit"
	"github.com/propflow/handoff/internal/config"
	"github.com/propflow/handoff/internal/core"
	"github.com/propflow/handoff/internal/sessions"
	"github.com/propflow/handoff/internal/store"
	"github.com/propflow/handoff/internal/token"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testVerifier(t *testing.T) core.SessionVerifier {
	t.Helper()
	v, err := sessions.NewStaticVerifier(config.VerifierConfig{
		Name: "static",
		Type: "static",
		Config: map[string]any{
			"token_map": map[string]any{
				"sess-landlord": map[string]any{"user_id": "u1", "role": "landlord"},
				"sess-tenant":   map[string]any{"user_id": "u2", "role": "tenant"},
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func testResolver(t *testing.T) core.RoleResolver {
	t.Helper()
	r, err := sessions.NewStaticRoleResolver(config.RolesConfig{
		Users: map[string]string{"u1": "landlord"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

type testEnv struct {
	svc     *TransferService
	store   core.TokenStore
	auditor *audit.InMemoryAuditor
}

func newTestEnv(t *testing.T, mutate func(opts *Options)) *testEnv {
	t.Helper()

	signer, err := token.NewSigner([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	auditor := audit.NewInMemoryAuditor()
	tokenStore := store.NewInMemoryStore()

	opts := Options{
		Verifier: testVerifier(t),
		Resolver: testResolver(t),
		Store:    tokenStore,
		Signer:   signer,
		Auditor:  auditor,
		Destinations: []config.Destination{
			{Name: "landlord-app", BaseURL: "https://landlord.example.com", AcceptPath: "/session/accept"},
		},
		TTL: time.Minute,
	}
	if mutate != nil {
		mutate(&opts)
	}

	return &testEnv{
		svc:     NewTransferService(opts),
		store:   opts.Store,
		auditor: auditor,
	}
}

func (e *testEnv) issue(t *testing.T) *IssueResult {
	t.Helper()
	res, err := e.svc.Issue(context.Background(), IssueRequest{
		SessionToken: "sess-landlord",
		UserID:       "u1",
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return res
}

func TestIssue_Landlord(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.issue(t)

	if res.Token.State != core.StateIssued {
		t.Errorf("expected Issued state, got %s", res.Token.State)
	}
	if res.Token.UserID != "u1" {
		t.Errorf("expected user u1, got %q", res.Token.UserID)
	}
	if res.Token.Destination != "landlord-app" {
		t.Errorf("expected landlord-app destination, got %q", res.Token.Destination)
	}
	if ttl := time.Until(res.Token.ExpiresAt); ttl <= 0 || ttl > time.Minute {
		t.Errorf("unexpected ttl %s", ttl)
	}

	want := "https://landlord.example.com/session/accept?token=" + res.Token.TokenID
	if res.RedirectURL != want {
		t.Errorf("redirect url mismatch:\n want %s\n got  %s", want, res.RedirectURL)
	}

	// persisted before return
	active, err := env.store.ListActive(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].TokenID != res.Token.TokenID {
		t.Fatalf("expected token in store, got %+v", active)
	}
}

func TestIssue_Failures(t *testing.T) {
	tests := []struct {
		name    string
		req     IssueRequest
		wantErr error
	}{
		{
			name:    "unknown session token",
			req:     IssueRequest{SessionToken: "garbage", UserID: "u1"},
			wantErr: core.ErrUnauthenticated,
		},
		{
			name:    "empty session token",
			req:     IssueRequest{UserID: "u1"},
			wantErr: core.ErrUnauthenticated,
		},
		{
			name:    "user mismatch",
			req:     IssueRequest{SessionToken: "sess-landlord", UserID: "u2"},
			wantErr: core.ErrUnauthenticated,
		},
		{
			name:    "tenant never hands off",
			req:     IssueRequest{SessionToken: "sess-tenant", UserID: "u2"},
			wantErr: core.ErrInvalidDestination,
		},
		{
			name:    "destination mismatch",
			req:     IssueRequest{SessionToken: "sess-landlord", UserID: "u1", Destination: "other-app"},
			wantErr: core.ErrInvalidDestination,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			if _, err := env.svc.Issue(context.Background(), tt.req); !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestIssue_RateLimited(t *testing.T) {
	env := newTestEnv(t, func(opts *Options) {
		opts.RateLimit = config.RateLimitConfig{PerMinute: 1, Burst: 2}
	})

	for i := 0; i < 2; i++ {
		env.issue(t)
	}
	_, err := env.svc.Issue(context.Background(), IssueRequest{
		SessionToken: "sess-landlord",
		UserID:       "u1",
	})
	if !errors.Is(err, core.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

type staleVerifier struct{}

func (staleVerifier) Name() string { return "stale" }

func (staleVerifier) Verify(_ context.Context, _ string) (*core.Principal, error) {
	return &core.Principal{
		UserID:   "u1",
		Role:     core.RoleLandlord,
		AuthTime: time.Now().Add(-time.Hour),
	}, nil
}

func TestIssue_StaleAuthentication(t *testing.T) {
	env := newTestEnv(t, func(opts *Options) {
		opts.Verifier = staleVerifier{}
		opts.FreshnessWindow = 5 * time.Minute
	})

	_, err := env.svc.Issue(context.Background(), IssueRequest{SessionToken: "x", UserID: "u1"})
	if !errors.Is(err, core.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for stale auth, got %v", err)
	}
}

func TestRedeem_Scenario(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.issue(t)

	principal, err := env.svc.Redeem(context.Background(), res.Token.TokenID, "landlord-app")
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if principal.UserID != "u1" {
		t.Errorf("expected user u1, got %q", principal.UserID)
	}
	if principal.Role != core.RoleLandlord {
		t.Errorf("expected freshly resolved landlord role, got %q", principal.Role)
	}
	if principal.Realm != "landlord-app" {
		t.Errorf("expected landlord-app realm, got %q", principal.Realm)
	}

	// immediate second redemption loses
	if _, err := env.svc.Redeem(context.Background(), res.Token.TokenID, "landlord-app"); !errors.Is(err, core.ErrAlreadyRedeemed) {
		t.Fatalf("expected ErrAlreadyRedeemed, got %v", err)
	}

	// the replay is flagged in the audit trail
	replays, err := env.auditor.Find(func(e core.AuditEntry) bool { return e.Replay }, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(replays) != 1 {
		t.Fatalf("expected 1 replay audit entry, got %d", len(replays))
	}
}

func TestRedeem_DestinationBinding(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.issue(t)

	_, err := env.svc.Redeem(context.Background(), res.Token.TokenID, "other-app")
	if !errors.Is(err, core.ErrInvalidDestination) {
		t.Fatalf("expected ErrInvalidDestination, got %v", err)
	}
}

func TestRedeem_TamperedRecord(t *testing.T) {
	env := newTestEnv(t, nil)

	// a record whose signature was produced with a different key must
	// fail closed even though the store accepted it
	otherSigner, err := token.NewSigner([]byte("ffffffffffffffffffffffffffffffff"))
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	forged := &core.TransferToken{
		TokenID:     "00112233445566778899aabbccddeeff",
		UserID:      "u1",
		Destination: "landlord-app",
		IssuedAt:    now,
		ExpiresAt:   now.Add(time.Minute),
		State:       core.StateIssued,
	}
	forged.Signature = otherSigner.Sign(forged)
	if err := env.store.Put(context.Background(), forged); err != nil {
		t.Fatal(err)
	}

	if _, err := env.svc.Redeem(context.Background(), forged.TokenID, "landlord-app"); !errors.Is(err, core.ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestRedeem_Expired(t *testing.T) {
	env := newTestEnv(t, nil)

	signer, _ := token.NewSigner([]byte(testSecret))
	now := time.Now()
	expired := &core.TransferToken{
		TokenID:     "00112233445566778899aabbccddeeff",
		UserID:      "u1",
		Destination: "landlord-app",
		IssuedAt:    now.Add(-2 * time.Minute),
		ExpiresAt:   now.Add(-time.Minute),
		State:       core.StateIssued,
	}
	expired.Signature = signer.Sign(expired)
	if err := env.store.Put(context.Background(), expired); err != nil {
		t.Fatal(err)
	}

	if _, err := env.svc.Redeem(context.Background(), expired.TokenID, "landlord-app"); !errors.Is(err, core.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestRevoke_BeforeRedemption(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.issue(t)

	if err := env.svc.Revoke(context.Background(), res.Token.TokenID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	// idempotent
	if err := env.svc.Revoke(context.Background(), res.Token.TokenID); err != nil {
		t.Fatalf("second Revoke: %v", err)
	}

	// within TTL, still fails closed
	if _, err := env.svc.Redeem(context.Background(), res.Token.TokenID, "landlord-app"); !errors.Is(err, core.ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
}

func TestRedeem_UnknownToken(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.svc.Redeem(context.Background(), strings.Repeat("0", 32), "landlord-app"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// flakyStore fails each operation once with ErrUnavailable before
// delegating, to exercise the single-retry policy.
type flakyStore struct {
	core.TokenStore

	mu     sync.Mutex
	failed map[string]bool
}

func (f *flakyStore) failOnce(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.failed[op] {
		f.failed[op] = true
		return core.ErrUnavailable
	}
	return nil
}

func (f *flakyStore) Put(ctx context.Context, tok *core.TransferToken) error {
	if err := f.failOnce("put"); err != nil {
		return err
	}
	return f.TokenStore.Put(ctx, tok)
}

func (f *flakyStore) TryRedeem(ctx context.Context, tokenID string) (*core.TransferToken, error) {
	if err := f.failOnce("redeem"); err != nil {
		return nil, err
	}
	return f.TokenStore.TryRedeem(ctx, tokenID)
}

func TestUnavailable_RetriedOnce(t *testing.T) {
	flaky := &flakyStore{TokenStore: store.NewInMemoryStore(), failed: make(map[string]bool)}
	env := newTestEnv(t, func(opts *Options) {
		opts.Store = flaky
	})

	res := env.issue(t) // first Put fails, retry succeeds

	if _, err := env.svc.Redeem(context.Background(), res.Token.TokenID, "landlord-app"); err != nil {
		t.Fatalf("Redeem after transient failure: %v", err)
	}
}

type downStore struct {
	core.TokenStore
}

func (downStore) Put(context.Context, *core.TransferToken) error {
	return core.ErrUnavailable
}

func TestUnavailable_SurfacedAfterRetry(t *testing.T) {
	env := newTestEnv(t, func(opts *Options) {
		opts.Store = downStore{TokenStore: store.NewInMemoryStore()}
	})

	_, err := env.svc.Issue(context.Background(), IssueRequest{
		SessionToken: "sess-landlord",
		UserID:       "u1",
	})
	if !errors.Is(err, core.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable after exhausted retry, got %v", err)
	}
}

// TestRedeem_Concurrent drives the exactly-once property end to end
// through the service: N concurrent redeemers, one principal.
func TestRedeem_Concurrent(t *testing.T) {
	const redeemers = 16

	env := newTestEnv(t, nil)
	res := env.issue(t)

	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make(chan error, redeemers)

	for i := 0; i < redeemers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.svc.Redeem(context.Background(), res.Token.TokenID, "landlord-app")
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	var successes int
	for err := range results {
		if err == nil {
			successes++
		} else if !errors.Is(err, core.ErrAlreadyRedeemed) {
			t.Fatalf("unexpected error class: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly 1 successful redemption, got %d", successes)
	}
}

func TestIssue_Audited(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.issue(t)

	entries, err := env.auditor.Find(func(e core.AuditEntry) bool {
		return e.Action == "transfer.issue" && e.Success
	}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 issuance audit entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.UserID != "u1" || entry.Destination != "landlord-app" || entry.TokenID != res.Token.TokenID {
		t.Fatalf("unexpected audit entry: %+v", entry)
	}
}
