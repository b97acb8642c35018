package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/propflow/handoff/internal/audit"
	"github.com/propflow/handoff/internal/config"
	"github.com/propflow/handoff/internal/routing"
	"github.com/propflow/handoff/internal/service"
	"github.com/propflow/handoff/internal/sessions"
	"github.com/propflow/handoff/internal/store"
	"github.com/propflow/handoff/internal/tasks"
	"github.com/propflow/handoff/internal/token"
)

const (
	testSecret      = "0123456789abcdef0123456789abcdef"
	testAdminSecret = "fedcba9876543210fedcba9876543210"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		Secret:      testSecret,
		AdminSecret: testAdminSecret,
		Origin: config.OriginConfig{
			Enabled:       true,
			Verifier:      "static",
			SessionCookie: config.DefaultSessionCookie,
		},
		Receiver: config.ReceiverConfig{
			Enabled:  true,
			Realm:    "landlord-app",
			LoginURL: "/login",
			Session: config.LocalSessionConfig{
				CookieName: config.DefaultLocalCookie,
				TTL:        time.Hour,
			},
		},
		Token: config.TokenConfig{
			TTL:       time.Minute,
			Retention: 10 * time.Minute,
		},
		Destinations: []config.Destination{
			{Name: "landlord-app", BaseURL: "https://landlord.example.com", AcceptPath: "/session/accept"},
		},
	}

	verifier, err := sessions.NewStaticVerifier(config.VerifierConfig{
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

	resolver, err := sessions.NewStaticRoleResolver(config.RolesConfig{
		Users: map[string]string{"u1": "landlord"},
	})
	if err != nil {
		t.Fatal(err)
	}

	signer, err := token.NewSigner([]byte(cfg.Secret))
	if err != nil {
		t.Fatal(err)
	}

	localIssuer, err := sessions.NewLocalIssuer([]byte(cfg.Secret), cfg.Receiver.Session.TTL)
	if err != nil {
		t.Fatal(err)
	}

	auditor := audit.NewInMemoryAuditor()
	tokenStore := store.NewInMemoryStore()
	router := routing.New(nil)

	svc := service.NewTransferService(service.Options{
		Verifier:     verifier,
		Resolver:     resolver,
		Router:       router,
		Store:        tokenStore,
		Signer:       signer,
		Auditor:      auditor,
		Destinations: cfg.Destinations,
		TTL:          cfg.Token.TTL,
	})

	taskManager := tasks.NewManager()
	taskManager.Register("token-sweep", 0, svc.SweepTask(cfg.Token.Retention))
	t.Cleanup(taskManager.Close)

	srv := NewServer(cfg, svc, router, localIssuer, taskManager, auditor, tokenStore)

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

// noRedirectClient observes redirects instead of following them.
func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func generateToken(t *testing.T, ts *httptest.Server, sessionToken, userID string) (string, *http.Response) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, ts.URL+GenerateTransferTokenRoute,
		strings.NewReader(`{"userId": "`+userID+`"}`))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sessionToken != "" {
		req.Header.Set("Authorization", "Bearer "+sessionToken)
	}

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", resp
	}

	var payload GenerateTransferTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}

	u, err := url.Parse(payload.RedirectURL)
	if err != nil {
		t.Fatalf("invalid redirect url %q: %v", payload.RedirectURL, err)
	}
	if u.Host != "landlord.example.com" || u.Path != "/session/accept" {
		t.Fatalf("unexpected redirect url %q", payload.RedirectURL)
	}
	tokenID := u.Query().Get("token")
	if tokenID == "" {
		t.Fatalf("redirect url %q carries no token", payload.RedirectURL)
	}
	return tokenID, resp
}

func TestHealthAndAbout(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + HealthCheckRoute)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health: expected 200, got %d", resp.StatusCode)
	}

	resp, err = ts.Client().Get(ts.URL + AboutRoute)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("about: expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Correlation-ID"); got == "" {
		t.Error("expected a correlation id header on every response")
	}
}

func TestSessionAccept_FullFlow(t *testing.T) {
	ts := newTestServer(t)
	client := noRedirectClient()

	tokenID, _ := generateToken(t, ts, "sess-landlord", "u1")

	resp, err := client.Get(ts.URL + SessionAcceptRoute + "?token=" + tokenID)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/landlord/dashboard" {
		t.Errorf("expected dashboard redirect, got %q", loc)
	}

	var sessionCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == config.DefaultLocalCookie {
			sessionCookie = c
		}
	}
	if sessionCookie == nil {
		t.Fatal("expected a local session cookie")
	}
	if !sessionCookie.HttpOnly || !sessionCookie.Secure {
		t.Error("session cookie must be HttpOnly and Secure")
	}

	// second presentation of the same token fails generically
	resp, err = client.Get(ts.URL + SessionAcceptRoute + "?token=" + tokenID)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/login?error=transfer_failed" {
		t.Errorf("expected generic login redirect, got %q", loc)
	}
	if len(resp.Cookies()) != 0 {
		t.Error("replay must not set a session cookie")
	}
}

func TestExchangeToken(t *testing.T) {
	ts := newTestServer(t)

	tokenID, _ := generateToken(t, ts, "sess-landlord", "u1")

	resp, err := ts.Client().Post(ts.URL+ExchangeTokenRoute, "application/json",
		strings.NewReader(`{"token": "`+tokenID+`"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload ExchangeTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.Session == "" {
		t.Error("expected a session token")
	}
	if payload.UserID != "u1" || payload.Role != "landlord" {
		t.Errorf("unexpected principal: %+v", payload)
	}

	// replay via the SPA endpoint gets the same generic answer as any
	// other failure
	resp2, err := ts.Client().Post(ts.URL+ExchangeTokenRoute, "application/json",
		strings.NewReader(`{"token": "`+tokenID+`"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 on replay, got %d", resp2.StatusCode)
	}

	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&errResp); err != nil {
		t.Fatal(err)
	}
	if errResp.Error != "invalid or expired transfer token" {
		t.Errorf("replay must get the generic failure message, got %q", errResp.Error)
	}
}

func TestExchangeToken_UnknownToken(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.Client().Post(ts.URL+ExchangeTokenRoute, "application/json",
		strings.NewReader(`{"token": "ffffffffffffffffffffffffffffffff"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestGenerateTransferToken_Failures(t *testing.T) {
	tests := []struct {
		name         string
		sessionToken string
		userID       string
		wantStatus   int
	}{
		{
			name:       "missing session",
			userID:     "u1",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:         "unknown session",
			sessionToken: "garbage",
			userID:       "u1",
			wantStatus:   http.StatusUnauthorized,
		},
		{
			name:         "user mismatch",
			sessionToken: "sess-landlord",
			userID:       "someone-else",
			wantStatus:   http.StatusUnauthorized,
		},
		{
			name:         "tenant does not hand off",
			sessionToken: "sess-tenant",
			userID:       "u2",
			wantStatus:   http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			_, resp := generateToken(t, ts, tt.sessionToken, tt.userID)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
		})
	}
}

func adminJWT(t *testing.T, roles ...string) string {
	t.Helper()

	anyRoles := make([]any, len(roles))
	for i, r := range roles {
		anyRoles[i] = r
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "ops",
		"roles": anyRoles,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testAdminSecret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func TestAdmin_RequiresPrivilege(t *testing.T) {
	ts := newTestServer(t)

	// no token
	resp, err := ts.Client().Get(ts.URL + ListTokensRoute)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	// token without the admin role
	req, _ := http.NewRequest(http.MethodGet, ts.URL+ListTokensRoute, nil)
	req.Header.Set("Authorization", "Bearer "+adminJWT(t, "viewer"))
	resp, err = ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without admin role, got %d", resp.StatusCode)
	}
}

func TestAdmin_RevokeBlocksRedemption(t *testing.T) {
	ts := newTestServer(t)
	client := noRedirectClient()

	tokenID, _ := generateToken(t, ts, "sess-landlord", "u1")

	// list shows the active token
	req, _ := http.NewRequest(http.MethodGet, ts.URL+ListTokensRoute, nil)
	req.Header.Set("Authorization", "Bearer "+adminJWT(t, "admin"))
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var active []struct {
		TokenID string `json:"token_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&active); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if len(active) != 1 || active[0].TokenID != tokenID {
		t.Fatalf("expected active token %s, got %+v", tokenID, active)
	}

	// revoke it
	req, _ = http.NewRequest(http.MethodPost, ts.URL+AdminParent+"tokens/"+tokenID+"/revoke", nil)
	req.Header.Set("Authorization", "Bearer "+adminJWT(t, "admin"))
	resp, err = ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revoke: expected 200, got %d", resp.StatusCode)
	}

	// redemption now fails, still generically
	resp, err = client.Get(ts.URL + SessionAcceptRoute + "?token=" + tokenID)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if loc := resp.Header.Get("Location"); loc != "/login?error=transfer_failed" {
		t.Errorf("expected generic login redirect, got %q", loc)
	}
}

func TestAdmin_AuditsFilterReplay(t *testing.T) {
	ts := newTestServer(t)
	client := noRedirectClient()

	tokenID, _ := generateToken(t, ts, "sess-landlord", "u1")
	for i := 0; i < 2; i++ {
		resp, err := client.Get(ts.URL + SessionAcceptRoute + "?token=" + tokenID)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+ListAuditsRoute+"?replay=true", nil)
	req.Header.Set("Authorization", "Bearer "+adminJWT(t, "admin"))
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var entries []struct {
		Action  string `json:"action"`
		TokenID string `json:"token_id"`
		Replay  bool   `json:"replay"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 replay entry, got %d", len(entries))
	}
	if entries[0].TokenID != tokenID || !entries[0].Replay {
		t.Errorf("unexpected replay entry: %+v", entries[0])
	}
}

func TestAdmin_Tasks(t *testing.T) {
	ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+ListTasksRoute, nil)
	req.Header.Set("Authorization", "Bearer "+adminJWT(t, "admin"))
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var statuses []struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 1 || statuses[0].Name != "token-sweep" {
		t.Fatalf("expected the token-sweep task, got %+v", statuses)
	}

	req, _ = http.NewRequest(http.MethodPost, ts.URL+AdminParent+"tasks/token-sweep/trigger", nil)
	req.Header.Set("Authorization", "Bearer "+adminJWT(t, "admin"))
	resp2, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("trigger: expected 200, got %d", resp2.StatusCode)
	}
}
