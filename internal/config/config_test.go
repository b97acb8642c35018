package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validConfig = `
addr: ":8080"
secret: "0123456789abcdef0123456789abcdef"
origin:
  enabled: true
  verifier: dashboard-session
destinations:
  - name: landlord-app
    base_url: https://landlord.example.com
verifiers:
  - name: dashboard-session
    type: jwt
    secret: "0123456789abcdef0123456789abcdef"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "handoff.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Token.TTL != DefaultTTL {
		t.Errorf("expected default TTL %s, got %s", DefaultTTL, cfg.Token.TTL)
	}
	if cfg.Token.Retention != DefaultRetention {
		t.Errorf("expected default retention %s, got %s", DefaultRetention, cfg.Token.Retention)
	}
	if cfg.Destinations[0].AcceptPath != DefaultAcceptPath {
		t.Errorf("expected default accept path, got %q", cfg.Destinations[0].AcceptPath)
	}
	if cfg.Store.Type != "memory" {
		t.Errorf("expected default memory store, got %q", cfg.Store.Type)
	}

	if _, ok := cfg.Destination("landlord-app"); !ok {
		t.Error("expected landlord-app destination lookup to succeed")
	}
	if _, ok := cfg.Destination("other"); ok {
		t.Error("expected unknown destination lookup to fail")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s string) string
		wantErr string
	}{
		{
			name:    "short secret",
			mutate:  func(s string) string { return strings.Replace(s, "0123456789abcdef0123456789abcdef\"", "short\"", 1) },
			wantErr: "secret",
		},
		{
			name:    "unknown verifier reference",
			mutate:  func(s string) string { return strings.Replace(s, "verifier: dashboard-session", "verifier: nope", 1) },
			wantErr: "unknown verifier",
		},
		{
			name:    "no destinations",
			mutate:  func(s string) string { return strings.Replace(s, "  - name: landlord-app\n    base_url: https://landlord.example.com\n", "", 1) },
			wantErr: "destinations",
		},
		{
			name:    "bad base url",
			mutate:  func(s string) string { return strings.Replace(s, "https://landlord.example.com", "not a url", 1) },
			wantErr: "base_url",
		},
		{
			name:    "bad ttl",
			mutate:  func(s string) string { return s + "token:\n  ttl: 1s\n" },
			wantErr: "token.ttl",
		},
		{
			name:    "sqlite without path",
			mutate:  func(s string) string { return s + "store:\n  type: sqlite\n" },
			wantErr: "store.path",
		},
		{
			name:    "bad role",
			mutate:  func(s string) string { return s + "roles:\n  users:\n    u1: intern\n" },
			wantErr: "unknown role",
		},
		{
			name:    "receiver without realm",
			mutate:  func(s string) string { return s + "receiver:\n  enabled: true\n" },
			wantErr: "receiver.realm",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.mutate(validConfig)))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error mentioning %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoad_ReceiverOnly(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
secret: "0123456789abcdef0123456789abcdef"
receiver:
  enabled: true
  realm: landlord-app
roles:
  default: landlord
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Receiver.Session.TTL != DefaultLocalTTL {
		t.Errorf("expected default local session TTL, got %s", cfg.Receiver.Session.TTL)
	}
	if cfg.Receiver.LoginURL != DefaultLoginURL {
		t.Errorf("expected default login url, got %q", cfg.Receiver.LoginURL)
	}
}

func TestLoad_TTLRange(t *testing.T) {
	base := strings.Replace(validConfig, "addr: \":8080\"\n", "", 1)
	cfg, err := Load(writeConfig(t, base+"token:\n  ttl: 90s\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Token.TTL != 90*time.Second {
		t.Errorf("expected 90s TTL, got %s", cfg.Token.TTL)
	}
}
