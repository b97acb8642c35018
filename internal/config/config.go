package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/propflow/handoff/internal/core"
	"github.com/propflow/handoff/internal/routing"
)

type Config struct {
	// Addr is the HTTP listen address.
	Addr string `yaml:"addr"`

	// Secret signs transfer tokens. It must be shared between the
	// issuing and redeeming deployments.
	Secret string `yaml:"secret"`

	// AdminSecret signs admin session JWTs. Leaving it empty disables
	// the admin API.
	AdminSecret string `yaml:"admin_secret"`

	Origin   OriginConfig   `yaml:"origin"`
	Receiver ReceiverConfig `yaml:"receiver"`

	Token        TokenConfig      `yaml:"token"`
	Destinations []Destination    `yaml:"destinations"`
	Verifiers    []VerifierConfig `yaml:"verifiers"`
	Roles        RolesConfig      `yaml:"roles"`
	Routing      RoutingConfig    `yaml:"routing"`
	Store        StoreConfig      `yaml:"store"`
	Audit        AuditConfig      `yaml:"audit"`
}

// OriginConfig configures the issuing side of the handoff.
type OriginConfig struct {
	Enabled bool `yaml:"enabled"`

	// Verifier names the session verifier used to authenticate issue
	// requests.
	Verifier string `yaml:"verifier"`

	// SessionCookie is the cookie the origin app stores its session
	// token in. Requests may also carry it as a bearer token.
	SessionCookie string `yaml:"session_cookie"`

	// FreshnessWindow bounds how long ago the caller may have
	// authenticated. Zero disables the check.
	FreshnessWindow time.Duration `yaml:"freshness_window"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	// PerMinute is the sustained issuance rate allowed per user.
	PerMinute float64 `yaml:"per_minute"`

	// Burst is the instantaneous burst allowed per user.
	Burst int `yaml:"burst"`
}

// ReceiverConfig configures the redeeming side of the handoff.
type ReceiverConfig struct {
	Enabled bool `yaml:"enabled"`

	// Realm is the destination identifier this deployment redeems for.
	// A token issued for another realm always fails here.
	Realm string `yaml:"realm"`

	// LoginURL is where failed redemptions are sent, with a generic
	// error marker only.
	LoginURL string `yaml:"login_url"`

	Session LocalSessionConfig `yaml:"session"`
}

// LocalSessionConfig shapes the session established after redemption.
type LocalSessionConfig struct {
	CookieName string        `yaml:"cookie_name"`
	TTL        time.Duration `yaml:"ttl"`
}

type TokenConfig struct {
	// TTL is the transfer token lifetime. Short on purpose: just long
	// enough for one browser redirect.
	TTL time.Duration `yaml:"ttl"`

	// Retention keeps expired records around briefly for
	// replay-detection auditing before the sweeper removes them.
	Retention time.Duration `yaml:"retention"`

	// SweepInterval is how often the background sweep runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Destination is an allow-listed handoff target.
type Destination struct {
	Name string `yaml:"name"`

	// BaseURL is the destination origin, e.g. https://landlord.example.com.
	BaseURL string `yaml:"base_url"`

	// AcceptPath is the redemption endpoint path on the destination.
	AcceptPath string `yaml:"accept_path"`
}

// VerifierConfig holds configuration for a session verifier.
type VerifierConfig struct {
	Name   string         `yaml:"name"`
	Type   string         `yaml:"type"`    // e.g. "jwt", "oidc", "static"
	Config map[string]any `yaml:",inline"` // capture remaining fields
}

// RolesConfig backs the static role resolver on the receiving side.
type RolesConfig struct {
	// Default is applied to users missing from Users. Empty means
	// unknown users fail resolution.
	Default string `yaml:"default"`

	// Users maps user IDs to role names.
	Users map[string]string `yaml:"users"`
}

type RoutingConfig struct {
	Rules []routing.Rule `yaml:"rules"`
}

type StoreConfig struct {
	Type string `yaml:"type"` // "memory" or "sqlite"
	Path string `yaml:"path"`
}

// AuditConfig holds configuration for auditing.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Type    string `yaml:"type"` // e.g. "file", "memory"
	Path    string `yaml:"path"`
}

const (
	DefaultTTL           = 60 * time.Second
	DefaultRetention     = 10 * time.Minute
	DefaultSweepInterval = time.Minute

	DefaultAcceptPath    = "/session/accept"
	DefaultSessionCookie = "app_session"
	DefaultLocalCookie   = "handoff_session"
	DefaultLocalTTL      = 12 * time.Hour
	DefaultLoginURL      = "/login"
)

// Load reads and parses the configuration file at the given path.
// It returns a Config struct or an error if loading/parsing/validation fails.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config file: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.Token.TTL == 0 {
		c.Token.TTL = DefaultTTL
	}
	if c.Token.Retention == 0 {
		c.Token.Retention = DefaultRetention
	}
	if c.Token.SweepInterval == 0 {
		c.Token.SweepInterval = DefaultSweepInterval
	}
	if c.Origin.SessionCookie == "" {
		c.Origin.SessionCookie = DefaultSessionCookie
	}
	if c.Receiver.LoginURL == "" {
		c.Receiver.LoginURL = DefaultLoginURL
	}
	if c.Receiver.Session.CookieName == "" {
		c.Receiver.Session.CookieName = DefaultLocalCookie
	}
	if c.Receiver.Session.TTL == 0 {
		c.Receiver.Session.TTL = DefaultLocalTTL
	}
	if c.Store.Type == "" {
		c.Store.Type = "memory"
	}
	for i := range c.Destinations {
		if c.Destinations[i].AcceptPath == "" {
			c.Destinations[i].AcceptPath = DefaultAcceptPath
		}
	}
}

func (c *Config) Validate() error {
	if len(c.Secret) < 32 {
		return fmt.Errorf("secret must be at least 32 bytes")
	}
	if !c.Origin.Enabled && !c.Receiver.Enabled {
		return fmt.Errorf("at least one of origin or receiver must be enabled")
	}

	validDestinations := make(map[string]struct{})
	for idx, d := range c.Destinations {
		if d.Name == "" {
			return fmt.Errorf("destination at index %d has empty name", idx)
		}
		if _, exists := validDestinations[d.Name]; exists {
			return fmt.Errorf("destination name %q is not unique", d.Name)
		}
		if d.BaseURL == "" {
			return fmt.Errorf("destination %q missing base_url", d.Name)
		}
		u, err := url.Parse(d.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("destination %q has invalid base_url %q", d.Name, d.BaseURL)
		}
		validDestinations[d.Name] = struct{}{}
	}

	validVerifiers := make(map[string]struct{})
	for idx, v := range c.Verifiers {
		if v.Name == "" {
			return fmt.Errorf("verifier at index %d has empty name", idx)
		}
		if _, exists := validVerifiers[v.Name]; exists {
			return fmt.Errorf("verifier name %q is not unique", v.Name)
		}
		validVerifiers[v.Name] = struct{}{}
	}

	if c.Origin.Enabled {
		if len(c.Destinations) == 0 {
			return fmt.Errorf("origin is enabled but no destinations are configured")
		}
		if c.Origin.Verifier == "" {
			return fmt.Errorf("origin is enabled but origin.verifier is not set")
		}
		if _, known := validVerifiers[c.Origin.Verifier]; !known {
			return fmt.Errorf("origin.verifier references unknown verifier %q", c.Origin.Verifier)
		}
	}

	if c.Receiver.Enabled {
		if c.Receiver.Realm == "" {
			return fmt.Errorf("receiver is enabled but receiver.realm is not set")
		}
	}

	if c.Token.TTL < 10*time.Second || c.Token.TTL > 10*time.Minute {
		return fmt.Errorf("token.ttl %s is outside the sane range [10s, 10m]", c.Token.TTL)
	}

	for userID, role := range c.Roles.Users {
		if _, err := core.ParseRole(role); err != nil {
			return fmt.Errorf("roles.users[%s]: %w", userID, err)
		}
	}
	if c.Roles.Default != "" {
		if _, err := core.ParseRole(c.Roles.Default); err != nil {
			return fmt.Errorf("roles.default: %w", err)
		}
	}

	switch c.Store.Type {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.type sqlite requires store.path")
		}
	default:
		return fmt.Errorf("unknown store type %q", c.Store.Type)
	}

	if c.Audit.Enabled {
		switch c.Audit.Type {
		case "memory":
		case "file":
			if c.Audit.Path == "" {
				return fmt.Errorf("audit.type file requires audit.path")
			}
		default:
			return fmt.Errorf("unknown audit type %q", c.Audit.Type)
		}
	}

	if _, err := routing.CompileRules(c.Routing.Rules, validDestinations); err != nil {
		return err
	}

	return nil
}

// DestinationSet returns the allow-listed destination names.
func (c *Config) DestinationSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.Destinations))
	for _, d := range c.Destinations {
		set[d.Name] = struct{}{}
	}
	return set
}

// Destination looks up an allow-listed destination by name.
func (c *Config) Destination(name string) (Destination, bool) {
	for _, d := range c.Destinations {
		if d.Name == name {
			return d, true
		}
	}
	return Destination{}, false
}
