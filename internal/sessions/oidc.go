package sessions

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/mitchellh/mapstructure"

	"github.com/propflow/handoff/internal/config"
	"github.com/propflow/handoff/internal/core"
)

// OIDCVerifier validates IdP-issued ID tokens. Used when the origin app
// fronts its sessions with an external identity provider instead of its
// own HMAC-signed session tokens.
type OIDCVerifier struct {
	name     string
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

type oidcVerifierConfig struct {
	IssuerURL string `mapstructure:"issuer_url"`
	ClientID  string `mapstructure:"client_id"`
}

func NewOIDCVerifier(ctx context.Context, cfg config.VerifierConfig) (*OIDCVerifier, error) {
	var conf oidcVerifierConfig
	if err := mapstructure.Decode(cfg.Config, &conf); err != nil {
		return nil, fmt.Errorf("decoding config for oidc verifier %q: %w", cfg.Name, err)
	}
	if conf.IssuerURL == "" {
		return nil, fmt.Errorf("oidc verifier %q missing 'issuer_url'", cfg.Name)
	}
	if conf.ClientID == "" {
		return nil, fmt.Errorf("oidc verifier %q missing 'client_id'", cfg.Name)
	}

	provider, err := oidc.NewProvider(ctx, conf.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("creating oidc provider for verifier %q: %w", cfg.Name, err)
	}

	return &OIDCVerifier{
		name:     cfg.Name,
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: conf.ClientID}),
	}, nil
}

func (o *OIDCVerifier) Name() string {
	return o.name
}

func (o *OIDCVerifier) Verify(ctx context.Context, sessionToken string) (*core.Principal, error) {
	idToken, err := o.verifier.Verify(ctx, sessionToken)
	if err != nil {
		return nil, fmt.Errorf("oidc verification failed: %w", err)
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("extracting oidc claims: %w", err)
	}

	// the issuer is already checked by the oidc library
	return principalFromClaims(o.name, "", claims)
}
