package sessions

import (
	"context"
	"fmt"

	"github.com/propflow/handoff/internal/config"
	"github.com/propflow/handoff/internal/core"
)

func BuildRegistry(ctx context.Context, cfgs []config.VerifierConfig) (map[string]core.SessionVerifier, error) {
	registry := make(map[string]core.SessionVerifier)
	for _, cfg := range cfgs {
		switch cfg.Type {
		case "jwt":
			v, err := NewJWTVerifier(cfg)
			if err != nil {
				return nil, fmt.Errorf("building jwt verifier %q: %w", cfg.Name, err)
			}
			registry[cfg.Name] = v
		case "oidc":
			v, err := NewOIDCVerifier(ctx, cfg)
			if err != nil {
				return nil, fmt.Errorf("building oidc verifier %q: %w", cfg.Name, err)
			}
			registry[cfg.Name] = v
		case "static":
			v, err := NewStaticVerifier(cfg)
			if err != nil {
				return nil, fmt.Errorf("building static verifier %q: %w", cfg.Name, err)
			}
			registry[cfg.Name] = v
		default:
			return nil, fmt.Errorf("unknown verifier type %q for verifier %q", cfg.Type, cfg.Name)
		}
	}
	return registry, nil
}
