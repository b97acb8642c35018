package sessions

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/propflow/handoff/internal/config"
	"github.com/propflow/handoff/internal/core"
)

// StaticVerifier resolves principals from a fixed token map. Dev and
// test use only.
type StaticVerifier struct {
	name     string
	tokenMap map[string]staticPrincipal
}

type staticPrincipal struct {
	UserID string `mapstructure:"user_id"`
	Role   string `mapstructure:"role"`
}

type staticVerifierConfig struct {
	TokenMap map[string]staticPrincipal `mapstructure:"token_map"`
}

func NewStaticVerifier(cfg config.VerifierConfig) (*StaticVerifier, error) {
	var conf staticVerifierConfig
	if err := mapstructure.Decode(cfg.Config, &conf); err != nil {
		return nil, fmt.Errorf("decoding config for static verifier %q: %w", cfg.Name, err)
	}
	// an empty map always fails verification
	if conf.TokenMap == nil {
		conf.TokenMap = make(map[string]staticPrincipal)
	}
	return &StaticVerifier{
		name:     cfg.Name,
		tokenMap: conf.TokenMap,
	}, nil
}

func (s *StaticVerifier) Name() string {
	return s.name
}

func (s *StaticVerifier) Verify(_ context.Context, sessionToken string) (*core.Principal, error) {
	entry, ok := s.tokenMap[sessionToken]
	if !ok {
		return nil, fmt.Errorf("unknown session token")
	}
	role, err := core.ParseRole(entry.Role)
	if err != nil {
		return nil, err
	}
	return &core.Principal{
		UserID: entry.UserID,
		Role:   role,
		Realm:  s.name,
	}, nil
}
