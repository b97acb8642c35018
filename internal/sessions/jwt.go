package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mitchellh/mapstructure"

	"github.com/propflow/handoff/internal/config"
	"github.com/propflow/handoff/internal/core"
)

// JWTVerifier validates HMAC-signed session tokens minted by the origin
// app. The session token is how the already-authenticated caller proves
// itself to the issue endpoint; the transfer token itself never carries
// these claims.
type JWTVerifier struct {
	name   string
	key    []byte
	issuer string
}

type jwtVerifierConfig struct {
	// Secret is the HMAC key the origin app signs sessions with.
	Secret string `mapstructure:"secret"`

	// Issuer is the expected "iss" claim. Empty skips the check.
	Issuer string `mapstructure:"issuer"`
}

func NewJWTVerifier(cfg config.VerifierConfig) (*JWTVerifier, error) {
	var conf jwtVerifierConfig
	if err := mapstructure.Decode(cfg.Config, &conf); err != nil {
		return nil, fmt.Errorf("decoding config for jwt verifier %q: %w", cfg.Name, err)
	}
	if len(conf.Secret) < 32 {
		return nil, fmt.Errorf("jwt verifier %q: secret must be at least 32 bytes", cfg.Name)
	}
	return &JWTVerifier{
		name:   cfg.Name,
		key:    []byte(conf.Secret),
		issuer: conf.Issuer,
	}, nil
}

func (v *JWTVerifier) Name() string {
	return v.name
}

func (v *JWTVerifier) Verify(_ context.Context, sessionToken string) (*core.Principal, error) {
	parsed, err := jwt.Parse(sessionToken, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.key, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("invalid session token: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid session claims")
	}

	return principalFromClaims(v.name, v.issuer, claims)
}

// principalFromClaims builds a Principal from verified session claims.
// Shared by the jwt and oidc verifiers.
func principalFromClaims(verifierName, expectedIssuer string, claims map[string]any) (*core.Principal, error) {
	iss, _ := claims["iss"].(string)
	if expectedIssuer != "" && iss != expectedIssuer {
		return nil, fmt.Errorf("unexpected session issuer %q", iss)
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("session missing 'sub' claim")
	}

	roleRaw, ok := claims["role"].(string)
	if !ok {
		return nil, fmt.Errorf("session missing 'role' claim")
	}
	role, err := core.ParseRole(roleRaw)
	if err != nil {
		return nil, err
	}

	var authTime time.Time
	switch at := claims["auth_time"].(type) {
	case float64:
		authTime = time.Unix(int64(at), 0)
	case int64:
		authTime = time.Unix(at, 0)
	}

	return &core.Principal{
		UserID:     sub,
		Role:       role,
		Realm:      iss,
		AuthTime:   authTime,
		Attributes: claims,
	}, nil
}
