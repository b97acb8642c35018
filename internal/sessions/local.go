package sessions

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/propflow/handoff/internal/core"
)

// LocalIssuer mints the receiving app's own session token after a
// successful redemption. The minted token is compatible with the jwt
// session verifier, so a receiver can itself act as an origin for
// further hops.
type LocalIssuer struct {
	key []byte
	ttl time.Duration
}

func NewLocalIssuer(key []byte, ttl time.Duration) (*LocalIssuer, error) {
	if len(key) < 32 {
		return nil, fmt.Errorf("local session key must be at least 32 bytes")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("local session ttl must be positive")
	}
	return &LocalIssuer{key: key, ttl: ttl}, nil
}

// Issue signs a session token for the given principal.
func (l *LocalIssuer) Issue(principal *core.Principal) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(l.ttl)

	claims := jwt.MapClaims{
		"iss":       principal.Realm,
		"sub":       principal.UserID,
		"role":      string(principal.Role),
		"iat":       now.Unix(),
		"exp":       exp.Unix(),
		"auth_time": now.Unix(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(l.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing local session token: %w", err)
	}
	return signed, exp, nil
}
