package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/propflow/handoff/internal/core"
)

// idBytes gives 128 bits of entropy, enough that collisions are
// effectively unreachable and IDs are unguessable.
const idBytes = 16

const minKeyLen = 32

// NewID generates a random transfer token identifier.
func NewID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Signer computes and checks the HMAC over a transfer token's immutable
// fields. The key is shared between the issuing and redeeming deployments,
// so a forged or tampered record fails verification even if the store is
// bypassed.
type Signer struct {
	key []byte
}

func NewSigner(key []byte) (*Signer, error) {
	if len(key) < minKeyLen {
		return nil, fmt.Errorf("signing key must be at least %d bytes, got %d", minKeyLen, len(key))
	}
	return &Signer{key: key}, nil
}

// Sign returns the MAC over (tokenID, userID, destination, expiresAt).
func (s *Signer) Sign(t *core.TransferToken) []byte {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(canonical(t))
	return mac.Sum(nil)
}

// Verify recomputes the MAC and compares it in constant time against the
// token's stored signature.
func (s *Signer) Verify(t *core.TransferToken) error {
	if !hmac.Equal(s.Sign(t), t.Signature) {
		return core.ErrSignatureInvalid
	}
	return nil
}

// canonical encodes the signed fields. Newline separation is unambiguous
// here: token IDs are hex and destinations are allow-listed identifiers,
// neither can contain a newline.
func canonical(t *core.TransferToken) []byte {
	buf := make([]byte, 0, 128)
	buf = append(buf, t.TokenID...)
	buf = append(buf, '\n')
	buf = append(buf, t.UserID...)
	buf = append(buf, '\n')
	buf = append(buf, t.Destination...)
	buf = append(buf, '\n')
	buf = strconv.AppendInt(buf, t.ExpiresAt.Unix(), 10)
	return buf
}
