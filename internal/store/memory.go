package store

import (
	"context"
	"sync"
	"time"

	"github.com/propflow/handoff/internal/core"
)

var _ core.TokenStore = (*InMemoryStore)(nil)

// InMemoryStore keeps transfer tokens in a mutex-guarded map. It is used
// by tests and single-process dev setups; deployments where issuance and
// redemption run in different processes need the SQLite store.
type InMemoryStore struct {
	mu     sync.Mutex
	tokens map[string]*core.TransferToken
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		tokens: make(map[string]*core.TransferToken),
	}
}

func (s *InMemoryStore) Put(_ context.Context, token *core.TransferToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[token.TokenID]; exists {
		return core.ErrConflict
	}
	cp := *token
	s.tokens[token.TokenID] = &cp
	return nil
}

// TryRedeem performs the check and the Issued -> Redeemed transition under
// one lock acquisition, so concurrent redeemers observe exactly one success.
func (s *InMemoryStore) TryRedeem(_ context.Context, tokenID string) (*core.TransferToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tokens[tokenID]
	if !ok {
		return nil, core.ErrNotFound
	}

	switch rec.State {
	case core.StateRedeemed:
		return nil, core.ErrAlreadyRedeemed
	case core.StateRevoked:
		return nil, core.ErrRevoked
	}

	if rec.Expired(time.Now()) {
		// soft fail: the record stays Issued until the sweeper removes it
		return nil, core.ErrExpired
	}

	pre := *rec
	rec.State = core.StateRedeemed
	return &pre, nil
}

func (s *InMemoryStore) Revoke(_ context.Context, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tokens[tokenID]
	if !ok {
		return core.ErrNotFound
	}
	if rec.State.Terminal() {
		return nil
	}
	rec.State = core.StateRevoked
	return nil
}

func (s *InMemoryStore) Sweep(_ context.Context, retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-retention)
	var removed int64
	for id, rec := range s.tokens {
		if rec.ExpiresAt.Before(cutoff) {
			delete(s.tokens, id)
			removed++
		}
	}
	return removed, nil
}

func (s *InMemoryStore) ListActive(_ context.Context) ([]core.TransferToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	active := make([]core.TransferToken, 0)
	for _, rec := range s.tokens {
		if rec.State == core.StateIssued && !rec.Expired(now) {
			active = append(active, *rec)
		}
	}
	return active, nil
}

func (s *InMemoryStore) Close() error {
	return nil // nothing to close :)
}
