package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/propflow/handoff/internal/core"
)

var _ core.TokenStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS transfer_tokens (
	token_id   TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	destination TEXT NOT NULL,
	issued_at  INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	state      TEXT NOT NULL,
	signature  BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transfer_tokens_expires ON transfer_tokens (expires_at);
`

// SQLiteStore is the durable token store shared by the issuing and
// redeeming deployments. Single-use redemption is enforced with one
// conditional UPDATE, never a separate read and write.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %q: %w", path, err)
	}
	// writes from two deployments serialize on the database lock
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func (s *SQLiteStore) Put(ctx context.Context, token *core.TransferToken) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO transfer_tokens (token_id, user_id, destination, issued_at, expires_at, state, signature)
VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		token.TokenID,
		token.UserID,
		token.Destination,
		toMillis(token.IssuedAt),
		toMillis(token.ExpiresAt),
		string(token.State),
		token.Signature,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return core.ErrConflict
		}
		return fmt.Errorf("%w: insert token: %v", core.ErrUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) TryRedeem(ctx context.Context, tokenID string) (*core.TransferToken, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %v", core.ErrUnavailable, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	nowMs := toMillis(time.Now())

	// the conditional UPDATE is the atomicity crux: of N concurrent
	// redeemers exactly one sees RowsAffected == 1
	res, err := tx.ExecContext(ctx, `
UPDATE transfer_tokens SET state = ?
WHERE token_id = ? AND state = ? AND expires_at > ?
`, string(core.StateRedeemed), tokenID, string(core.StateIssued), nowMs)
	if err != nil {
		return nil, fmt.Errorf("%w: redeem update: %v", core.ErrUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%w: rows affected: %v", core.ErrUnavailable, err)
	}

	if affected == 0 {
		defer func() {
			_ = tx.Commit()
		}()
		return nil, s.classifyRedeemFailure(ctx, tx, tokenID, nowMs)
	}

	rec, err := scanToken(tx.QueryRowContext(ctx, `
SELECT token_id, user_id, destination, issued_at, expires_at, state, signature
FROM transfer_tokens WHERE token_id = ?
`, tokenID))
	if err != nil {
		return nil, fmt.Errorf("%w: read redeemed token: %v", core.ErrUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", core.ErrUnavailable, err)
	}

	// return the pre-transition record
	rec.State = core.StateIssued
	return rec, nil
}

func (s *SQLiteStore) classifyRedeemFailure(ctx context.Context, tx *sql.Tx, tokenID string, nowMs int64) error {
	var state string
	var expiresAt int64
	err := tx.QueryRowContext(ctx,
		`SELECT state, expires_at FROM transfer_tokens WHERE token_id = ?`, tokenID).
		Scan(&state, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: classify redeem failure: %v", core.ErrUnavailable, err)
	}

	switch core.State(state) {
	case core.StateRedeemed:
		return core.ErrAlreadyRedeemed
	case core.StateRevoked:
		return core.ErrRevoked
	}
	if expiresAt <= nowMs {
		return core.ErrExpired
	}
	// state flipped between our UPDATE and this read; treat as lost race
	return core.ErrAlreadyRedeemed
}

func (s *SQLiteStore) Revoke(ctx context.Context, tokenID string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE transfer_tokens SET state = ? WHERE token_id = ? AND state = ?
`, string(core.StateRevoked), tokenID, string(core.StateIssued))
	if err != nil {
		return fmt.Errorf("%w: revoke update: %v", core.ErrUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", core.ErrUnavailable, err)
	}
	if affected == 1 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT 1 FROM transfer_tokens WHERE token_id = ?`, tokenID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: revoke lookup: %v", core.ErrUnavailable, err)
	}
	return nil // already terminal, revoke is idempotent
}

func (s *SQLiteStore) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := toMillis(time.Now().Add(-retention))
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM transfer_tokens WHERE expires_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: sweep delete: %v", core.ErrUnavailable, err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected: %v", core.ErrUnavailable, err)
	}
	return removed, nil
}

func (s *SQLiteStore) ListActive(ctx context.Context) ([]core.TransferToken, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT token_id, user_id, destination, issued_at, expires_at, state, signature
FROM transfer_tokens WHERE state = ? AND expires_at > ?
`, string(core.StateIssued), toMillis(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("%w: list active: %v", core.ErrUnavailable, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	active := make([]core.TransferToken, 0)
	for rows.Next() {
		rec, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan token: %v", core.ErrUnavailable, err)
		}
		active = append(active, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate tokens: %v", core.ErrUnavailable, err)
	}
	return active, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*core.TransferToken, error) {
	var rec core.TransferToken
	var state string
	var issuedAt, expiresAt int64
	if err := row.Scan(
		&rec.TokenID,
		&rec.UserID,
		&rec.Destination,
		&issuedAt,
		&expiresAt,
		&state,
		&rec.Signature,
	); err != nil {
		return nil, err
	}
	rec.IssuedAt = fromMillis(issuedAt)
	rec.ExpiresAt = fromMillis(expiresAt)
	rec.State = core.State(state)
	return &rec, nil
}
