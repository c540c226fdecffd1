package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"castline/internal/types"
)

// TokenRepository provides data access for the checkin_tokens table. Rows
// hold only the SHA-256 hash of each token; raw values never reach storage.
type TokenRepository struct {
	db DBTX
}

// NewTokenRepository creates a new TokenRepository backed by the given
// database connection (pool or transaction).
func NewTokenRepository(db DBTX) *TokenRepository {
	return &TokenRepository{db: db}
}

const tokenColumns = `id, streamer_id, date, token_hash, expires_at, used_at, created_at`

// Insert persists a freshly issued token row. A duplicate (streamer, date)
// pair maps to a conflict error so the issuance layer can treat it as
// "already issued today".
func (r *TokenRepository) Insert(ctx context.Context, t *types.CheckinToken) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO checkin_tokens (id, streamer_id, date, token_hash, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.StreamerID, t.Date, t.TokenHash, t.ExpiresAt)
	if isUniqueViolation(err) {
		return types.NewAppError(types.ErrCodeConflictTokenExists, "token already issued for this date", err)
	}
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert checkin token", err)
	}
	return nil
}

// GetByHash looks up a token row by its hash. Returns ErrCodeTokenNotFound
// when no row matches; expiry and consumption checks belong to the caller.
func (r *TokenRepository) GetByHash(ctx context.Context, hash string) (*types.CheckinToken, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM checkin_tokens WHERE token_hash = $1`, hash)

	var t types.CheckinToken
	err := row.Scan(&t.ID, &t.StreamerID, &t.Date, &t.TokenHash, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeTokenNotFound, "token not found", err)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get token by hash", err)
	}
	return &t, nil
}

// GetForDate fetches the token row for a (streamer, business date) pair,
// consumed or not. Returns nil with no error when none exists.
func (r *TokenRepository) GetForDate(ctx context.Context, streamerID, date string) (*types.CheckinToken, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM checkin_tokens
		 WHERE streamer_id = $1 AND date = $2`, streamerID, date)

	var t types.CheckinToken
	err := row.Scan(&t.ID, &t.StreamerID, &t.Date, &t.TokenHash, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get token for date", err)
	}
	return &t, nil
}

// ReplaceHash swaps in a new hash and expiry for an UNCONSUMED token row.
// Returns false when the row is absent or already consumed; a consumed row
// must never be resurrected.
func (r *TokenRepository) ReplaceHash(ctx context.Context, streamerID, date, newHash string, expiresAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE checkin_tokens
		 SET token_hash = $1, expires_at = $2
		 WHERE streamer_id = $3 AND date = $4 AND used_at IS NULL`,
		newHash, expiresAt, streamerID, date)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to replace token hash", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkUsed consumes a token exactly once. The used_at IS NULL guard makes
// concurrent consumption race-safe: exactly one caller observes true.
func (r *TokenRepository) MarkUsed(ctx context.Context, id string, usedAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE checkin_tokens SET used_at = $1 WHERE id = $2 AND used_at IS NULL`,
		usedAt, id)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark token used", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteExpiredBefore removes token rows whose expiry is older than the
// cutoff. Retention cleanup only; consumed rows past the cutoff go too,
// since the self_checks table is the durable record.
func (r *TokenRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM checkin_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge expired tokens", err)
	}
	return tag.RowsAffected(), nil
}
