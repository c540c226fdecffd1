// Package token implements the single-use check-in token lifecycle. A token
// authorizes exactly one submission for one (streamer, business date) pair.
// Raw tokens are 256-bit random values handed out once in URL form; storage
// only ever sees the SHA-256 hash, so a database leak exposes no usable
// links.
package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"castline/internal/businessday"
	"castline/internal/types"
)

// Repository is the persistence surface the store needs. Implemented by
// db.TokenRepository.
type Repository interface {
	Insert(ctx context.Context, t *types.CheckinToken) error
	GetByHash(ctx context.Context, hash string) (*types.CheckinToken, error)
	GetForDate(ctx context.Context, streamerID, date string) (*types.CheckinToken, error)
	ReplaceHash(ctx context.Context, streamerID, date, newHash string, expiresAt time.Time) (bool, error)
	MarkUsed(ctx context.Context, id string, usedAt time.Time) (bool, error)
}

// IDGen produces new row IDs. Injected so tests can pin IDs.
type IDGen func() string

// Store manages token issuance, validation, and consumption.
type Store struct {
	repo  Repository
	clock types.Clock
	newID IDGen
}

// NewStore creates a token store.
func NewStore(repo Repository, clock types.Clock, newID IDGen) *Store {
	return &Store{repo: repo, clock: clock, newID: newID}
}

// Issue mints a token for (streamer, date) and returns the raw value. The
// raw value exists only in this return; it cannot be recovered later, only
// replaced via Reissue. Issuing twice for the same pair returns
// ErrCodeConflictTokenExists from the repository.
func (s *Store) Issue(ctx context.Context, streamerID, date string) (string, error) {
	expiresAt, err := businessday.TokenExpiry(date)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeValidationInvalidDate, "invalid business date", err)
	}

	raw, err := generateRaw()
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to generate token", err)
	}

	if err := s.repo.Insert(ctx, &types.CheckinToken{
		ID:         s.newID(),
		StreamerID: streamerID,
		Date:       date,
		TokenHash:  Hash(raw),
		ExpiresAt:  expiresAt,
	}); err != nil {
		return "", err
	}
	return raw, nil
}

// Reissue replaces the token for (streamer, date) with a fresh raw value,
// provided the existing one is unconsumed. A consumed token is never
// resurrected: the day's submission already happened, and the old raw value
// stays dead. Returns ("", false, nil) in that case. When no token exists
// yet, one is issued.
func (s *Store) Reissue(ctx context.Context, streamerID, date string) (string, bool, error) {
	expiresAt, err := businessday.TokenExpiry(date)
	if err != nil {
		return "", false, types.NewAppError(types.ErrCodeValidationInvalidDate, "invalid business date", err)
	}

	raw, err := generateRaw()
	if err != nil {
		return "", false, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to generate token", err)
	}

	replaced, err := s.repo.ReplaceHash(ctx, streamerID, date, Hash(raw), expiresAt)
	if err != nil {
		return "", false, err
	}
	if replaced {
		return raw, true, nil
	}

	// Either no row exists or the row is consumed. Distinguish the two.
	existing, err := s.repo.GetForDate(ctx, streamerID, date)
	if err != nil {
		return "", false, err
	}
	if existing != nil && existing.Consumed() {
		return "", false, nil
	}

	issued, err := s.Issue(ctx, streamerID, date)
	if err != nil {
		return "", false, err
	}
	return issued, true, nil
}

// Validate resolves a raw token to its row and checks it is usable right
// now. Rejections are ordered: unknown hash first, then expiry, then
// consumption, so an expired-and-used token reads as expired.
func (s *Store) Validate(ctx context.Context, raw string) (*types.CheckinToken, error) {
	t, err := s.repo.GetByHash(ctx, Hash(raw))
	if err != nil {
		return nil, err
	}
	if s.clock.Now().After(t.ExpiresAt) {
		return nil, types.NewAppError(types.ErrCodeTokenExpired, "token expired", nil)
	}
	if t.Consumed() {
		return nil, types.NewAppError(types.ErrCodeTokenAlreadyUsed, "token already used", nil)
	}
	return t, nil
}

// Consume marks a validated token as used. Exactly one concurrent caller
// wins; the rest get ErrCodeTokenAlreadyUsed.
func (s *Store) Consume(ctx context.Context, tokenID string) error {
	ok, err := s.repo.MarkUsed(ctx, tokenID, s.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		return types.NewAppError(types.ErrCodeTokenAlreadyUsed, "token already used", nil)
	}
	return nil
}

// Hash returns the hex SHA-256 digest of a raw token, the only form that
// ever reaches storage or logs.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// generateRaw returns a 256-bit random token as 64 hex characters.
func generateRaw() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token: read random: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
