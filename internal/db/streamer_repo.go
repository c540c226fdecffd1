package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"castline/internal/types"
)

// StreamerRepository provides data access for the streamers table.
type StreamerRepository struct {
	db DBTX
}

// NewStreamerRepository creates a new StreamerRepository backed by the given
// database connection (pool or transaction).
func NewStreamerRepository(db DBTX) *StreamerRepository {
	return &StreamerRepository{db: db}
}

const streamerColumns = `id, display_name, chat_user_id, status, notify_enabled,
	level_current, level_override, notes, created_at`

// Get retrieves a streamer by ID.
func (r *StreamerRepository) Get(ctx context.Context, id string) (*types.Streamer, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+streamerColumns+` FROM streamers WHERE id = $1`, id)
	return scanStreamer(row)
}

// GetByChatUserID retrieves a streamer by their chat platform user ID.
// Used by the inbound webhook to resolve the sender.
func (r *StreamerRepository) GetByChatUserID(ctx context.Context, chatUserID string) (*types.Streamer, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+streamerColumns+` FROM streamers WHERE chat_user_id = $1`, chatUserID)
	return scanStreamer(row)
}

// ListNotifiable returns all streamers currently eligible for outbound
// check-in pushes. The level filter mirrors Streamer.Notifiable: unset and
// graduated levels are excluded, and a manual override wins over the
// computed level.
func (r *StreamerRepository) ListNotifiable(ctx context.Context) ([]*types.Streamer, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+streamerColumns+`
		 FROM streamers
		 WHERE status = 'active'
		   AND notify_enabled = TRUE
		   AND COALESCE(level_override, level_current) NOT IN ($1, $2)
		 ORDER BY id`,
		types.LevelUnset, types.LevelGraduated)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list notifiable streamers", err)
	}
	defer rows.Close()
	return collectStreamers(rows)
}

// ListByIDs bulk-fetches streamers for a set of IDs. The dispatcher uses
// this to hydrate a claimed batch with one round trip.
func (r *StreamerRepository) ListByIDs(ctx context.Context, ids []string) (map[string]*types.Streamer, error) {
	if len(ids) == 0 {
		return map[string]*types.Streamer{}, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+streamerColumns+` FROM streamers WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list streamers by id", err)
	}
	defer rows.Close()

	out := make(map[string]*types.Streamer, len(ids))
	for rows.Next() {
		s, scanErr := scanStreamerFromRows(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan streamer row", scanErr)
		}
		out[s.ID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating streamer rows", err)
	}
	return out, nil
}

// ListActive returns every active streamer regardless of notification
// eligibility. The monthly level refresh walks this set.
func (r *StreamerRepository) ListActive(ctx context.Context) ([]*types.Streamer, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+streamerColumns+` FROM streamers WHERE status = 'active' ORDER BY id`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list active streamers", err)
	}
	defer rows.Close()
	return collectStreamers(rows)
}

// SetLevel updates the computed level for a streamer. Manual overrides live
// in level_override and are never touched here.
func (r *StreamerRepository) SetLevel(ctx context.Context, id string, level int) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE streamers SET level_current = $1 WHERE id = $2`, level, id)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set streamer level", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundStreamer, "streamer not found", nil)
	}
	return nil
}

func collectStreamers(rows pgx.Rows) ([]*types.Streamer, error) {
	var out []*types.Streamer
	for rows.Next() {
		s, err := scanStreamerFromRows(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan streamer row", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating streamer rows", err)
	}
	return out, nil
}

func scanStreamer(row pgx.Row) (*types.Streamer, error) {
	var (
		s      types.Streamer
		status string
		notes  *string
	)
	err := row.Scan(&s.ID, &s.DisplayName, &s.ChatUserID, &status, &s.NotifyEnabled,
		&s.LevelCurrent, &s.LevelOverride, &notes, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundStreamer, "streamer not found", err)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get streamer", err)
	}
	s.Status = types.StreamerStatus(status)
	if notes != nil {
		s.Notes = *notes
	}
	return &s, nil
}

func scanStreamerFromRows(rows pgx.Rows) (*types.Streamer, error) {
	var (
		s      types.Streamer
		status string
		notes  *string
	)
	err := rows.Scan(&s.ID, &s.DisplayName, &s.ChatUserID, &status, &s.NotifyEnabled,
		&s.LevelCurrent, &s.LevelOverride, &notes, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.Status = types.StreamerStatus(status)
	if notes != nil {
		s.Notes = *notes
	}
	return &s, nil
}
