package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"castline/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// jobMockRows implements pgx.Rows for the job claim/list queries:
// (id, streamer_id, date, kind, status string, attempts int,
// last_error *string, locked_at *time.Time, created_at, updated_at time.Time)
type jobMockRows struct {
	data    []jobRowData
	idx     int
	closed  bool
	scanErr error
	errVal  error
}

type jobRowData struct {
	id         string
	streamerID string
	date       string
	kind       string
	status     string
	attempts   int
	lastError  *string
	lockedAt   *time.Time
	createdAt  time.Time
	updatedAt  time.Time
}

func (r *jobMockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *jobMockRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.data[r.idx]
	*dest[0].(*string) = row.id
	*dest[1].(*string) = row.streamerID
	*dest[2].(*string) = row.date
	*dest[3].(*string) = row.kind
	*dest[4].(*string) = row.status
	*dest[5].(*int) = row.attempts
	*dest[6].(**string) = row.lastError
	*dest[7].(**time.Time) = row.lockedAt
	*dest[8].(*time.Time) = row.createdAt
	*dest[9].(*time.Time) = row.updatedAt
	return nil
}

func (r *jobMockRows) Close()                                       { r.closed = true }
func (r *jobMockRows) Err() error                                   { return r.errVal }
func (r *jobMockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *jobMockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *jobMockRows) RawValues() [][]byte                          { return nil }
func (r *jobMockRows) Values() ([]any, error)                       { return nil, nil }
func (r *jobMockRows) Conn() *pgx.Conn                              { return nil }

func jobRows(rows ...jobRowData) *jobMockRows {
	return &jobMockRows{data: rows, idx: -1}
}

// ============================================================
// Enqueue Tests
// ============================================================

func TestJobRepository_Enqueue_NewRow(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	created, err := repo.Enqueue(ctx, &types.NotificationJob{
		ID:         "job_1",
		StreamerID: "str_1",
		Date:       "2024-06-01",
		Kind:       types.JobDailyCheckin,
	})
	require.NoError(t, err)
	assert.True(t, created)
	db.AssertExpectations(t)
}

func TestJobRepository_Enqueue_DuplicateIsNoOp(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)
	ctx := context.Background()

	// ON CONFLICT DO NOTHING reports zero affected rows.
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

	created, err := repo.Enqueue(ctx, &types.NotificationJob{
		ID:         "job_2",
		StreamerID: "str_1",
		Date:       "2024-06-01",
		Kind:       types.JobDailyCheckin,
	})
	require.NoError(t, err)
	assert.False(t, created)
}

func TestJobRepository_Enqueue_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	_, err := repo.Enqueue(ctx, &types.NotificationJob{ID: "job_3"})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}

// ============================================================
// ClaimBatch Tests
// ============================================================

func TestJobRepository_ClaimBatch_ReturnsClaimedJobs(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)

	rows := jobRows(
		jobRowData{
			id: "job_1", streamerID: "str_1", date: "2024-06-01",
			kind: "daily_checkin", status: "sending", attempts: 0,
			lockedAt: &now, createdAt: now, updatedAt: now,
		},
		jobRowData{
			id: "job_2", streamerID: "str_2", date: "2024-06-01",
			kind: "daily_checkin", status: "sending", attempts: 1,
			lockedAt: &now, createdAt: now, updatedAt: now,
		},
	)
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	jobs, err := repo.ClaimBatch(ctx, "2024-06-01", 50, 5*time.Minute, now)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job_1", jobs[0].ID)
	assert.Equal(t, types.JobSending, jobs[0].Status)
	assert.Equal(t, 1, jobs[1].Attempts)
}

func TestJobRepository_ClaimBatch_PassesDateAndLeaseCutoff(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)

	db.On("Query", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "date = $2")
	}), mock.MatchedBy(func(args []any) bool {
		// args: now, date, staleBefore, limit
		return len(args) == 4 &&
			args[0].(time.Time).Equal(now) &&
			args[1].(string) == "2024-06-01" &&
			args[2].(time.Time).Equal(now.Add(-5*time.Minute)) &&
			args[3].(int) == 50
	})).Return(jobRows(), nil)

	_, err := repo.ClaimBatch(ctx, "2024-06-01", 0, 5*time.Minute, now)
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestJobRepository_ClaimBatch_QueryError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)
	ctx := context.Background()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("boom"))

	_, err := repo.ClaimBatch(ctx, "2024-06-01", 10, time.Minute, time.Now())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}

// ============================================================
// Terminal Transition Tests
// ============================================================

func TestJobRepository_MarkSent(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.MarkSent(ctx, "job_1", time.Now())
	require.NoError(t, err)
}

func TestJobRepository_MarkSent_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.MarkSent(ctx, "job_missing", time.Now())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeNotFoundJob))
}

func TestJobRepository_MarkFailure_RequeuesBelowCap(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*string) = "queued"
			return nil
		}})

	status, err := repo.MarkFailure(ctx, "job_1", "push timeout", 3, time.Now())
	require.NoError(t, err)
	assert.Equal(t, types.JobQueued, status)
}

func TestJobRepository_MarkFailure_TerminalAtCap(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*string) = "failed"
			return nil
		}})

	status, err := repo.MarkFailure(ctx, "job_1", "push timeout", 3, time.Now())
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, status)
}

func TestJobRepository_MarkFailure_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.MarkFailure(ctx, "job_missing", "x", 3, time.Now())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeNotFoundJob))
}

// ============================================================
// CountByStatus Tests
// ============================================================

func TestJobRepository_CountByStatus(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobRepository(db)
	ctx := context.Background()

	rows := &countMockRows{data: []countRowData{
		{status: "sent", n: 12},
		{status: "skipped", n: 3},
	}, idx: -1}
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	counts, err := repo.CountByStatus(ctx, "2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, 12, counts[types.JobSent])
	assert.Equal(t, 3, counts[types.JobSkipped])
	assert.Equal(t, 0, counts[types.JobFailed])
}

type countMockRows struct {
	data    []countRowData
	idx     int
	closed  bool
	errVal  error
}

type countRowData struct {
	status string
	n      int
}

func (r *countMockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *countMockRows) Scan(dest ...any) error {
	row := r.data[r.idx]
	*dest[0].(*string) = row.status
	*dest[1].(*int) = row.n
	return nil
}

func (r *countMockRows) Close()                                       { r.closed = true }
func (r *countMockRows) Err() error                                   { return r.errVal }
func (r *countMockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *countMockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *countMockRows) RawValues() [][]byte                          { return nil }
func (r *countMockRows) Values() ([]any, error)                       { return nil, nil }
func (r *countMockRows) Conn() *pgx.Conn                              { return nil }
