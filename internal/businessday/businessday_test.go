package businessday

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateOf_BoundaryAttribution(t *testing.T) {
	tests := []struct {
		name    string
		instant time.Time
		want    string
	}{
		{
			name:    "04:30 local belongs to previous day",
			instant: time.Date(2024, 6, 2, 4, 30, 0, 0, Zone()),
			want:    "2024-06-01",
		},
		{
			name:    "05:30 local belongs to same day",
			instant: time.Date(2024, 6, 2, 5, 30, 0, 0, Zone()),
			want:    "2024-06-02",
		},
		{
			name:    "exactly at boundary starts the new day",
			instant: time.Date(2024, 6, 2, 5, 0, 0, 0, Zone()),
			want:    "2024-06-02",
		},
		{
			name:    "one second before boundary",
			instant: time.Date(2024, 6, 2, 4, 59, 59, 0, Zone()),
			want:    "2024-06-01",
		},
		{
			name:    "late evening stays on the same day",
			instant: time.Date(2024, 6, 2, 23, 45, 0, 0, Zone()),
			want:    "2024-06-02",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DateOf(tt.instant))
		})
	}
}

func TestDateOf_IndependentOfInputZone(t *testing.T) {
	// The same instant expressed in UTC must classify identically.
	local := time.Date(2024, 6, 2, 4, 30, 0, 0, Zone())
	assert.Equal(t, DateOf(local), DateOf(local.UTC()))
}

func TestDayEnd(t *testing.T) {
	end, err := DayEnd("2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 2, 5, 0, 0, 0, Zone()).Unix(), end.Unix())
}

func TestTokenExpiry_NoonNextDay(t *testing.T) {
	exp, err := TokenExpiry("2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 2, 12, 0, 0, 0, Zone()).Unix(), exp.Unix())
}

func TestParse_RejectsMalformedDates(t *testing.T) {
	for _, bad := range []string{"", "2024-6-1", "20240601", "yesterday", "2024-13-40"} {
		_, err := Parse(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestMonthPrefix(t *testing.T) {
	assert.Equal(t, "2024-06", MonthPrefix("2024-06-15"))
	assert.Equal(t, "x", MonthPrefix("x"))
}
