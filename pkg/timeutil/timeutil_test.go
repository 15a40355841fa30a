package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaysBetween(t *testing.T) {
	loc := time.UTC
	from := time.Date(2025, 3, 1, 23, 59, 0, 0, loc)
	to := time.Date(2025, 3, 2, 0, 1, 0, 0, loc)

	assert.Equal(t, 1, DaysBetween(from, to, loc))
	assert.Equal(t, -1, DaysBetween(to, from, loc))
	assert.Equal(t, 0, DaysBetween(from, from.Add(time.Minute), loc))
}

func TestDaysBetween_AcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/Santiago")
	if err != nil {
		t.Skip("tzdata not available")
	}

	// Chile leaves DST in early April; the day has 25 hours.
	from := time.Date(2025, 4, 5, 12, 0, 0, 0, loc)
	to := time.Date(2025, 4, 6, 12, 0, 0, 0, loc)

	assert.Equal(t, 1, DaysBetween(from, to, loc))
}

func TestDaysBetween_UsesLocationCalendar(t *testing.T) {
	loc := time.FixedZone("UTC-4", -4*60*60)

	// 02:00 UTC on the 10th is still the 9th at UTC-4.
	from := time.Date(2025, 5, 10, 2, 0, 0, 0, time.UTC)
	to := time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, DaysBetween(from, to, time.UTC))
	assert.Equal(t, 1, DaysBetween(from, to, loc))
}

func TestParseAndFormatDate(t *testing.T) {
	d, err := ParseDate("2025-07-15", time.UTC)
	require.NoError(t, err)

	assert.Equal(t, "2025-07-15", FormatDate(d, time.UTC))
	assert.Equal(t, 0, DaysBetween(d, d.Add(23*time.Hour), time.UTC))
	assert.Equal(t, time.UTC, d.Location())
}
