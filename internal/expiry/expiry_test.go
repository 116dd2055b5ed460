package expiry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYearsToExpiration(t *testing.T) {
	now := time.Date(2025, 1, 2, 15, 30, 0, 0, time.UTC)

	cases := []struct {
		expiration string
		days       int
	}{
		{"2025-01-17", 14}, // 14 days 8.5 hours
		{"2026-01-02", 364},
		{"2025-01-03", 0},
		{"2025-01-02", -1},
	}

	for _, tc := range cases {
		t.Run(tc.expiration, func(t *testing.T) {
			years, err := YearsToExpiration(tc.expiration, now)
			require.NoError(t, err)
			assert.InDelta(t, float64(tc.days)/365.0, years, 1e-15)
		})
	}
}

func TestYearsToExpiration_UsesNowLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tz database unavailable: %v", err)
	}
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, ny)

	years, err := YearsToExpiration("2025-03-31", now)
	require.NoError(t, err)
	// spans the DST change; the 23 hour day still counts as a full day
	assert.InDelta(t, 30.0/365.0, years, 1e-15)
}

func TestDaysUntil_AcrossDSTChange(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tz database unavailable: %v", err)
	}

	now := time.Date(2025, 3, 8, 0, 0, 0, 0, ny)
	exp, err := Parse("2025-03-10", ny)
	require.NoError(t, err)
	assert.Equal(t, 2, DaysUntil(exp, now))

	// fall back: the 25 hour day is still one day
	now = time.Date(2025, 11, 1, 12, 0, 0, 0, ny)
	exp, err = Parse("2025-11-03", ny)
	require.NoError(t, err)
	assert.Equal(t, 1, DaysUntil(exp, now))
}

func TestYearsToExpiration_Malformed(t *testing.T) {
	for _, in := range []string{"", "2025/01/17", "17-01-2025", "2025-13-01"} {
		_, err := YearsToExpiration(in, time.Now())
		assert.Error(t, err, in)
	}
}

func TestParse_NilLocation(t *testing.T) {
	got, err := Parse("2025-06-20", nil)
	require.NoError(t, err)
	assert.Equal(t, time.Local, got.Location())
	assert.Equal(t, 20, got.Day())
}
