// Package expiry converts option expiration dates into the year fractions
// consumed by the pricer.
package expiry

import (
	"fmt"
	"math"
	"time"
)

// DateLayout is the accepted expiration date format (YYYY-MM-DD).
const DateLayout = "2006-01-02"

// DaysPerYear is the day count used to annualise time to expiry.
const DaysPerYear = 365.0

// Parse reads a YYYY-MM-DD expiration date as midnight in loc.
func Parse(expiration string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateLayout, expiration, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse expiration %q: %w", expiration, err)
	}
	return t, nil
}

// DaysUntil returns the number of whole days from now until expiry,
// floored, so an expiry later today counts as -1 once the day has started.
// Days are counted on wall-clock readings, so DST changes do not shorten them.
func DaysUntil(expiry, now time.Time) int {
	return int(math.Floor(wallClock(expiry).Sub(wallClock(now)).Hours() / 24))
}

func wallClock(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// Years returns whole days to expiry divided by 365. The result is not
// clamped; callers pricing with it get ErrInvalidInput for non-positive values.
func Years(expiry, now time.Time) float64 {
	return float64(DaysUntil(expiry, now)) / DaysPerYear
}

// YearsToExpiration parses a YYYY-MM-DD date in now's location and returns
// the time to expiration in years.
func YearsToExpiration(expiration string, now time.Time) (float64, error) {
	t, err := Parse(expiration, now.Location())
	if err != nil {
		return 0, err
	}
	return Years(t, now), nil
}
