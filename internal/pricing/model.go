package pricing

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrInvalidInput is returned when a model parameter would leave d1/d2 undefined.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedOptionType is returned for any option type other than Call or Put.
	ErrUnsupportedOptionType = errors.New("unsupported option type")
)

// OptionType tags a European option as a call or a put.
type OptionType string

const (
	Call OptionType = "call"
	Put  OptionType = "put"
)

// ParseOptionType accepts "call", "c", "put" and "p" in any case.
func ParseOptionType(s string) (OptionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "call", "c":
		return Call, nil
	case "put", "p":
		return Put, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedOptionType, s)
}

// Valid reports whether t is one of the recognised option types.
func (t OptionType) Valid() bool {
	switch t {
	case Call, Put:
		return true
	}
	return false
}

func (t OptionType) String() string { return string(t) }

// ModelParameters groups the Black-Scholes inputs for a single valuation.
// Values are passed by copy; use WithVolatility to derive a new trial value.
type ModelParameters struct {
	Type          OptionType
	Spot          float64 // underlying price
	Exercise      float64 // strike
	Years         float64 // time to expiry in years
	Volatility    float64 // annualised, as a decimal
	RiskFreeRate  float64 // continuously compounded
	DividendYield float64 // continuous yield
}

// WithVolatility returns a copy of p with the volatility replaced.
func (p ModelParameters) WithVolatility(vol float64) ModelParameters {
	p.Volatility = vol
	return p
}

// Validate checks that d1/d2 are well defined for p.
func (p ModelParameters) Validate() error {
	if !p.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedOptionType, string(p.Type))
	}
	if err := validateMarket(p.Spot, p.Exercise, p.Years, p.RiskFreeRate, p.DividendYield); err != nil {
		return err
	}
	return positive("volatility", p.Volatility)
}

// validateMarket checks every input except volatility.
func validateMarket(spot, exercise, years, r, q float64) error {
	if err := positive("spot", spot); err != nil {
		return err
	}
	if err := positive("exercise", exercise); err != nil {
		return err
	}
	if err := positive("years", years); err != nil {
		return err
	}
	if !finite(r) {
		return fmt.Errorf("%w: risk free rate must be finite, got %v", ErrInvalidInput, r)
	}
	if !finite(q) {
		return fmt.Errorf("%w: dividend yield must be finite, got %v", ErrInvalidInput, q)
	}
	return nil
}

func positive(name string, v float64) error {
	if !finite(v) || v <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidInput, name, v)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
