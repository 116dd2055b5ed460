// Package pricing values European options under Black-Scholes with a
// continuous dividend yield and solves for implied volatility.
package pricing

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// D1 returns the standardised moneyness term of the Black-Scholes formula:
//
//	d1 = (ln(S/K) + (r - q + σ²/2)·T) / (σ·√T)
func D1(p ModelParameters) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return d1(p), nil
}

// D2 returns d1 - σ·√T.
func D2(p ModelParameters) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return d2(p, d1(p)), nil
}

// Price calculates the theoretical price of a European option.
//
// Parameters are validated first; a non-positive spot, strike, time or
// volatility returns ErrInvalidInput instead of a NaN price.
func Price(p ModelParameters) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return price(p)
}

// Vega calculates the sensitivity of the option price to a one unit change in
// volatility. It is identical for calls and puts:
//
//	vega = S·e^(-qT) · n(d1) · √T
func Vega(p ModelParameters) (float64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	return vega(p), nil
}

// price evaluates the formula without range checks so the solver can probe
// trial volatilities outside (0, ∞). Only the option type is checked.
func price(p ModelParameters) (float64, error) {
	x1 := d1(p)
	x2 := d2(p, x1)
	discountedStrike := p.Exercise * math.Exp(-p.RiskFreeRate*p.Years)
	forwardSpot := p.Spot * math.Exp(-p.DividendYield*p.Years)

	switch p.Type {
	case Call:
		return forwardSpot*normCDF(x1) - discountedStrike*normCDF(x2), nil
	case Put:
		return discountedStrike*(1-normCDF(x2)) - forwardSpot*(1-normCDF(x1)), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedOptionType, string(p.Type))
	}
}

func vega(p ModelParameters) float64 {
	forwardSpot := p.Spot * math.Exp(-p.DividendYield*p.Years)
	return forwardSpot * normPDF(d1(p)) * math.Sqrt(p.Years)
}

func d1(p ModelParameters) float64 {
	a := math.Log(p.Spot / p.Exercise)
	b := (p.RiskFreeRate - p.DividendYield + p.Volatility*p.Volatility/2) * p.Years
	c := p.Volatility * math.Sqrt(p.Years)
	return (a + b) / c
}

func d2(p ModelParameters, d1 float64) float64 {
	return d1 - p.Volatility*math.Sqrt(p.Years)
}

// normCDF is the standard normal cumulative distribution function.
func normCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

// normPDF is the standard normal probability density function.
func normPDF(x float64) float64 {
	return distuv.UnitNormal.Prob(x)
}
