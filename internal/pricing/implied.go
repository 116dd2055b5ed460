package pricing

import (
	"fmt"
	"math"

	"github.com/contactkeval/option-iv/internal/logger"
)

// Method names the search phase that produced a Solution.
type Method string

const (
	MethodNewton     Method = "newton"
	MethodBracketing Method = "bracketing"
	MethodNone       Method = "none"
)

const (
	newtonSeed    = 0.30
	newtonTol     = 1e-5
	newtonMaxIter = 50

	minPlausibleVol = 0.0001
	maxPlausibleVol = 5.0

	bracketLower      = 0.0001
	bracketUpper      = 1.0
	bracketStep       = 1.0
	bracketExpansions = 10
	brentMaxIter      = 100
	brentRelTol       = 4 * 2.220446049250313e-16
)

// Solution is the outcome of an implied volatility search. Found is false
// when neither phase located a volatility reproducing the target price; that
// is an expected result for unreachable targets, not an error.
type Solution struct {
	Volatility float64 `json:"volatility"`
	Method     Method  `json:"method"`
	Found      bool    `json:"found"`
	Iterations int     `json:"iterations"`
}

// phaseResult is the tagged result of a single search phase.
type phaseResult struct {
	vol        float64
	converged  bool
	iterations int
	reason     string
}

func failed(iterations int, format string, args ...any) phaseResult {
	return phaseResult{iterations: iterations, reason: fmt.Sprintf(format, args...)}
}

// FindImpliedVolatility searches for the volatility at which the model price
// equals targetPrice, holding all other parameters fixed.
//
// Newton-Raphson runs first from a 30% seed. If it does not converge within
// 50 iterations, or converges outside (0.0001, 5), a bracketing search
// between 0.0001 and a widening upper bound takes over.
//
// Invalid market parameters and unknown option types are returned as errors.
// An unreachable target price returns a Solution with Found == false.
func FindImpliedVolatility(
	optType OptionType,
	spot float64,
	exercise float64,
	years float64,
	targetPrice float64,
	riskFreeRate float64,
	dividendYield float64,
) (Solution, error) {

	if !optType.Valid() {
		return Solution{}, fmt.Errorf("%w: %q", ErrUnsupportedOptionType, string(optType))
	}
	if err := validateMarket(spot, exercise, years, riskFreeRate, dividendYield); err != nil {
		return Solution{}, err
	}
	if !finite(targetPrice) {
		return Solution{}, fmt.Errorf("%w: target price must be finite, got %v", ErrInvalidInput, targetPrice)
	}

	base := ModelParameters{
		Type:          optType,
		Spot:          spot,
		Exercise:      exercise,
		Years:         years,
		RiskFreeRate:  riskFreeRate,
		DividendYield: dividendYield,
	}
	obj := objective{base: base, target: targetPrice}

	nr := obj.newton()
	if nr.converged {
		logger.Debugf("newton converged vol=%.6f after %d iterations", nr.vol, nr.iterations)
		return Solution{Volatility: nr.vol, Method: MethodNewton, Found: true, Iterations: nr.iterations}, nil
	}
	logger.Debugf("newton failed: %s, switching to bracketing", nr.reason)

	br := obj.bracket()
	if br.converged {
		logger.Debugf("bracketing converged vol=%.6f after %d iterations", br.vol, br.iterations)
		return Solution{Volatility: br.vol, Method: MethodBracketing, Found: true, Iterations: br.iterations}, nil
	}
	logger.Debugf("bracketing failed: %s", br.reason)

	return Solution{Method: MethodNone}, nil
}

// objective is price(vol) - target for one fixed set of market parameters.
type objective struct {
	base   ModelParameters
	target float64
	visit  func(vol float64) // called with each Newton trial volatility, may be nil
}

// residual values a fresh parameter copy at vol. Non-finite results are
// reported as errors.
func (o objective) residual(vol float64) (float64, error) {
	px, err := price(o.base.WithVolatility(vol))
	if err != nil {
		return 0, err
	}
	f := px - o.target
	if !finite(f) {
		return 0, fmt.Errorf("non-finite residual at vol=%v", vol)
	}
	return f, nil
}

func (o objective) derivative(vol float64) float64 {
	return vega(o.base.WithVolatility(vol))
}

// newton iterates vol -= residual/vega. Trial volatilities are not clamped;
// only the converged value is checked against the plausible range.
func (o objective) newton() phaseResult {
	vol := newtonSeed

	for i := 1; i <= newtonMaxIter; i++ {
		if o.visit != nil {
			o.visit(vol)
		}
		f, err := o.residual(vol)
		if err != nil {
			return failed(i, "%v", err)
		}
		if f == 0 {
			return o.checkBounds(vol, i)
		}

		fprime := o.derivative(vol)
		if fprime == 0 || !finite(fprime) {
			return failed(i, "derivative was %v at vol=%v", fprime, vol)
		}

		next := vol - f/fprime
		logger.Tracef("newton iter=%d vol=%.8f residual=%.8g vega=%.8g next=%.8f", i, vol, f, fprime, next)

		if !finite(next) {
			return failed(i, "non-finite step from vol=%v", vol)
		}
		if math.Abs(next-vol) < newtonTol {
			return o.checkBounds(next, i)
		}
		vol = next
	}

	return failed(newtonMaxIter, "failed to converge after %d iterations, value is %v", newtonMaxIter, vol)
}

func (o objective) checkBounds(vol float64, iterations int) phaseResult {
	if vol <= minPlausibleVol || vol >= maxPlausibleVol {
		return failed(iterations, "implied volatility %v out of bounds", vol)
	}
	return phaseResult{vol: vol, converged: true, iterations: iterations}
}

// bracket widens [lower, upper] until the residual changes sign, then hands
// the interval to Brent's method. The lower bound never moves.
func (o objective) bracket() phaseResult {
	lower, upper := bracketLower, bracketUpper

	for i := 0; i < bracketExpansions; i++ {
		fl, errL := o.residual(lower)
		fu, errU := o.residual(upper)
		if errL != nil || errU != nil {
			logger.Tracef("bracket [%v, %v] not evaluable, widening", lower, upper)
			upper += bracketStep
			continue
		}
		if fl*fu < 0 {
			return o.brent(lower, upper, fl, fu)
		}
		logger.Tracef("bracket [%v, %v] has no sign change (%.6g, %.6g), widening", lower, upper, fl, fu)
		upper += bracketStep
	}

	return failed(0, "no sign change found up to vol=%v", upper)
}

// brent finds a root of the residual in [xa, xb] using Brent's method:
// inverse quadratic or secant steps when they stay inside the bracket,
// bisection otherwise. fa and fb must have opposite signs.
func (o objective) brent(xa, xb, fa, fb float64) phaseResult {
	xpre, xcur := xa, xb
	fpre, fcur := fa, fb
	var xblk, fblk, spre, scur float64

	for i := 1; i <= brentMaxIter; i++ {
		if fpre != 0 && fcur != 0 && math.Signbit(fpre) != math.Signbit(fcur) {
			xblk, fblk = xpre, fpre
			spre = xcur - xpre
			scur = spre
		}
		if math.Abs(fblk) < math.Abs(fcur) {
			xpre, xcur, xblk = xcur, xblk, xcur
			fpre, fcur, fblk = fcur, fblk, fcur
		}

		delta := (newtonTol + brentRelTol*math.Abs(xcur)) / 2
		sbis := (xblk - xcur) / 2
		if fcur == 0 || math.Abs(sbis) < delta {
			return phaseResult{vol: xcur, converged: true, iterations: i}
		}

		if math.Abs(spre) > delta && math.Abs(fcur) < math.Abs(fpre) {
			var stry float64
			if xpre == xblk {
				stry = -fcur * (xcur - xpre) / (fcur - fpre)
			} else {
				dpre := (fpre - fcur) / (xpre - xcur)
				dblk := (fblk - fcur) / (xblk - xcur)
				stry = -fcur * (fblk*dblk - fpre*dpre) / (dblk * dpre * (fblk - fpre))
			}
			if 2*math.Abs(stry) < math.Min(math.Abs(spre), 3*math.Abs(sbis)-delta) {
				spre, scur = scur, stry
			} else {
				spre, scur = sbis, sbis
			}
		} else {
			spre, scur = sbis, sbis
		}

		xpre, fpre = xcur, fcur
		if math.Abs(scur) > delta {
			xcur += scur
		} else if sbis > 0 {
			xcur += delta
		} else {
			xcur -= delta
		}

		f, err := o.residual(xcur)
		if err != nil {
			return failed(i, "%v", err)
		}
		fcur = f
	}

	return failed(brentMaxIter, "brent did not converge in %d iterations", brentMaxIter)
}
