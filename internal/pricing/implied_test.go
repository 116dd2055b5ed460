package pricing

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindImpliedVolatility_ReferenceCase(t *testing.T) {
	sol, err := FindImpliedVolatility(Call, 100, 100, 1, 10.4506, 0.05, 0)
	require.NoError(t, err)

	assert.True(t, sol.Found)
	assert.Equal(t, MethodNewton, sol.Method)
	assert.InDelta(t, 0.2, sol.Volatility, 1e-4)
	assert.LessOrEqual(t, sol.Iterations, newtonMaxIter)
}

func TestFindImpliedVolatility_RoundTrip(t *testing.T) {
	cases := []ModelParameters{
		{Spot: 100, Exercise: 100, Years: 1, Volatility: 0.2, RiskFreeRate: 0.05},
		{Spot: 100, Exercise: 110, Years: 0.5, Volatility: 0.35, RiskFreeRate: 0.03, DividendYield: 0.01},
		{Spot: 100, Exercise: 90, Years: 2, Volatility: 0.8, RiskFreeRate: 0.02, DividendYield: 0.03},
		{Spot: 50, Exercise: 55, Years: 0.25, Volatility: 0.45, RiskFreeRate: 0.01},
		{Spot: 100, Exercise: 100, Years: 1, Volatility: 0.05, RiskFreeRate: 0.05},
		{Spot: 100, Exercise: 100, Years: 1, Volatility: 2.5, RiskFreeRate: 0.05},
		{Spot: 100, Exercise: 100, Years: 1, Volatility: 4.0},
		{Spot: 3200, Exercise: 3000, Years: 45.0 / 365, Volatility: 0.18, RiskFreeRate: 0.045, DividendYield: 0.015},
	}

	for _, base := range cases {
		for _, optType := range []OptionType{Call, Put} {
			p := base.withType(optType)
			t.Run(fmt.Sprintf("%s/K=%v/T=%.3f/vol=%v", optType, p.Exercise, p.Years, p.Volatility), func(t *testing.T) {
				target, err := Price(p)
				require.NoError(t, err)

				sol, err := FindImpliedVolatility(optType, p.Spot, p.Exercise, p.Years, target, p.RiskFreeRate, p.DividendYield)
				require.NoError(t, err)
				require.True(t, sol.Found, "no solution for target %v", target)
				assert.InDelta(t, p.Volatility, sol.Volatility, 1e-4)
			})
		}
	}
}

func TestFindImpliedVolatility_FallsBackToBracketing(t *testing.T) {
	// Far out of the money and short dated: vega at the 30% seed is ~1e-11,
	// so the first Newton step lands near 1e10 where vega underflows to zero.
	p := ModelParameters{Type: Call, Spot: 100, Exercise: 200, Years: 0.1, Volatility: 1.5}
	target, err := Price(p)
	require.NoError(t, err)

	sol, err := FindImpliedVolatility(Call, p.Spot, p.Exercise, p.Years, target, 0, 0)
	require.NoError(t, err)

	assert.True(t, sol.Found)
	assert.Equal(t, MethodBracketing, sol.Method)
	assert.InDelta(t, 1.5, sol.Volatility, 1e-4)
}

func TestFindImpliedVolatility_NoSolution(t *testing.T) {
	cases := map[string]struct {
		optType OptionType
		target  float64
	}{
		"negative call target":        {Call, -5},
		"negative put target":         {Put, -5},
		"call above forward spot":     {Call, 150},
		"put above discounted strike": {Put, 120},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			sol, err := FindImpliedVolatility(tc.optType, 100, 100, 1, tc.target, 0.05, 0)
			require.NoError(t, err)

			assert.False(t, sol.Found)
			assert.Equal(t, MethodNone, sol.Method)
			assert.Zero(t, sol.Volatility)
		})
	}
}

func TestFindImpliedVolatility_InvalidInputs(t *testing.T) {
	_, err := FindImpliedVolatility(Call, 0, 100, 1, 10, 0.05, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = FindImpliedVolatility(Put, 100, -1, 1, 10, 0.05, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = FindImpliedVolatility(Call, 100, 100, 0, 10, 0.05, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = FindImpliedVolatility(Call, 100, 100, 1, math.NaN(), 0.05, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = FindImpliedVolatility("straddle", 100, 100, 1, 10, 0.05, 0)
	assert.ErrorIs(t, err, ErrUnsupportedOptionType)
}

func TestObjective_ResidualDefinedForNegativeTrialVolatility(t *testing.T) {
	obj := objective{base: atmParams(Call), target: 10}

	f, err := obj.residual(-0.2)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(f))

	// at the money with no drift, d1 = 0/0 at zero volatility
	flat := atmParams(Call)
	flat.RiskFreeRate = 0
	_, err = objective{base: flat, target: 10}.residual(0)
	assert.Error(t, err)
}

func TestNewton_RecoversAfterLeavingPlausibleRange(t *testing.T) {
	cases := []ModelParameters{
		{Type: Put, Spot: 100, Exercise: 80, Years: 0.1, Volatility: 1.0, RiskFreeRate: 0.05},
		{Type: Call, Spot: 100, Exercise: 80, Years: 0.5, Volatility: 4.0, RiskFreeRate: 0.05},
	}

	for _, p := range cases {
		t.Run(fmt.Sprintf("%s/T=%v/vol=%v", p.Type, p.Years, p.Volatility), func(t *testing.T) {
			target, err := Price(p)
			require.NoError(t, err)

			var path []float64
			obj := objective{
				base:   p.WithVolatility(0),
				target: target,
				visit:  func(vol float64) { path = append(path, vol) },
			}
			nr := obj.newton()
			require.True(t, nr.converged, nr.reason)
			assert.InDelta(t, p.Volatility, nr.vol, 1e-4)

			left := false
			for _, vol := range path {
				if vol <= minPlausibleVol || vol >= maxPlausibleVol {
					left = true
				}
			}
			assert.True(t, left, "trial volatilities stayed in range: %v", path)

			sol, err := FindImpliedVolatility(p.Type, p.Spot, p.Exercise, p.Years, target, p.RiskFreeRate, p.DividendYield)
			require.NoError(t, err)
			assert.True(t, sol.Found)
			assert.Equal(t, MethodNewton, sol.Method)
			assert.InDelta(t, p.Volatility, sol.Volatility, 1e-4)
		})
	}
}

func TestCheckBounds(t *testing.T) {
	obj := objective{base: atmParams(Call)}

	assert.True(t, obj.checkBounds(0.25, 3).converged)
	assert.True(t, obj.checkBounds(4.99, 3).converged)
	assert.False(t, obj.checkBounds(0.0001, 3).converged)
	assert.False(t, obj.checkBounds(5, 3).converged)
	assert.False(t, obj.checkBounds(-0.3, 3).converged)
}

func TestFindImpliedVolatility_Concurrent(t *testing.T) {
	vols := []float64{0.1, 0.2, 0.3, 0.5, 0.9, 1.4}
	got := make([]Solution, len(vols))

	var wg sync.WaitGroup
	for i, vol := range vols {
		wg.Add(1)
		go func(i int, vol float64) {
			defer wg.Done()
			target, _ := Price(atmParams(Put).WithVolatility(vol))
			got[i], _ = FindImpliedVolatility(Put, 100, 100, 1, target, 0.05, 0)
		}(i, vol)
	}
	wg.Wait()

	for i, vol := range vols {
		assert.True(t, got[i].Found)
		assert.InDelta(t, vol, got[i].Volatility, 1e-4)
	}
}
