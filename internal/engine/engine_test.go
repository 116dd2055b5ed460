package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactkeval/option-iv/internal/data"
	"github.com/contactkeval/option-iv/internal/pricing"
	"github.com/contactkeval/option-iv/internal/testutil"
)

func TestRun_RecoversSyntheticVolatility(t *testing.T) {
	cfg := &Config{RiskFreeRate: 0.04, DividendYield: 0.01, AsOf: testutil.AsOf, Workers: 3}
	prov := data.NewSyntheticProvider(100, 0.32, cfg.RiskFreeRate, cfg.DividendYield)

	quotes := []data.Quote{
		{Underlying: "SYN", Type: "call", Strike: 95, Expiry: "2025-03-21"},
		{Underlying: "SYN", Type: "put", Strike: 95, Expiry: "2025-03-21"},
		{Underlying: "syn", Type: "c", Strike: 110, Expiry: "2025-06-20"},
		{Underlying: "SYN", Type: "P", Strike: 100, Expiry: "2026-01-16"},
	}

	res, err := NewEngine(cfg, prov).Run(quotes)
	require.NoError(t, err)
	require.Len(t, res.Rows, len(quotes))
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, testutil.AsOf, res.AsOf)

	for i, row := range res.Rows {
		assert.Equal(t, quotes[i].Strike, row.Quote.Strike, "rows keep input order")
		assert.Empty(t, row.Err)
		assert.Equal(t, 100.0, row.Quote.Spot)
		assert.Greater(t, row.Quote.Price, 0.0)
		assert.Greater(t, row.Years, 0.0)
		require.True(t, row.Solution.Found)
		assert.InDelta(t, 0.32, row.Solution.Volatility, 1e-4)
	}

	assert.Equal(t, Summary{
		Total:    4,
		Solved:   4,
		MeanIV:   res.Summary.MeanIV,
		MedianIV: res.Summary.MedianIV,
		MinIV:    res.Summary.MinIV,
		MaxIV:    res.Summary.MaxIV,
	}, res.Summary)
	assert.InDelta(t, 0.32, res.Summary.MeanIV, 1e-4)
	assert.InDelta(t, 0.32, res.Summary.MedianIV, 1e-4)
	assert.LessOrEqual(t, res.Summary.MinIV, res.Summary.MaxIV)
}

func TestRun_RecordsPerRowFailures(t *testing.T) {
	cfg := &Config{RiskFreeRate: 0.05, AsOf: testutil.AsOf, Workers: 2}

	quotes := []data.Quote{
		{Underlying: "SPY", Type: "call", Strike: 100, Expiry: "2026-01-02", Spot: 100, Price: 10.4506},
		{Underlying: "SPY", Type: "call", Strike: 100, Expiry: "2026-01-02", Spot: 100, Price: -5},
		{Underlying: "SPY", Type: "straddle", Strike: 100, Expiry: "2026-01-02", Spot: 100, Price: 10},
		{Underlying: "SPY", Type: "put", Strike: 100, Expiry: "01/02/2026", Spot: 100, Price: 10},
		{Underlying: "SPY", Type: "put", Strike: 100, Expiry: "2024-12-20", Spot: 100, Price: 1},
		{Underlying: "SPY", Type: "put", Strike: 100, Expiry: "2026-01-02", Price: 5},
	}

	res, err := NewEngine(cfg, nil).Run(quotes)
	require.NoError(t, err)

	ok := res.Rows[0]
	assert.Empty(t, ok.Err)
	assert.True(t, ok.Solution.Found)
	assert.InDelta(t, 0.2, ok.Solution.Volatility, 2e-3) // 364/365 of a year

	unreachable := res.Rows[1]
	assert.Empty(t, unreachable.Err)
	assert.False(t, unreachable.Solution.Found)
	assert.Equal(t, pricing.MethodNone, unreachable.Solution.Method)

	assert.Contains(t, res.Rows[2].Err, "unsupported option type")
	assert.Contains(t, res.Rows[3].Err, "parse expiration")
	assert.Contains(t, res.Rows[4].Err, "years must be positive")
	assert.Contains(t, res.Rows[5].Err, "no provider configured")

	assert.Equal(t, 6, res.Summary.Total)
	assert.Equal(t, 1, res.Summary.Solved)
	assert.Equal(t, 1, res.Summary.Unsolved)
	assert.Equal(t, 4, res.Summary.Errored)
	assert.Equal(t, ok.Solution.Volatility, res.Summary.MeanIV)
}

func TestRun_ProviderChain(t *testing.T) {
	path := testutil.WriteQuotesCSV(t, "SPY,call,580,2025-01-17,584.64,12.14")
	synth := data.NewSyntheticProvider(584.64, 0.18, 0.045, 0.013)
	prov, err := data.NewLocalCSVDataProvider(path, synth)
	require.NoError(t, err)

	cfg := &Config{RiskFreeRate: 0.045, DividendYield: 0.013, AsOf: testutil.AsOf}
	res, err := NewEngine(cfg, prov).Run([]data.Quote{
		{Underlying: "SPY", Type: "call", Strike: 580, Expiry: "2025-01-17"}, // from the CSV
		{Underlying: "SPY", Type: "put", Strike: 575, Expiry: "2025-01-17"},  // from the synthetic fallback
	})
	require.NoError(t, err)

	assert.Equal(t, 12.14, res.Rows[0].Quote.Price)
	assert.True(t, res.Rows[0].Solution.Found)

	assert.True(t, res.Rows[1].Solution.Found)
	assert.InDelta(t, 0.18, res.Rows[1].Solution.Volatility, 1e-4)
}

func TestSolve_Single(t *testing.T) {
	row := NewEngine(&Config{RiskFreeRate: 0.05, AsOf: testutil.AsOf}, nil).Solve(data.Quote{
		Underlying: "SPY", Type: "put", Strike: 100, Expiry: "2026-01-02", Spot: 100, Price: 5.57,
	})

	assert.Empty(t, row.Err)
	assert.True(t, row.Solution.Found)
	assert.InDelta(t, 364.0/365.0, row.Years, 1e-12)
}

func TestRun_LeavesConfigUntouched(t *testing.T) {
	cfg := &Config{RiskFreeRate: 0.05}
	eng := NewEngine(cfg, nil)
	q := data.Quote{Underlying: "SPY", Type: "call", Strike: 100, Expiry: "2099-01-02", Spot: 100, Price: 10}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			res, err := eng.Run([]data.Quote{q, q})
			assert.NoError(t, err)
			assert.False(t, res.AsOf.IsZero())
		}()
		go func() {
			defer wg.Done()
			row := eng.Solve(q)
			assert.Empty(t, row.Err)
		}()
	}
	wg.Wait()

	assert.True(t, cfg.AsOf.IsZero())
	assert.Zero(t, cfg.Workers)
}

func TestSummarize_Empty(t *testing.T) {
	s, err := summarize(nil)
	require.NoError(t, err)
	assert.Equal(t, Summary{}, s)
}
