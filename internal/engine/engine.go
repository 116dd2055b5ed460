// Package engine solves implied volatilities for batches of option quotes.
package engine

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"

	"github.com/contactkeval/option-iv/internal/data"
	"github.com/contactkeval/option-iv/internal/expiry"
	"github.com/contactkeval/option-iv/internal/logger"
	"github.com/contactkeval/option-iv/internal/pricing"
)

type Engine struct {
	cfg  *Config
	prov data.Provider
}

// Config holds the market assumptions applied to every quote in a run.
type Config struct {
	RiskFreeRate  float64   `json:"risk_free_rate"`
	DividendYield float64   `json:"dividend_yield"`
	AsOf          time.Time `json:"as_of"`   // valuation time, defaults to now
	Workers       int       `json:"workers"` // concurrent solves, defaults to NumCPU
}

// Row is the outcome for one quote. Err is set when the quote could not be
// solved at all (bad input, missing market data); an unreachable price leaves
// Err empty with Solution.Found false.
type Row struct {
	Quote    data.Quote       `json:"quote"`
	Years    float64          `json:"years"`
	Solution pricing.Solution `json:"solution"`
	Err      string           `json:"error,omitempty"`
}

// Summary aggregates implied volatilities over solved rows.
type Summary struct {
	Total    int     `json:"total"`
	Solved   int     `json:"solved"`
	Unsolved int     `json:"unsolved"`
	Errored  int     `json:"errored"`
	MeanIV   float64 `json:"mean_iv"`
	MedianIV float64 `json:"median_iv"`
	MinIV    float64 `json:"min_iv"`
	MaxIV    float64 `json:"max_iv"`
}

type Result struct {
	RunID   string    `json:"run_id"`
	AsOf    time.Time `json:"as_of"`
	Rows    []Row     `json:"rows"`
	Summary Summary   `json:"summary"`
}

// NewEngine binds a run configuration to a data provider. prov may be nil
// when every quote carries its own spot and price.
func NewEngine(cfg *Config, prov data.Provider) *Engine {
	return &Engine{cfg: cfg, prov: prov}
}

// Run solves every quote and returns rows in input order. Per-quote failures
// are recorded on the row and do not stop the batch.
func (e *Engine) Run(quotes []data.Quote) (*Result, error) {
	cfg := e.config()

	res := &Result{
		RunID: uuid.NewString(),
		AsOf:  cfg.AsOf,
		Rows:  make([]Row, len(quotes)),
	}
	logger.Infof("run %s: solving %d quotes with %d workers", res.RunID, len(quotes), cfg.Workers)

	var g errgroup.Group
	g.SetLimit(cfg.Workers)
	for i, q := range quotes {
		g.Go(func() error {
			res.Rows[i] = e.solve(cfg, q)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary, err := summarize(res.Rows)
	if err != nil {
		return nil, err
	}
	res.Summary = summary

	logger.Infof("run %s: solved=%d unsolved=%d errored=%d",
		res.RunID, summary.Solved, summary.Unsolved, summary.Errored)
	return res, nil
}

// Solve resolves one quote outside of a batch.
func (e *Engine) Solve(q data.Quote) Row {
	return e.solve(e.config(), q)
}

// config returns a copy of the run configuration with defaults filled in.
// The caller's Config is never written.
func (e *Engine) config() Config {
	cfg := *e.cfg
	if cfg.AsOf.IsZero() {
		cfg.AsOf = time.Now()
	}
	if cfg.Workers < 1 {
		cfg.Workers = runtime.NumCPU()
	}
	return cfg
}

func (e *Engine) solve(cfg Config, q data.Quote) Row {
	row := Row{Quote: q}

	sol, years, err := e.resolve(cfg, &row.Quote)
	row.Years = years
	if err != nil {
		logger.Debugf("%s %s %.2f %s: %v", q.Underlying, q.Type, q.Strike, q.Expiry, err)
		row.Err = err.Error()
		return row
	}
	row.Solution = sol
	if !sol.Found {
		logger.Debugf("%s %s %.2f %s: no implied volatility reproduces price %.4f",
			q.Underlying, q.Type, q.Strike, q.Expiry, row.Quote.Price)
	}
	return row
}

// resolve fills missing market inputs on q from the provider and solves.
func (e *Engine) resolve(cfg Config, q *data.Quote) (pricing.Solution, float64, error) {
	optType, err := pricing.ParseOptionType(q.Type)
	if err != nil {
		return pricing.Solution{}, 0, err
	}
	asOf := cfg.AsOf
	exp, err := expiry.Parse(q.Expiry, asOf.Location())
	if err != nil {
		return pricing.Solution{}, 0, err
	}
	years := expiry.Years(exp, asOf)

	if q.Spot == 0 {
		if e.prov == nil {
			return pricing.Solution{}, years, fmt.Errorf("no spot for %s and no provider configured", q.Underlying)
		}
		if q.Spot, err = e.prov.GetSpot(strings.ToUpper(q.Underlying), asOf); err != nil {
			return pricing.Solution{}, years, fmt.Errorf("spot: %w", err)
		}
	}
	if q.Price == 0 {
		if e.prov == nil {
			return pricing.Solution{}, years, fmt.Errorf("no price for %s and no provider configured", q.Underlying)
		}
		if q.Price, err = e.prov.GetOptionPrice(strings.ToUpper(q.Underlying), q.Strike, exp, optType, asOf); err != nil {
			return pricing.Solution{}, years, fmt.Errorf("option price: %w", err)
		}
	}

	sol, err := pricing.FindImpliedVolatility(optType, q.Spot, q.Strike, years, q.Price, cfg.RiskFreeRate, cfg.DividendYield)
	return sol, years, err
}

func summarize(rows []Row) (Summary, error) {
	s := Summary{Total: len(rows)}

	var vols stats.Float64Data
	for _, r := range rows {
		switch {
		case r.Err != "":
			s.Errored++
		case r.Solution.Found:
			s.Solved++
			vols = append(vols, r.Solution.Volatility)
		default:
			s.Unsolved++
		}
	}
	if len(vols) == 0 {
		return s, nil
	}

	var err error
	if s.MeanIV, err = vols.Mean(); err != nil {
		return s, fmt.Errorf("mean iv: %w", err)
	}
	if s.MedianIV, err = vols.Median(); err != nil {
		return s, fmt.Errorf("median iv: %w", err)
	}
	if s.MinIV, err = vols.Min(); err != nil {
		return s, fmt.Errorf("min iv: %w", err)
	}
	if s.MaxIV, err = vols.Max(); err != nil {
		return s, fmt.Errorf("max iv: %w", err)
	}
	return s, nil
}
