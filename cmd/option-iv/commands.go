package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/contactkeval/option-iv/internal/data"
	"github.com/contactkeval/option-iv/internal/engine"
	"github.com/contactkeval/option-iv/internal/expiry"
	"github.com/contactkeval/option-iv/internal/logger"
	"github.com/contactkeval/option-iv/internal/pricing"
	"github.com/contactkeval/option-iv/internal/report"
	"github.com/contactkeval/option-iv/internal/server"
)

// contractFlags describes a single option on the command line.
type contractFlags struct {
	optType string
	spot    float64
	strike  float64
	years   float64
	expiry  string
}

func (c *contractFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&c.optType, "type", "call", "option type: call or put")
	flags.Float64Var(&c.spot, "spot", 0, "underlying price")
	flags.Float64Var(&c.strike, "strike", 0, "exercise price")
	flags.Float64Var(&c.years, "years", 0, "time to expiry in years")
	flags.StringVar(&c.expiry, "expiry", "", "expiration date YYYY-MM-DD, instead of --years")
	cmd.MarkFlagsMutuallyExclusive("years", "expiry")
	cmd.MarkFlagsOneRequired("years", "expiry")
	_ = cmd.MarkFlagRequired("spot")
	_ = cmd.MarkFlagRequired("strike")
}

func (c *contractFlags) resolve(now time.Time) (pricing.OptionType, float64, error) {
	optType, err := pricing.ParseOptionType(c.optType)
	if err != nil {
		return "", 0, err
	}
	if c.expiry == "" {
		return optType, c.years, nil
	}
	years, err := expiry.YearsToExpiration(c.expiry, now)
	if err != nil {
		return "", 0, err
	}
	return optType, years, nil
}

func newPriceCmd(a *app) *cobra.Command {
	var (
		contract contractFlags
		vol      float64
	)
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Price a European option and report vega, d1 and d2",
		RunE: func(cmd *cobra.Command, args []string) error {
			optType, years, err := contract.resolve(time.Now())
			if err != nil {
				return err
			}
			p := pricing.ModelParameters{
				Type:          optType,
				Spot:          contract.spot,
				Exercise:      contract.strike,
				Years:         years,
				Volatility:    vol,
				RiskFreeRate:  a.cfg.RiskFreeRate,
				DividendYield: a.cfg.DividendYield,
			}
			px, err := pricing.Price(p)
			if err != nil {
				return err
			}
			vega, err := pricing.Vega(p)
			if err != nil {
				return err
			}
			d1, err := pricing.D1(p)
			if err != nil {
				return err
			}
			d2, err := pricing.D2(p)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "price %s\n", report.Fixed(px))
			fmt.Fprintf(out, "vega  %s\n", report.Fixed(vega))
			fmt.Fprintf(out, "d1    %s\n", report.Fixed(d1))
			fmt.Fprintf(out, "d2    %s\n", report.Fixed(d2))
			return nil
		},
	}
	contract.register(cmd)
	cmd.Flags().Float64Var(&vol, "vol", 0, "annualised volatility as a decimal, e.g. 0.2")
	_ = cmd.MarkFlagRequired("vol")
	return cmd
}

func newIVCmd(a *app) *cobra.Command {
	var (
		contract contractFlags
		target   float64
	)
	cmd := &cobra.Command{
		Use:   "iv",
		Short: "Solve the implied volatility of an observed option price",
		RunE: func(cmd *cobra.Command, args []string) error {
			optType, years, err := contract.resolve(time.Now())
			if err != nil {
				return err
			}
			sol, err := pricing.FindImpliedVolatility(optType, contract.spot, contract.strike, years, target,
				a.cfg.RiskFreeRate, a.cfg.DividendYield)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !sol.Found {
				fmt.Fprintf(out, "no solution: no volatility reproduces price %s\n", report.Fixed(target))
				return nil
			}
			fmt.Fprintf(out, "iv %s (%s, %d iterations)\n", report.Fixed(sol.Volatility), sol.Method, sol.Iterations)
			return nil
		},
	}
	contract.register(cmd)
	cmd.Flags().Float64Var(&target, "price", 0, "observed option price")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func newBatchCmd(a *app) *cobra.Command {
	var quotesFile, reportDir string
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Solve implied volatilities for every quote in a CSV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if quotesFile == "" {
				quotesFile = a.cfg.QuotesFile
			}
			if quotesFile == "" {
				return errors.New("no quotes file: pass --quotes or set quotes_file in the config")
			}
			if reportDir == "" {
				reportDir = a.cfg.ReportDir
			}

			quotes, err := data.LoadQuotes(quotesFile)
			if err != nil {
				return err
			}
			prov, err := a.provider(quotesFile)
			if err != nil {
				return err
			}

			start := time.Now()
			res, err := engine.NewEngine(a.engineConfig(time.Time{}), prov).Run(quotes)
			if err != nil {
				return fmt.Errorf("batch failed: %w", err)
			}
			report.WriteTable(cmd.OutOrStdout(), res)

			if reportDir == "" {
				return nil
			}
			if err := os.MkdirAll(reportDir, 0755); err != nil {
				return fmt.Errorf("could not create report dir %s: %w", reportDir, err)
			}
			if err := report.WriteJSON(res, reportDir); err != nil {
				return err
			}
			if err := report.WriteCSV(res.Rows, reportDir); err != nil {
				return err
			}
			logger.Infof("finished in %v, wrote %d rows to %s", time.Since(start), len(res.Rows), reportDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&quotesFile, "quotes", "", "quotes CSV (underlying,type,strike,expiry,spot,price)")
	cmd.Flags().StringVar(&reportDir, "report-dir", "", "directory for iv.json and iv.csv")
	return cmd
}

func newQuoteCmd(a *app) *cobra.Command {
	var (
		q          data.Quote
		asOf       string
		quotesFile string
	)
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Fetch spot and option price from the configured providers and solve the implied volatility",
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseAsOf(asOf)
			if err != nil {
				return err
			}
			prov, err := a.provider(quotesFile)
			if err != nil {
				return err
			}
			if prov == nil {
				return errors.New("no market data provider configured: set MASSIVE_API_KEY, a synthetic source or --quotes")
			}

			res, err := engine.NewEngine(a.engineConfig(at), prov).Run([]data.Quote{q})
			if err != nil {
				return err
			}
			report.WriteTable(cmd.OutOrStdout(), res)
			if row := res.Rows[0]; row.Err != "" {
				return errors.New(row.Err)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&q.Underlying, "underlying", "", "underlying ticker, e.g. SPY")
	flags.StringVar(&q.Type, "type", "call", "option type: call or put")
	flags.Float64Var(&q.Strike, "strike", 0, "exercise price")
	flags.StringVar(&q.Expiry, "expiry", "", "expiration date YYYY-MM-DD")
	flags.Float64Var(&q.Spot, "spot", 0, "underlying price, fetched when omitted")
	flags.Float64Var(&q.Price, "price", 0, "option price, fetched when omitted")
	flags.StringVar(&asOf, "as-of", "", "valuation time, RFC3339 or YYYY-MM-DDTHH:MM local (default now)")
	flags.StringVar(&quotesFile, "quotes", "", "quotes CSV consulted before the remote providers")
	_ = cmd.MarkFlagRequired("underlying")
	_ = cmd.MarkFlagRequired("strike")
	_ = cmd.MarkFlagRequired("expiry")
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	var addr, quotesFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve pricing, implied volatility and batch runs over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			prov, err := a.provider(quotesFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.New(*a.engineConfig(time.Time{}), prov).ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&quotesFile, "quotes", "", "quotes CSV used as a market data source")
	return cmd
}

func (a *app) engineConfig(asOf time.Time) *engine.Config {
	return &engine.Config{
		RiskFreeRate:  a.cfg.RiskFreeRate,
		DividendYield: a.cfg.DividendYield,
		AsOf:          asOf,
		Workers:       a.cfg.Workers,
	}
}

func parseAsOf(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --as-of %q: want RFC3339 or YYYY-MM-DDTHH:MM", s)
	}
	return t, nil
}
