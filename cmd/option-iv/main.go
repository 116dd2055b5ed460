package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/contactkeval/option-iv/internal/config"
	"github.com/contactkeval/option-iv/internal/data"
	"github.com/contactkeval/option-iv/internal/logger"
)

// app carries state shared by every command once the root has loaded config.
type app struct {
	configPath string
	envFile    string
	verbosity  int
	rate       float64
	dividend   float64
	workers    int

	cfg config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "option-iv",
		Short:         "Black-Scholes pricing and implied volatility for European options",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to YAML config")
	flags.StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	flags.IntVarP(&a.verbosity, "verbosity", "v", 1, "0=errors, 1=info, 2=debug, 3=trace")
	flags.Float64Var(&a.rate, "rate", 0, "risk free rate, continuously compounded (overrides config)")
	flags.Float64Var(&a.dividend, "dividend", 0, "dividend yield, continuous (overrides config)")
	flags.IntVar(&a.workers, "workers", 0, "concurrent solves for batch runs (overrides config)")

	root.AddCommand(
		newPriceCmd(a),
		newIVCmd(a),
		newBatchCmd(a),
		newQuoteCmd(a),
		newServeCmd(a),
	)
	return root
}

// load resolves configuration in increasing precedence: defaults, YAML file,
// .env file and environment, command line flags.
func (a *app) load(cmd *cobra.Command) error {
	if err := config.LoadEnvFile(a.envFile); err != nil {
		return err
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("verbosity") {
		cfg.Verbosity = a.verbosity
	}
	if flags.Changed("rate") {
		cfg.RiskFreeRate = a.rate
	}
	if flags.Changed("dividend") {
		cfg.DividendYield = a.dividend
	}
	if flags.Changed("workers") {
		cfg.Workers = a.workers
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.SetVerbosity(cfg.Verbosity)
	a.cfg = cfg
	return nil
}

// provider builds the market data chain: quotes CSV, then Massive, then
// synthetic prices. Sources that are not configured are skipped; nil means
// none is.
func (a *app) provider(quotesFile string) (data.Provider, error) {
	var prov data.Provider
	if s := a.cfg.Synthetic; s != nil {
		prov = data.NewSyntheticProvider(s.Spot, s.Volatility, a.cfg.RiskFreeRate, a.cfg.DividendYield)
		logger.Infof("synthetic provider enabled")
	}
	if a.cfg.Massive.APIKey != "" {
		prov = data.NewMassiveDataProvider(a.cfg.Massive.APIKey, a.cfg.Massive.BaseURL, prov)
		logger.Infof("massive provider enabled")
	}
	if quotesFile != "" {
		csvProv, err := data.NewLocalCSVDataProvider(quotesFile, prov)
		if err != nil {
			return nil, err
		}
		prov = csvProv
		logger.Infof("local CSV provider enabled (%s)", quotesFile)
	}
	return prov, nil
}
