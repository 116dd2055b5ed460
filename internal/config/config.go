// Package config loads option-iv settings from an optional YAML file, an
// optional .env file and the process environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultMassiveBaseURL = "https://api.massive.com"

// Config holds market defaults and provider settings shared by all commands.
type Config struct {
	RiskFreeRate  float64       `yaml:"risk_free_rate"` // continuously compounded, e.g. 0.05
	DividendYield float64       `yaml:"dividend_yield"` // continuous yield, e.g. 0.013
	Verbosity     int           `yaml:"verbosity"`      // 0=errors,1=info,2=debug,3=trace
	Workers       int           `yaml:"workers"`        // batch solver concurrency
	ReportDir     string        `yaml:"report_dir"`     // empty disables file reports
	QuotesFile    string        `yaml:"quotes_file"`    // CSV quotes used by batch and as a price source
	Massive       MassiveConfig `yaml:"massive"`        // Massive REST API access
	Synthetic     *Synthetic    `yaml:"synthetic"`      // model-priced fallback source, nil disables
}

// MassiveConfig configures the Massive market data API.
type MassiveConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Synthetic configures the model-priced quote source.
type Synthetic struct {
	Spot       float64 `yaml:"spot"`
	Volatility float64 `yaml:"volatility"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Verbosity: 1,
		Workers:   runtime.NumCPU(),
		Massive: MassiveConfig{
			BaseURL: DefaultMassiveBaseURL,
		},
	}
}

// LoadEnvFile loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s file: %w", path, err)
	}
	return nil
}

// Load reads the YAML file at path over the defaults and then applies
// environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if key := os.Getenv("MASSIVE_API_KEY"); key != "" {
		c.Massive.APIKey = key
	} else if key := os.Getenv("POLYGON_API_KEY"); key != "" && c.Massive.APIKey == "" {
		c.Massive.APIKey = key
	}
	if u := os.Getenv("MASSIVE_BASE_URL"); u != "" {
		c.Massive.BaseURL = u
	}

	for name, dst := range map[string]*float64{
		"RISK_FREE_RATE": &c.RiskFreeRate,
		"DIVIDEND_YIELD": &c.DividendYield,
	} {
		raw := os.Getenv(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, raw, err)
		}
		*dst = v
	}
	return nil
}

// Validate rejects settings no command can run with.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Massive.BaseURL == "" {
		return errors.New("massive base_url must not be empty")
	}
	if s := c.Synthetic; s != nil && (s.Spot <= 0 || s.Volatility <= 0) {
		return fmt.Errorf("synthetic spot and volatility must be positive, got spot=%v volatility=%v", s.Spot, s.Volatility)
	}
	return nil
}
