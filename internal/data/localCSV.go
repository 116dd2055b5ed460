package data

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/contactkeval/option-iv/internal/expiry"
	"github.com/contactkeval/option-iv/internal/logger"
	"github.com/contactkeval/option-iv/internal/pricing"
)

// localCSVDataProvider answers spot and option price lookups from a quotes
// CSV with the header: underlying,type,strike,expiry,spot,price
type localCSVDataProvider struct {
	path      string
	quotes    []Quote
	secondary Provider
}

// LoadQuotes decodes every row of the quotes CSV at path.
func LoadQuotes(path string) ([]Quote, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open quotes file: %w", err)
	}
	defer f.Close()

	var quotes []Quote
	if err := gocsv.UnmarshalFile(f, &quotes); err != nil {
		return nil, fmt.Errorf("decode quotes %s: %w", path, err)
	}
	logger.Debugf("loaded %d quotes from %s", len(quotes), path)
	return quotes, nil
}

// NewLocalCSVDataProvider loads path once and serves lookups from memory.
func NewLocalCSVDataProvider(path string, secondary Provider) (*localCSVDataProvider, error) {
	quotes, err := LoadQuotes(path)
	if err != nil {
		return nil, err
	}
	return &localCSVDataProvider{path: path, quotes: quotes, secondary: secondary}, nil
}

func (localCSVDataProv *localCSVDataProvider) Secondary() Provider {
	return localCSVDataProv.secondary
}

// GetSpot returns the first positive spot recorded for underlying.
// The file carries no timestamps, so asOf is only passed on to the secondary.
func (localCSVDataProv *localCSVDataProvider) GetSpot(underlying string, asOf time.Time) (float64, error) {
	for _, q := range localCSVDataProv.quotes {
		if strings.EqualFold(q.Underlying, underlying) && q.Spot > 0 {
			return q.Spot, nil
		}
	}
	if localCSVDataProv.secondary != nil {
		return localCSVDataProv.secondary.GetSpot(underlying, asOf)
	}
	return 0, fmt.Errorf("no spot for %s in %s", underlying, localCSVDataProv.path)
}

// GetOptionPrice returns the price of the row matching underlying, type,
// strike and expiry date.
func (localCSVDataProv *localCSVDataProvider) GetOptionPrice(underlying string, strike float64, expiryDate time.Time, optType pricing.OptionType, asOf time.Time) (float64, error) {
	for _, q := range localCSVDataProv.quotes {
		if !strings.EqualFold(q.Underlying, underlying) || q.Price <= 0 {
			continue
		}
		if math.Abs(q.Strike-strike) > 1e-9 {
			continue
		}
		qt, err := pricing.ParseOptionType(q.Type)
		if err != nil || qt != optType {
			continue
		}
		exp, err := expiry.Parse(q.Expiry, expiryDate.Location())
		if err != nil || !sameDay(exp, expiryDate) {
			continue
		}
		return q.Price, nil
	}

	if localCSVDataProv.secondary != nil {
		return localCSVDataProv.secondary.GetOptionPrice(underlying, strike, expiryDate, optType, asOf)
	}
	return 0, fmt.Errorf("no %s %s %.2f %s quote in %s",
		underlying, optType, strike, expiryDate.Format(expiry.DateLayout), localCSVDataProv.path)
}
