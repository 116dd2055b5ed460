package data

import (
	"fmt"
	"time"

	"github.com/contactkeval/option-iv/internal/expiry"
	"github.com/contactkeval/option-iv/internal/pricing"
)

// synthDataProvider implements Provider with model prices: every underlying
// trades at the same spot and every option is priced at one volatility.
type synthDataProvider struct {
	spot          float64
	volatility    float64
	riskFreeRate  float64
	dividendYield float64
}

func NewSyntheticProvider(spot, volatility, riskFreeRate, dividendYield float64) Provider {
	return &synthDataProvider{
		spot:          spot,
		volatility:    volatility,
		riskFreeRate:  riskFreeRate,
		dividendYield: dividendYield,
	}
}

// Secondary is always nil; the synthetic provider ends a chain.
func (synthDataProv *synthDataProvider) Secondary() Provider {
	return nil
}

func (synthDataProv *synthDataProvider) GetSpot(underlying string, asOf time.Time) (float64, error) {
	return synthDataProv.spot, nil
}

func (synthDataProv *synthDataProvider) GetOptionPrice(underlying string, strike float64, expiryDate time.Time, optType pricing.OptionType, asOf time.Time) (float64, error) {
	px, err := pricing.Price(pricing.ModelParameters{
		Type:          optType,
		Spot:          synthDataProv.spot,
		Exercise:      strike,
		Years:         expiry.Years(expiryDate, asOf),
		Volatility:    synthDataProv.volatility,
		RiskFreeRate:  synthDataProv.riskFreeRate,
		DividendYield: synthDataProv.dividendYield,
	})
	if err != nil {
		return 0, fmt.Errorf("synthetic %s price: %w", underlying, err)
	}
	return px, nil
}
