package data

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/contactkeval/option-iv/internal/pricing"
)

// Provider supplies the market inputs of an implied volatility solve.
// Implementations delegate what they cannot answer to Secondary, if set.
type Provider interface {
	Secondary() Provider
	GetSpot(underlying string, asOf time.Time) (float64, error)
	GetOptionPrice(underlying string, strike float64, expiryDate time.Time, optType pricing.OptionType, asOf time.Time) (float64, error)
}

// Bar simplified OHLC
type Bar struct {
	Date  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
	Vol   float64
	Count int64
}

// Quote is one option observation, as read from a quotes CSV.
// Zero Spot or Price means "ask the provider".
type Quote struct {
	Underlying string  `csv:"underlying" json:"underlying"`
	Type       string  `csv:"type" json:"type"`
	Strike     float64 `csv:"strike" json:"strike"`
	Expiry     string  `csv:"expiry" json:"expiry"` // YYYY-MM-DD
	Spot       float64 `csv:"spot" json:"spot"`
	Price      float64 `csv:"price" json:"price"`
}

// --------------------------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------------------------

// OptionSymbolFromParts: OCC-like formatter (best-effort)
func OptionSymbolFromParts(underlying string, expiryDate time.Time, optType pricing.OptionType, strike float64) string {
	// OCC: <root><YYMMDD><C|P><strike*1000 padded to 8 digits>
	expDt := expiryDate.Format("060102")
	cp := "C"
	if optType == pricing.Put {
		cp = "P"
	}
	strikeInt := int(math.Round(strike * 1000))
	return fmt.Sprintf("O:%s%s%s%08d", strings.ToUpper(underlying), expDt, cp, strikeInt)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
