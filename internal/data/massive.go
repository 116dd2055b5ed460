// Package data provides market data provider implementations.
//
// This file contains a Massive-backed Provider implementation that retrieves
// underlying closes and option prices from Massive aggregate bars.
//
// Design notes:
//   - Uses raw HTTP calls instead of the official Massive SDK
//   - Retries on HTTP 429 until the next minute boundary
//   - Logging is verbose at Debug/Trace levels for diagnostics
package data

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
	_ "time/tzdata"

	"github.com/contactkeval/option-iv/internal/logger"
	"github.com/contactkeval/option-iv/internal/pricing"
)

// spotLookback bounds the daily-bar window searched for the last close,
// enough to cover long weekends and exchange holidays.
const spotLookback = 7 * 24 * time.Hour

// optionPriceWindow is the minute-bar window searched either side of asOf.
const optionPriceWindow = 5 * time.Minute

// sessionCloseHour is the regular-session close, New York time.
const sessionCloseHour = 16

var newYork = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// sessionClose returns the close of the trading day a daily bar covers.
// Daily bars are stamped at the start of their day, so the UTC date is the
// session date.
func sessionClose(bar Bar) time.Time {
	y, m, d := bar.Date.UTC().Date()
	return time.Date(y, m, d, sessionCloseHour, 0, 0, 0, newYork)
}

// massiveDataProvider implements the Provider interface using Massive APIs.
type massiveDataProvider struct {
	// APIKey used for authenticating requests with Massive.
	APIKey string

	// Client is the HTTP client used to make API requests.
	Client *http.Client

	// BaseURL is the root endpoint for Massive APIs
	// (e.g., https://api.massive.com).
	BaseURL string

	// secondary is an optional fallback provider.
	secondary Provider
}

// massiveAggsResp models the aggregates (bars) response.
type massiveAggsResp struct {
	Ticker   string `json:"ticker"`
	Adjusted bool   `json:"adjusted"`
	Results  []struct {
		Open      float64 `json:"o"`
		Close     float64 `json:"c"`
		High      float64 `json:"h"`
		Low       float64 `json:"l"`
		VWAP      float64 `json:"vw"` // volume-weighted average price
		Volume    float64 `json:"v"`  // trading volume of the symbol in the given time period
		Trades    int64   `json:"n"`  // number of transactions in the aggregate window
		Timestamp int64   `json:"t"`  // epoch millis
	} `json:"results"`
	Status  string `json:"status"`
	NextURL string `json:"next_url"`
}

// NewMassiveDataProvider constructs a Massive-backed data provider.
//
// Parameters:
//   - apiKey: Massive API key for authentication
//   - baseURL: API root; empty uses https://api.massive.com
//   - secondary: optional fallback provider, may be nil
func NewMassiveDataProvider(apiKey, baseURL string, secondary Provider) *massiveDataProvider {
	logger.Infof("initializing Massive data provider")

	if baseURL == "" {
		baseURL = "https://api.massive.com"
	}

	return &massiveDataProvider{
		APIKey: apiKey,
		Client: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
				DisableCompression:    false, // must be false to enable gzip auto-decompression
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          100,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		BaseURL:   baseURL,
		secondary: secondary,
	}
}

// Secondary returns the configured secondary Provider, if any.
func (massiveDataProv *massiveDataProvider) Secondary() Provider {
	return massiveDataProv.secondary
}

// GetSpot returns the last daily close of underlying at or before asOf. A
// session still trading at asOf has no close yet and is skipped.
// Failures are delegated to the secondary provider when one is configured.
func (massiveDataProv *massiveDataProvider) GetSpot(underlying string, asOf time.Time) (float64, error) {
	logger.Debugf("spot lookup: %s as of %s", underlying, asOf.Format(time.RFC3339))

	spot, err := massiveDataProv.lastClose(underlying, asOf)
	if err != nil {
		if massiveDataProv.secondary != nil {
			logger.Tracef("delegating spot lookup to secondary provider: %v", err)
			return massiveDataProv.secondary.GetSpot(underlying, asOf)
		}
		return 0, err
	}

	logger.Tracef("spot resolved %s=%.4f", underlying, spot)
	return spot, nil
}

func (massiveDataProv *massiveDataProvider) lastClose(underlying string, asOf time.Time) (float64, error) {
	bars, err := massiveDataProv.GetBars(underlying, asOf.Add(-spotLookback), asOf, 1, "day")
	if err != nil {
		return 0, err
	}
	for i := len(bars) - 1; i >= 0; i-- {
		if !asOf.Before(sessionClose(bars[i])) {
			return bars[i].Close, nil
		}
		logger.Tracef("skipping %s session of %s, still open at %s",
			bars[i].Date.Format("2006-01-02"), underlying, asOf.Format(time.RFC3339))
	}
	return 0, fmt.Errorf("no daily close for %s at or before %s", underlying, asOf.Format(time.RFC3339))
}

// GetOptionPrice retrieves the price of an option at a specific date and time.
// It looks for minute bars in the 5 minutes before asOf and uses the last
// close; failing that, it uses the open of the first bar in the 5 minutes
// after asOf. Returns an error if no option bars are found in either window
// and no secondary provider can answer.
func (massiveDataProv *massiveDataProvider) GetOptionPrice(
	underlying string,
	strike float64,
	expiryDate time.Time,
	optType pricing.OptionType,
	asOf time.Time,
) (float64, error) {

	logger.Debugf(
		"option price lookup: %s %s strike=%.2f expiry=%s at %s",
		underlying,
		optType,
		strike,
		expiryDate.Format("2006-01-02"),
		asOf.Format(time.RFC3339),
	)

	price, err := massiveDataProv.optionPrice(underlying, strike, expiryDate, optType, asOf)
	if err != nil && massiveDataProv.secondary != nil {
		logger.Tracef("delegating option price to secondary provider: %v", err)
		return massiveDataProv.secondary.GetOptionPrice(underlying, strike, expiryDate, optType, asOf)
	}
	return price, err
}

func (massiveDataProv *massiveDataProvider) optionPrice(
	underlying string,
	strike float64,
	expiryDate time.Time,
	optType pricing.OptionType,
	asOf time.Time,
) (float64, error) {

	symbol := OptionSymbolFromParts(underlying, expiryDate, optType, strike)

	bars, err := massiveDataProv.GetBars(symbol, asOf.Add(-optionPriceWindow), asOf, 1, "minute")
	if err != nil {
		return 0, fmt.Errorf("fetch option bars: %w", err)
	}
	if len(bars) != 0 {
		return bars[len(bars)-1].Close, nil
	}

	logger.Tracef("no bars before %s, trying forward window", asOf.Format(time.RFC3339))

	bars, err = massiveDataProv.GetBars(symbol, asOf, asOf.Add(optionPriceWindow), 1, "minute")
	if err != nil {
		return 0, fmt.Errorf("fetch option bars: %w", err)
	}
	if len(bars) == 0 {
		logger.Warnf("no option bars found for %s", symbol)
		return 0, fmt.Errorf(
			"no option bars found for %s on %s",
			symbol,
			asOf.Format("2006-01-02 15:04"),
		)
	}
	return bars[0].Open, nil
}

// GetBars retrieves OHLCV bars for the given ticker and time range,
// following next_url pagination.
//
// Parameters:
//   - ticker: stock or OCC option ticker
//   - fromDate: start of the window
//   - toDate: end of the window
//   - multiplier: aggregation size
//   - timespan: aggregation unit (e.g., "day", "minute")
func (massiveDataProv *massiveDataProvider) GetBars(
	ticker string,
	fromDate, toDate time.Time,
	multiplier int,
	timespan string,
) ([]Bar, error) {

	const maxLimit = 50000

	logger.Debugf(
		"fetching bars: %s from=%s to=%s span=%d%s",
		ticker,
		fromDate.Format(time.RFC3339),
		toDate.Format(time.RFC3339),
		multiplier,
		timespan,
	)

	// Minute windows are addressed by epoch millis, day windows by date.
	from, to := fromDate.Format("2006-01-02"), toDate.Format("2006-01-02")
	if timespan != "day" {
		from = fmt.Sprint(fromDate.UnixMilli())
		to = fmt.Sprint(toDate.UnixMilli())
	}

	query := url.Values{}
	query.Set("adjusted", "true")
	query.Set("sort", "asc")
	query.Set("limit", fmt.Sprint(maxLimit))
	query.Set("apiKey", massiveDataProv.APIKey)

	reqURL := fmt.Sprintf(
		"%s/v2/aggs/ticker/%s/range/%d/%s/%s/%s?%s",
		massiveDataProv.BaseURL,
		url.PathEscape(ticker),
		multiplier,
		timespan,
		from,
		to,
		query.Encode(),
	)

	var out []Bar

	// Handle pagination
	for reqURL != "" {
		req, err := http.NewRequest(http.MethodGet, reqURL, nil)
		if err != nil {
			logger.Errorf("bars request errored=%v", err)
			return nil, fmt.Errorf("creating request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+massiveDataProv.APIKey)
		req.Header.Set("Accept", "application/json")

		resp, err := massiveDataProv.processGetRequest(req)
		if err != nil {
			return nil, fmt.Errorf("massive api request failed: %w", err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading massive response: %w", err)
		}

		var page massiveAggsResp
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("parsing massive response: %w", err)
		}

		logger.Tracef("bars received: %d records", len(page.Results))

		for _, r := range page.Results {
			out = append(out, Bar{
				Date:  time.UnixMilli(r.Timestamp).UTC(),
				Open:  r.Open,
				High:  r.High,
				Low:   r.Low,
				Close: r.Close,
				Vol:   r.Volume,
				Count: r.Trades,
			})
		}

		reqURL = page.NextURL
	}

	return out, nil
}

// processGetRequest executes an HTTP GET request with rate-limit handling.
//
// Behavior:
//   - Retries on HTTP 429 after sleeping until the next minute boundary
//   - Returns immediately on success (<400)
//   - Returns an error carrying the API message for other status codes
func (massiveDataProv *massiveDataProvider) processGetRequest(
	req *http.Request,
) (*http.Response, error) {

	for {
		resp, err := massiveDataProv.Client.Do(req)
		if err != nil {
			return nil, err
		}

		// Success
		if resp.StatusCode < 400 {
			return resp, nil
		}

		// Handle per-minute rate limit (commonly 429)
		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()

			now := time.Now()
			sleepDuration := time.Until(
				now.Truncate(time.Minute).Add(time.Minute),
			)

			logger.Warnf("rate limit hit, sleeping for %s", sleepDuration)
			time.Sleep(sleepDuration)
			continue
		}

		var dbg struct {
			Message string `json:"message"`
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		_ = json.Unmarshal(body, &dbg)

		logger.Errorf("massive API error status=%d message=%s", resp.StatusCode, dbg.Message)
		return nil, fmt.Errorf("massive returned status %d: %s", resp.StatusCode, dbg.Message)
	}
}
