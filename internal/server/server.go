// Package server exposes the pricer and the implied volatility solver over
// HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/contactkeval/option-iv/internal/data"
	"github.com/contactkeval/option-iv/internal/engine"
	"github.com/contactkeval/option-iv/internal/expiry"
	"github.com/contactkeval/option-iv/internal/logger"
	"github.com/contactkeval/option-iv/internal/pricing"
)

// Server routes HTTP requests to the pricing package and the batch engine.
type Server struct {
	cfg  engine.Config
	prov data.Provider
	now  func() time.Time
}

func New(cfg engine.Config, prov data.Provider) *Server {
	return &Server{cfg: cfg, prov: prov, now: time.Now}
}

// PriceRequest carries the inputs of one Black-Scholes valuation. Expiry is
// used when Years is zero.
type PriceRequest struct {
	Type          string  `json:"type"`
	Spot          float64 `json:"spot"`
	Exercise      float64 `json:"exercise"`
	Years         float64 `json:"years"`
	Expiry        string  `json:"expiry"`
	Volatility    float64 `json:"volatility"`
	RiskFreeRate  float64 `json:"risk_free_rate"`
	DividendYield float64 `json:"dividend_yield"`
}

type PriceResponse struct {
	Price float64 `json:"price"`
	Vega  float64 `json:"vega"`
	D1    float64 `json:"d1"`
	D2    float64 `json:"d2"`
}

// IVRequest asks for the volatility reproducing Price.
type IVRequest struct {
	Type          string  `json:"type"`
	Spot          float64 `json:"spot"`
	Exercise      float64 `json:"exercise"`
	Years         float64 `json:"years"`
	Expiry        string  `json:"expiry"`
	Price         float64 `json:"price"`
	RiskFreeRate  float64 `json:"risk_free_rate"`
	DividendYield float64 `json:"dividend_yield"`
}

type RunRequest struct {
	Quotes []data.Quote `json:"quotes"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler returns the router serving every endpoint.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.health).Methods(http.MethodGet)
	router.HandleFunc("/price", s.price).Methods(http.MethodPost)
	router.HandleFunc("/iv", s.impliedVol).Methods(http.MethodPost)
	router.HandleFunc("/run", s.run).Methods(http.MethodPost)
	return router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Infof("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) price(w http.ResponseWriter, r *http.Request) {
	var req PriceRequest
	if !decode(w, r, &req) {
		return
	}

	optType, err := pricing.ParseOptionType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	years, err := s.years(req.Years, req.Expiry)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p := pricing.ModelParameters{
		Type:          optType,
		Spot:          req.Spot,
		Exercise:      req.Exercise,
		Years:         years,
		Volatility:    req.Volatility,
		RiskFreeRate:  req.RiskFreeRate,
		DividendYield: req.DividendYield,
	}

	resp, err := valuation(p)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func valuation(p pricing.ModelParameters) (PriceResponse, error) {
	var (
		resp PriceResponse
		err  error
	)
	if resp.Price, err = pricing.Price(p); err != nil {
		return PriceResponse{}, err
	}
	if resp.Vega, err = pricing.Vega(p); err != nil {
		return PriceResponse{}, err
	}
	if resp.D1, err = pricing.D1(p); err != nil {
		return PriceResponse{}, err
	}
	if resp.D2, err = pricing.D2(p); err != nil {
		return PriceResponse{}, err
	}
	return resp, nil
}

func (s *Server) impliedVol(w http.ResponseWriter, r *http.Request) {
	var req IVRequest
	if !decode(w, r, &req) {
		return
	}

	optType, err := pricing.ParseOptionType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	years, err := s.years(req.Years, req.Expiry)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sol, err := pricing.FindImpliedVolatility(optType, req.Spot, req.Exercise, years, req.Price, req.RiskFreeRate, req.DividendYield)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, sol)
}

func (s *Server) run(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if !decode(w, r, &req) {
		return
	}
	logger.Infof("received /run request with %d quotes", len(req.Quotes))

	cfg := s.cfg
	if cfg.AsOf.IsZero() {
		cfg.AsOf = s.now()
	}
	res, err := engine.NewEngine(&cfg, s.prov).Run(req.Quotes)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) years(years float64, exp string) (float64, error) {
	if years != 0 || exp == "" {
		return years, nil
	}
	return expiry.YearsToExpiration(exp, s.now())
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf("encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	logger.Debugf("request failed: %v", err)
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
