package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"simtrader/internal/domain"
	"simtrader/internal/strategy"
)

// BacktestRequest is the request body for POST /api/v1/backtests. Dates are
// YYYY-MM-DD. Costs override individual fields of the A-share defaults.
type BacktestRequest struct {
	Name           string                 `json:"name"`
	Strategy       string                 `json:"strategy"`
	Params         map[string]interface{} `json:"params"`
	Symbols        []string               `json:"symbols"`
	StartDate      string                 `json:"start_date"`
	EndDate        string                 `json:"end_date"`
	InitialCapital decimal.Decimal        `json:"initial_capital"`
	Costs          json.RawMessage        `json:"costs,omitempty"`
}

// Config converts the request into a validated backtest config.
func (req *BacktestRequest) Config() (domain.BacktestConfig, error) {
	cfg := domain.BacktestConfig{
		Name:           req.Name,
		Symbols:        req.Symbols,
		Strategy:       req.Strategy,
		Params:         req.Params,
		InitialCapital: req.InitialCapital,
		CostModel:      domain.DefaultCostModel(),
	}
	if len(req.Costs) > 0 {
		if err := json.Unmarshal(req.Costs, &cfg.CostModel); err != nil {
			return cfg, fmt.Errorf("invalid costs: %w", err)
		}
	}
	var err error
	if cfg.StartDate, err = time.Parse(time.DateOnly, req.StartDate); err != nil {
		return cfg, fmt.Errorf("invalid start_date: %w", err)
	}
	if cfg.EndDate, err = time.Parse(time.DateOnly, req.EndDate); err != nil {
		return cfg, fmt.Errorf("invalid end_date: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	cfg, err := req.Config()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	strat, err := strategy.New(cfg.Strategy, cfg.Params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, runErr := s.runner.Run(r.Context(), cfg, strat)
	if runErr != nil {
		log.Warn().Err(runErr).Str("run_id", res.RunID).Msg("backtest failed")
	}
	if err := s.repo.SaveBacktestRun(r.Context(), res); err != nil {
		log.Error().Err(err).Str("run_id", res.RunID).Msg("failed to save backtest run")
		writeError(w, http.StatusInternalServerError, "failed to save backtest run")
		return
	}

	status := http.StatusCreated
	if res.Status == domain.RunFailed {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

func (s *Server) handleListBacktests(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = l
	}

	runs, err := s.repo.ListBacktestRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list backtest runs")
		return
	}
	if runs == nil {
		runs = []domain.BacktestResult{}
	}
	writeJSON(w, http.StatusOK, runs)
}
