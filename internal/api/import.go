package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"simtrader/internal/domain"
)

// MaxImportBars is the largest accepted import batch.
const MaxImportBars = 5000

// BarRecord is one daily bar in an import request. Date is YYYY-MM-DD.
type BarRecord struct {
	Symbol string          `json:"symbol"`
	Date   string          `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// Validate checks one bar for missing fields and impossible prices.
func (b *BarRecord) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("missing required field: symbol")
	}
	if b.Date == "" {
		return fmt.Errorf("missing required field: date")
	}
	if _, err := time.Parse(time.DateOnly, b.Date); err != nil {
		return fmt.Errorf("invalid date: %w", err)
	}
	if !b.Open.IsPositive() || !b.High.IsPositive() || !b.Low.IsPositive() || !b.Close.IsPositive() {
		return fmt.Errorf("prices must be positive")
	}
	if b.Low.GreaterThan(b.High) {
		return fmt.Errorf("low %s above high %s", b.Low, b.High)
	}
	for _, p := range []decimal.Decimal{b.Open, b.Close} {
		if p.LessThan(b.Low) || p.GreaterThan(b.High) {
			return fmt.Errorf("open/close outside low-high range")
		}
	}
	if b.Volume < 0 {
		return fmt.Errorf("volume must not be negative, got %d", b.Volume)
	}
	return nil
}

func (b *BarRecord) toDomain() domain.Bar {
	date, _ := time.Parse(time.DateOnly, b.Date)
	return domain.Bar{
		Symbol: b.Symbol,
		Date:   domain.DateOf(date),
		Open:   b.Open,
		High:   b.High,
		Low:    b.Low,
		Close:  b.Close,
		Volume: b.Volume,
	}
}

// ImportRequest is the request body for POST /api/v1/bars/import.
type ImportRequest struct {
	Bars []BarRecord `json:"bars"`
}

// ImportResponse is the response body for POST /api/v1/bars/import.
type ImportResponse struct {
	Total    int `json:"total"`
	Upserted int `json:"upserted"`
}

func (s *Server) handleImportBars(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	if len(req.Bars) == 0 {
		writeError(w, http.StatusBadRequest, "bars array is empty")
		return
	}

	if len(req.Bars) > MaxImportBars {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("too many bars: max %d per request", MaxImportBars))
		return
	}

	// Validate all bars up front before writing any
	bars := make([]domain.Bar, 0, len(req.Bars))
	for i := range req.Bars {
		if err := req.Bars[i].Validate(); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("bar[%d] (%s %s): %v", i, req.Bars[i].Symbol, req.Bars[i].Date, err))
			return
		}
		bars = append(bars, req.Bars[i].toDomain())
	}

	n, err := s.repo.UpsertBars(r.Context(), bars)
	if err != nil {
		log.Error().Err(err).Int("bars", len(bars)).Msg("failed to import bars")
		writeError(w, http.StatusInternalServerError, "failed to import bars")
		return
	}

	writeJSON(w, http.StatusOK, ImportResponse{Total: len(bars), Upserted: n})
}
