package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"simtrader/internal/domain"
	"simtrader/internal/paper"
	"simtrader/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "error",
			"error":  "database not configured",
		})
		return
	}
	if err := s.repo.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "error",
			"error":  "database unreachable",
		})
		return
	}

	if s.nc != nil && !s.nc.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "error",
			"error":  "NATS disconnected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	b, err := s.account.Balance(r.Context())
	if err != nil {
		writeAccountError(w, err, "failed to get balance")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.account.Positions(r.Context())
	if err != nil {
		writeAccountError(w, err, "failed to list positions")
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.account.Orders(r.Context())
	if err != nil {
		writeAccountError(w, err, "failed to list orders")
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := orders[:0]
		for _, o := range orders {
			if string(o.Status) == status {
				filtered = append(filtered, o)
			}
		}
		orders = filtered
	}
	if orders == nil {
		orders = []*domain.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// OrderResponse carries the order and, for rejections, the reason.
type OrderResponse struct {
	Order *domain.Order `json:"order"`
	Error string        `json:"error,omitempty"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req paper.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "missing required field: symbol")
		return
	}
	if req.OrderType == "" {
		req.OrderType = domain.OrderTypeMarket
	}

	order, err := s.account.CreateOrder(r.Context(), req)
	var rejectErr *domain.RejectError
	switch {
	case errors.As(err, &rejectErr):
		writeJSON(w, http.StatusUnprocessableEntity, OrderResponse{Order: order, Error: rejectErr.Error()})
		return
	case errors.Is(err, paper.ErrNoQuote):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		writeAccountError(w, err, "failed to create order")
		return
	}
	writeJSON(w, http.StatusCreated, OrderResponse{Order: order})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	err := s.account.CancelOrder(r.Context(), orderID)
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
		return
	case errors.Is(err, domain.ErrAlreadyTerminal):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeAccountError(w, err, "failed to cancel order")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": orderID, "status": string(domain.OrderStatusCancelled)})
}

func (s *Server) handleEquityHistory(w http.ResponseWriter, r *http.Request) {
	days := 30
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		d, err := strconv.Atoi(daysStr)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "invalid days")
			return
		}
		days = d
	}

	points, err := s.account.EquityHistory(r.Context(), days)
	if err != nil {
		writeAccountError(w, err, "failed to get equity history")
		return
	}
	if points == nil {
		points = []domain.EquityPoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleDailyPnL(w http.ResponseWriter, r *http.Request) {
	pnl, err := s.account.DailyPnL(r.Context())
	if err != nil {
		writeAccountError(w, err, "failed to get daily pnl")
		return
	}
	writeJSON(w, http.StatusOK, pnl)
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.TradeFilter{
		Symbol:     q.Get("symbol"),
		ExitReason: q.Get("exit_reason"),
		Cursor:     q.Get("cursor"),
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	if startStr := q.Get("start"); startStr != "" {
		t, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start time")
			return
		}
		filter.Start = &t
	}

	if endStr := q.Get("end"); endStr != "" {
		t, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid end time")
			return
		}
		filter.End = &t
	}

	result, err := s.repo.ListTrades(r.Context(), s.account.ID(), filter)
	if err != nil {
		if strings.Contains(err.Error(), "invalid cursor") {
			writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeAccountError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, paper.ErrClosed) {
		writeError(w, http.StatusServiceUnavailable, "account unavailable")
		return
	}
	log.Error().Err(err).Msg(msg)
	writeError(w, http.StatusInternalServerError, msg)
}
