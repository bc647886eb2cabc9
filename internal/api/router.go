package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"simtrader/internal/domain"
	"simtrader/internal/paper"
	"simtrader/internal/store"
	"simtrader/internal/strategy"
)

// Account is the paper account surface served over HTTP.
type Account interface {
	ID() string
	Balance(ctx context.Context) (domain.Balance, error)
	Positions(ctx context.Context) ([]domain.PositionSummary, error)
	Orders(ctx context.Context) ([]*domain.Order, error)
	CreateOrder(ctx context.Context, req paper.OrderRequest) (*domain.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	EquityHistory(ctx context.Context, days int) ([]domain.EquityPoint, error)
	DailyPnL(ctx context.Context) (domain.DailyPnL, error)
}

// Repository is the persistence the API reads and writes directly.
type Repository interface {
	Ping(ctx context.Context) error
	ListTrades(ctx context.Context, accountID string, filter store.TradeFilter) (*store.TradeListResult, error)
	UpsertBars(ctx context.Context, bars []domain.Bar) (int, error)
	SaveBacktestRun(ctx context.Context, res *domain.BacktestResult) error
	ListBacktestRuns(ctx context.Context, limit int) ([]domain.BacktestResult, error)
}

// Backtester runs one backtest against stored bars.
type Backtester interface {
	Run(ctx context.Context, cfg domain.BacktestConfig, strat strategy.Strategy) (*domain.BacktestResult, error)
}

// Server holds the HTTP server dependencies.
type Server struct {
	account Account
	repo    Repository
	runner  Backtester
	nc      *nats.Conn
}

// NewServer creates a new API server. nc may be nil when NATS is disabled.
func NewServer(account Account, repo Repository, runner Backtester, nc *nats.Conn) *Server {
	return &Server{account: account, repo: repo, runner: runner, nc: nc}
}

// Router returns the configured chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.MethodNotAllowed(methodNotAllowed)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/account", func(r chi.Router) {
			r.Get("/balance", s.handleBalance)
			r.Get("/positions", s.handlePositions)
			r.Get("/orders", s.handleListOrders)
			r.Post("/orders", s.handleCreateOrder)
			r.Delete("/orders/{orderId}", s.handleCancelOrder)
			r.Get("/equity", s.handleEquityHistory)
			r.Get("/pnl/daily", s.handleDailyPnL)
			r.Get("/trades", s.handleListTrades)
		})

		r.Post("/bars/import", s.handleImportBars)

		r.Post("/backtests", s.handleRunBacktest)
		r.Get("/backtests", s.handleListBacktests)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
		"error": "Method Not Allowed",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
