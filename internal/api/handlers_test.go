package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"simtrader/internal/domain"
	"simtrader/internal/paper"
	"simtrader/internal/store"
	"simtrader/internal/strategy"
)

type fakeAccount struct {
	orders    []*domain.Order
	createErr error
	cancelErr error
	closed    bool
	lastReq   paper.OrderRequest
	lastDays  int
}

func (f *fakeAccount) ID() string { return "paper" }

func (f *fakeAccount) Balance(context.Context) (domain.Balance, error) {
	if f.closed {
		return domain.Balance{}, paper.ErrClosed
	}
	return domain.Balance{
		Cash:        decimal.NewFromInt(989995),
		MarketValue: decimal.NewFromInt(10000),
		TotalAssets: decimal.NewFromInt(999995),
		Profit:      decimal.NewFromInt(-5),
		ProfitPct:   decimal.RequireFromString("-0.000005"),
	}, nil
}

func (f *fakeAccount) Positions(context.Context) ([]domain.PositionSummary, error) {
	return []domain.PositionSummary{{Symbol: "600000", Quantity: 1000}}, nil
}

func (f *fakeAccount) Orders(context.Context) ([]*domain.Order, error) {
	return f.orders, nil
}

func (f *fakeAccount) CreateOrder(_ context.Context, req paper.OrderRequest) (*domain.Order, error) {
	f.lastReq = req
	o := domain.NewOrder(req.Symbol, req.Side, req.OrderType, req.Quantity, time.Now())
	return o, f.createErr
}

func (f *fakeAccount) CancelOrder(context.Context, string) error { return f.cancelErr }

func (f *fakeAccount) EquityHistory(_ context.Context, days int) ([]domain.EquityPoint, error) {
	f.lastDays = days
	return nil, nil
}

func (f *fakeAccount) DailyPnL(context.Context) (domain.DailyPnL, error) {
	return domain.DailyPnL{DailyPnL: decimal.NewFromInt(1000), DailyPnLPct: decimal.RequireFromString("0.001")}, nil
}

type fakeRepo struct {
	pingErr     error
	bars        []domain.Bar
	saved       []*domain.BacktestResult
	tradeFilter store.TradeFilter
	tradesErr   error
}

func (f *fakeRepo) Ping(context.Context) error { return f.pingErr }

func (f *fakeRepo) ListTrades(_ context.Context, _ string, filter store.TradeFilter) (*store.TradeListResult, error) {
	f.tradeFilter = filter
	if f.tradesErr != nil {
		return nil, f.tradesErr
	}
	return &store.TradeListResult{Trades: []domain.Trade{}}, nil
}

func (f *fakeRepo) UpsertBars(_ context.Context, bars []domain.Bar) (int, error) {
	f.bars = append(f.bars, bars...)
	return len(bars), nil
}

func (f *fakeRepo) SaveBacktestRun(_ context.Context, res *domain.BacktestResult) error {
	f.saved = append(f.saved, res)
	return nil
}

func (f *fakeRepo) ListBacktestRuns(context.Context, int) ([]domain.BacktestResult, error) {
	return nil, nil
}

type fakeRunner struct {
	status domain.RunStatus
	cfg    domain.BacktestConfig
}

func (f *fakeRunner) Run(_ context.Context, cfg domain.BacktestConfig, strat strategy.Strategy) (*domain.BacktestResult, error) {
	f.cfg = cfg
	res := &domain.BacktestResult{RunID: "run-1", Strategy: strat.Name(), Status: f.status}
	if f.status == domain.RunFailed {
		res.Error = "no bar data"
		return res, errors.New("no bar data")
	}
	return res, nil
}

func newTestServer() (*Server, *fakeAccount, *fakeRepo, *fakeRunner) {
	acct := &fakeAccount{}
	repo := &fakeRepo{}
	runner := &fakeRunner{status: domain.RunCompleted}
	return NewServer(acct, repo, runner, nil), acct, repo, runner
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, repo, _ := newTestServer()
	router := srv.Router()

	if w := do(t, router, "GET", "/health", ""); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	repo.pingErr = errors.New("connection refused")
	if w := do(t, router, "GET", "/health", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestHealthEndpoint_NoDatabase(t *testing.T) {
	srv := &Server{}
	w := do(t, srv.Router(), "GET", "/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _, _, _ := newTestServer()
	router := srv.Router()

	tests := []struct {
		method string
		path   string
	}{
		{"PUT", "/api/v1/account/balance"},
		{"POST", "/api/v1/account/positions"},
		{"PATCH", "/api/v1/account/orders"},
		{"GET", "/api/v1/account/orders/abc"},
		{"DELETE", "/api/v1/account/equity"},
		{"GET", "/api/v1/bars/import"},
		{"DELETE", "/api/v1/backtests"},
	}

	for _, tt := range tests {
		w := do(t, router, tt.method, tt.path, "")
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: expected 405, got %d", tt.method, tt.path, w.Code)
		}
	}
}

func TestRouterHasCorrectGETRoutes(t *testing.T) {
	srv, _, _, _ := newTestServer()
	router := srv.Router()

	paths := []string{
		"/health",
		"/api/v1/account/balance",
		"/api/v1/account/positions",
		"/api/v1/account/orders",
		"/api/v1/account/equity",
		"/api/v1/account/pnl/daily",
		"/api/v1/account/trades",
		"/api/v1/backtests",
	}

	for _, path := range paths {
		w := do(t, router, "GET", path, "")
		if w.Code != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("GET %s: expected Content-Type application/json, got %q", path, ct)
		}
	}
}

func TestBalance(t *testing.T) {
	srv, acct, _, _ := newTestServer()
	router := srv.Router()

	w := do(t, router, "GET", "/api/v1/account/balance", "")
	var b domain.Balance
	if err := json.NewDecoder(w.Body).Decode(&b); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if !b.Cash.Equal(decimal.NewFromInt(989995)) {
		t.Errorf("expected cash 989995, got %s", b.Cash)
	}

	acct.closed = true
	if w := do(t, router, "GET", "/api/v1/account/balance", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 for closed account, got %d", w.Code)
	}
}

func TestCreateOrder(t *testing.T) {
	srv, acct, _, _ := newTestServer()
	router := srv.Router()

	w := do(t, router, "POST", "/api/v1/account/orders", `{"symbol":"600000","side":"buy","quantity":1000}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if acct.lastReq.OrderType != domain.OrderTypeMarket {
		t.Errorf("expected default market order, got %q", acct.lastReq.OrderType)
	}

	var resp OrderResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Order == nil || resp.Order.Quantity != 1000 {
		t.Errorf("expected order for 1000 shares, got %+v", resp.Order)
	}
}

func TestCreateOrder_LimitPriceDecoded(t *testing.T) {
	srv, acct, _, _ := newTestServer()
	w := do(t, srv.Router(), "POST", "/api/v1/account/orders",
		`{"symbol":"600000","side":"buy","order_type":"limit","quantity":100,"limit_price":"9.5"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if acct.lastReq.LimitPrice == nil || !acct.lastReq.LimitPrice.Equal(decimal.RequireFromString("9.5")) {
		t.Errorf("expected limit price 9.5, got %v", acct.lastReq.LimitPrice)
	}
}

func TestCreateOrder_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"invalid json", `not json`, nil, http.StatusBadRequest},
		{"missing symbol", `{"side":"buy","quantity":100}`, nil, http.StatusBadRequest},
		{"rejected", `{"symbol":"600000","side":"buy","quantity":150}`,
			domain.NewRejectError(domain.RejectInvalidQuantity, "not a multiple of 100"), http.StatusUnprocessableEntity},
		{"no quote", `{"symbol":"600000","side":"buy","quantity":100}`, paper.ErrNoQuote, http.StatusUnprocessableEntity},
		{"closed", `{"symbol":"600000","side":"buy","quantity":100}`, paper.ErrClosed, http.StatusServiceUnavailable},
		{"internal", `{"symbol":"600000","side":"buy","quantity":100}`, errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, acct, _, _ := newTestServer()
			acct.createErr = tt.err
			w := do(t, srv.Router(), "POST", "/api/v1/account/orders", tt.body)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestCreateOrder_RejectionCarriesOrder(t *testing.T) {
	srv, acct, _, _ := newTestServer()
	acct.createErr = domain.NewRejectError(domain.RejectInsufficientFunds, "cost exceeds cash")

	w := do(t, srv.Router(), "POST", "/api/v1/account/orders", `{"symbol":"600000","side":"buy","quantity":100}`)
	var resp OrderResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Order == nil {
		t.Fatal("expected rejected order in response")
	}
	if resp.Error == "" {
		t.Error("expected rejection message")
	}
}

func TestCancelOrder(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"cancelled", nil, http.StatusOK},
		{"not found", domain.ErrOrderNotFound, http.StatusNotFound},
		{"terminal", &domain.CancelError{OrderID: "o-1", Status: domain.OrderStatusFilled, Err: domain.ErrAlreadyTerminal}, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, acct, _, _ := newTestServer()
			acct.cancelErr = tt.err
			w := do(t, srv.Router(), "DELETE", "/api/v1/account/orders/o-1", "")
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestListOrders_StatusFilter(t *testing.T) {
	srv, acct, _, _ := newTestServer()
	filled := domain.NewOrder("600000", domain.SideBuy, domain.OrderTypeMarket, 100, time.Now())
	filled.Status = domain.OrderStatusFilled
	resting := domain.NewOrder("600001", domain.SideBuy, domain.OrderTypeLimit, 100, time.Now())
	resting.Status = domain.OrderStatusSubmitted
	acct.orders = []*domain.Order{filled, resting}

	w := do(t, srv.Router(), "GET", "/api/v1/account/orders?status=submitted", "")
	var orders []domain.Order
	if err := json.NewDecoder(w.Body).Decode(&orders); err != nil {
		t.Fatalf("decode orders: %v", err)
	}
	if len(orders) != 1 || orders[0].Symbol != "600001" {
		t.Errorf("expected only the submitted order, got %+v", orders)
	}
}

func TestEquityHistory_Days(t *testing.T) {
	srv, acct, _, _ := newTestServer()
	router := srv.Router()

	do(t, router, "GET", "/api/v1/account/equity", "")
	if acct.lastDays != 30 {
		t.Errorf("expected default 30 days, got %d", acct.lastDays)
	}

	w := do(t, router, "GET", "/api/v1/account/equity?days=7", "")
	if acct.lastDays != 7 {
		t.Errorf("expected 7 days, got %d", acct.lastDays)
	}
	if w.Body.String() != "[]\n" {
		t.Errorf("expected empty JSON array, got %q", w.Body.String())
	}

	if w := do(t, router, "GET", "/api/v1/account/equity?days=abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestListTrades_Filters(t *testing.T) {
	srv, _, repo, _ := newTestServer()
	router := srv.Router()

	w := do(t, router, "GET", "/api/v1/account/trades?symbol=600000&exit_reason=stop_loss&limit=10&start=2025-01-01T00:00:00Z", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if repo.tradeFilter.Symbol != "600000" || repo.tradeFilter.ExitReason != "stop_loss" || repo.tradeFilter.Limit != 10 {
		t.Errorf("unexpected filter: %+v", repo.tradeFilter)
	}
	if repo.tradeFilter.Start == nil {
		t.Error("expected start filter")
	}

	for _, q := range []string{"limit=x", "start=yesterday", "end=2025"} {
		if w := do(t, router, "GET", "/api/v1/account/trades?"+q, ""); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, w.Code)
		}
	}

	repo.tradesErr = errors.New("invalid cursor: bad base64")
	if w := do(t, router, "GET", "/api/v1/account/trades?cursor=zzz", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid cursor, got %d", w.Code)
	}
}
