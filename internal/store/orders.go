package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"simtrader/internal/domain"
)

// SaveOrder inserts or updates an order. Immutable fields are written once.
func (r *Repository) SaveOrder(ctx context.Context, accountID string, o *domain.Order) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO orders (order_id, account_id, symbol, side, order_type, quantity, limit_price,
			status, reject_reason, filled_qty, filled_price, strategy_name, reasoning, exit_reason,
			created_at, filled_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (order_id) DO UPDATE SET
			status = EXCLUDED.status,
			reject_reason = EXCLUDED.reject_reason,
			filled_qty = EXCLUDED.filled_qty,
			filled_price = EXCLUDED.filled_price,
			filled_at = EXCLUDED.filled_at,
			updated_at = EXCLUDED.updated_at
	`,
		o.OrderID, accountID, o.Symbol, string(o.Side), string(o.OrderType), o.Quantity,
		nullable(o.LimitPrice), string(o.Status), string(o.RejectReason), o.FilledQty, o.FilledPrice,
		o.StrategyName, o.Reasoning, string(o.ExitReason), o.CreatedAt, o.FilledAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert order: %w", err)
	}
	return nil
}

// OrderFilter defines filters for listing orders.
type OrderFilter struct {
	Status string
	Symbol string
	Cursor string
	Limit  int
}

// OrderListResult contains paginated order results.
type OrderListResult struct {
	Orders     []domain.Order `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// ListOrders returns persisted orders for an account, newest first, with
// cursor-based pagination.
func (r *Repository) ListOrders(ctx context.Context, accountID string, filter OrderFilter) (*OrderListResult, error) {
	filter.Limit = clampLimit(filter.Limit)

	q := newQuery("account_id", accountID)
	q.eq("status", filter.Status)
	q.eq("symbol", filter.Symbol)
	if filter.Cursor != "" {
		if err := q.after("created_at", "order_id", filter.Cursor); err != nil {
			return nil, err
		}
	}

	query := fmt.Sprintf(`
		SELECT order_id, symbol, side, order_type, quantity, limit_price, status, reject_reason,
			filled_qty, filled_price, strategy_name, reasoning, exit_reason,
			created_at, filled_at, updated_at
		FROM orders
		WHERE %s
		ORDER BY created_at DESC, order_id DESC
		LIMIT $%d
	`, q.where(), q.next())
	rows, err := r.pool.Query(ctx, query, append(q.args, filter.Limit+1)...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		var side, orderType, status, rejectReason, exitReason string
		var limit decimal.NullDecimal
		err := rows.Scan(
			&o.OrderID, &o.Symbol, &side, &orderType, &o.Quantity, &limit, &status, &rejectReason,
			&o.FilledQty, &o.FilledPrice, &o.StrategyName, &o.Reasoning, &exitReason,
			&o.CreatedAt, &o.FilledAt, &o.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Side = domain.Side(side)
		o.OrderType = domain.OrderType(orderType)
		o.Status = domain.OrderStatus(status)
		o.RejectReason = domain.RejectReason(rejectReason)
		o.ExitReason = domain.ExitReason(exitReason)
		o.LimitPrice = fromNullable(limit)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}

	result := &OrderListResult{Orders: []domain.Order{}}
	if len(orders) > filter.Limit {
		orders = orders[:filter.Limit]
		last := orders[len(orders)-1]
		result.NextCursor = encodeCursor(last.CreatedAt, last.OrderID)
	}
	if orders != nil {
		result.Orders = orders
	}
	return result, nil
}

// query accumulates WHERE conditions and positional arguments.
type query struct {
	conditions []string
	args       []interface{}
}

func newQuery(column string, value interface{}) *query {
	q := &query{}
	q.add(column+" = $%d", value)
	return q
}

func (q *query) add(format string, value interface{}) {
	q.args = append(q.args, value)
	q.conditions = append(q.conditions, fmt.Sprintf(format, len(q.args)))
}

func (q *query) eq(column, value string) {
	if value != "" {
		q.add(column+" = $%d", value)
	}
}

// after adds a keyset condition for descending (ts, id) pagination.
func (q *query) after(tsColumn, idColumn, cursor string) error {
	ts, id, err := decodeCursor(cursor)
	if err != nil {
		return fmt.Errorf("invalid cursor: %w", err)
	}
	n := len(q.args)
	q.args = append(q.args, ts, id)
	q.conditions = append(q.conditions, fmt.Sprintf("(%s, %s) < ($%d, $%d)", tsColumn, idColumn, n+1, n+2))
	return nil
}

func (q *query) where() string { return strings.Join(q.conditions, " AND ") }

func (q *query) next() int { return len(q.args) + 1 }

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 200:
		return 200
	}
	return limit
}
