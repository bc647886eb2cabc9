package store

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"simtrader/internal/domain"
)

// InsertTrade inserts a trade with ON CONFLICT DO NOTHING.
func (r *Repository) InsertTrade(ctx context.Context, t domain.Trade) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO trades (
			trade_id, account_id, order_id, symbol, entry_date, exit_date, entry_price, exit_price,
			quantity, commission, stamp_duty, pnl, pnl_pct, exit_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (trade_id) DO NOTHING
	`,
		t.TradeID, t.AccountID, t.OrderID, t.Symbol, t.EntryDate, t.ExitDate, t.EntryPrice, t.ExitPrice,
		t.Quantity, t.Commission, t.StampDuty, t.PnL, t.PnLPct, string(t.ExitReason),
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// TradeFilter defines filters for listing trades.
type TradeFilter struct {
	Symbol     string
	ExitReason string
	Start      *time.Time
	End        *time.Time
	Cursor     string
	Limit      int
}

// TradeListResult contains paginated trade results.
type TradeListResult struct {
	Trades     []domain.Trade `json:"trades"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// ListTrades returns closed trades for an account, newest exit first, with
// cursor-based pagination.
func (r *Repository) ListTrades(ctx context.Context, accountID string, filter TradeFilter) (*TradeListResult, error) {
	filter.Limit = clampLimit(filter.Limit)

	q := newQuery("account_id", accountID)
	q.eq("symbol", filter.Symbol)
	q.eq("exit_reason", filter.ExitReason)
	if filter.Start != nil {
		q.add("exit_date >= $%d", *filter.Start)
	}
	if filter.End != nil {
		q.add("exit_date <= $%d", *filter.End)
	}
	// cursor is base64-encoded "exit_date|trade_id"
	if filter.Cursor != "" {
		if err := q.after("exit_date", "trade_id", filter.Cursor); err != nil {
			return nil, err
		}
	}

	query := fmt.Sprintf(`
		SELECT trade_id, account_id, order_id, symbol, entry_date, exit_date, entry_price, exit_price,
			quantity, commission, stamp_duty, pnl, pnl_pct, exit_reason
		FROM trades
		WHERE %s
		ORDER BY exit_date DESC, trade_id DESC
		LIMIT $%d
	`, q.where(), q.next())
	rows, err := r.pool.Query(ctx, query, append(q.args, filter.Limit+1)...)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var reason string
		err := rows.Scan(
			&t.TradeID, &t.AccountID, &t.OrderID, &t.Symbol, &t.EntryDate, &t.ExitDate,
			&t.EntryPrice, &t.ExitPrice, &t.Quantity, &t.Commission, &t.StampDuty,
			&t.PnL, &t.PnLPct, &reason,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.ExitReason = domain.ExitReason(reason)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}

	result := &TradeListResult{Trades: []domain.Trade{}}
	if len(trades) > filter.Limit {
		trades = trades[:filter.Limit]
		last := trades[len(trades)-1]
		result.NextCursor = encodeCursor(last.ExitDate, last.TradeID)
	}
	if trades != nil {
		result.Trades = trades
	}
	return result, nil
}

func encodeCursor(ts time.Time, id string) string {
	raw := fmt.Sprintf("%s|%s", ts.Format(time.RFC3339Nano), id)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("decode base64: %w", err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("invalid cursor format")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("parse timestamp: %w", err)
	}
	return ts, parts[1], nil
}
