package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"simtrader/internal/domain"
)

// UpsertBars inserts or replaces daily bars in one transaction and returns
// the number written.
func (r *Repository) UpsertBars(ctx context.Context, bars []domain.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, b := range bars {
			batch.Queue(`
				INSERT INTO daily_bars (symbol, date, open, high, low, close, volume)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (symbol, date) DO UPDATE SET
					open = EXCLUDED.open,
					high = EXCLUDED.high,
					low = EXCLUDED.low,
					close = EXCLUDED.close,
					volume = EXCLUDED.volume
			`, b.Symbol, domain.DateOf(b.Date), b.Open, b.High, b.Low, b.Close, b.Volume)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return 0, fmt.Errorf("upsert bars: %w", err)
	}
	return len(bars), nil
}

// GetDailyBars returns the symbol's bars in [start, end], ascending by date.
func (r *Repository) GetDailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT date, open, high, low, close, volume
		FROM daily_bars
		WHERE symbol = $1 AND date >= $2 AND date <= $3
		ORDER BY date
	`, symbol, domain.DateOf(start), domain.DateOf(end))
	if err != nil {
		return nil, fmt.Errorf("query bars %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		b := domain.Bar{Symbol: symbol}
		if err := rows.Scan(&b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		b.Date = domain.DateOf(b.Date)
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bars %s: %w", symbol, err)
	}
	return bars, nil
}

// LatestCloses returns the most recent close of each symbol that has bars.
func (r *Repository) LatestCloses(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT ON (symbol) symbol, close
		FROM daily_bars
		WHERE symbol = ANY($1)
		ORDER BY symbol, date DESC
	`, symbols)
	if err != nil {
		return nil, fmt.Errorf("query latest closes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var symbol string
		var price decimal.Decimal
		if err := rows.Scan(&symbol, &price); err != nil {
			return nil, fmt.Errorf("scan close: %w", err)
		}
		out[symbol] = price
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate closes: %w", err)
	}
	return out, nil
}
