package store

import (
	"context"
	"fmt"

	"simtrader/internal/domain"
)

// UpsertEquity records the account's equity for a date; the latest value for
// a date wins.
func (r *Repository) UpsertEquity(ctx context.Context, accountID string, p domain.EquityPoint) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO equity_history (account_id, date, equity)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, date) DO UPDATE SET equity = EXCLUDED.equity
	`, accountID, domain.DateOf(p.Date), p.Equity)
	if err != nil {
		return fmt.Errorf("upsert equity: %w", err)
	}
	return nil
}

// EquityHistory returns the last days points in ascending date order; days
// <= 0 returns the full history.
func (r *Repository) EquityHistory(ctx context.Context, accountID string, days int) ([]domain.EquityPoint, error) {
	limit := interface{}(nil)
	if days > 0 {
		limit = days
	}
	rows, err := r.pool.Query(ctx, `
		SELECT date, equity FROM (
			SELECT date, equity FROM equity_history
			WHERE account_id = $1
			ORDER BY date DESC
			LIMIT $2
		) recent
		ORDER BY date
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query equity history: %w", err)
	}
	defer rows.Close()

	points := []domain.EquityPoint{}
	for rows.Next() {
		var p domain.EquityPoint
		if err := rows.Scan(&p.Date, &p.Equity); err != nil {
			return nil, fmt.Errorf("scan equity point: %w", err)
		}
		p.Date = domain.DateOf(p.Date)
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate equity history: %w", err)
	}
	return points, nil
}
