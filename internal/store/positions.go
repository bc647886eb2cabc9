package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"simtrader/internal/domain"
)

// replacePositions swaps the account's stored positions for positions.
// Must be called within a transaction.
func (r *Repository) replacePositions(ctx context.Context, tx pgx.Tx, accountID string, positions []domain.Position) error {
	if _, err := tx.Exec(ctx, "DELETE FROM account_positions WHERE account_id = $1", accountID); err != nil {
		return fmt.Errorf("clear positions: %w", err)
	}
	if len(positions) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range positions {
		batch.Queue(`
			INSERT INTO account_positions (account_id, symbol, quantity, avg_cost, cost_basis,
				current_price, entry_date, stop_loss_price, take_profit_price, realized_pnl)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, accountID, p.Symbol, p.Quantity, p.AvgCost, p.CostBasis,
			p.CurrentPrice, p.EntryDate, nullable(p.StopLossPrice), nullable(p.TakeProfitPrice), p.RealizedPnL)
	}
	br := tx.SendBatch(ctx, batch)
	for _, p := range positions {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert position %s: %w", p.Symbol, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close position batch: %w", err)
	}
	return nil
}

func (r *Repository) snapshotPositions(ctx context.Context, accountID string) ([]domain.Position, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT symbol, quantity, avg_cost, cost_basis, current_price, entry_date,
			stop_loss_price, take_profit_price, realized_pnl
		FROM account_positions
		WHERE account_id = $1
		ORDER BY symbol
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var stopLoss, takeProfit decimal.NullDecimal
		if err := rows.Scan(
			&p.Symbol, &p.Quantity, &p.AvgCost, &p.CostBasis, &p.CurrentPrice, &p.EntryDate,
			&stopLoss, &takeProfit, &p.RealizedPnL,
		); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.StopLossPrice = fromNullable(stopLoss)
		p.TakeProfitPrice = fromNullable(takeProfit)
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate positions: %w", err)
	}
	return positions, nil
}

func nullable(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func fromNullable(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := n.Decimal
	return &d
}
