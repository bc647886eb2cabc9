package store

import (
	"context"
	"encoding/json"
	"fmt"

	"simtrader/internal/domain"
)

// SaveBacktestRun stores a backtest result, replacing an earlier write of
// the same run.
func (r *Repository) SaveBacktestRun(ctx context.Context, res *domain.BacktestResult) error {
	curve, err := json.Marshal(nonNil(res.EquityCurve))
	if err != nil {
		return fmt.Errorf("marshal equity curve: %w", err)
	}
	trades, err := json.Marshal(nonNil(res.Trades))
	if err != nil {
		return fmt.Errorf("marshal trades: %w", err)
	}
	diagnostics, err := json.Marshal(nonNil(res.Diagnostics))
	if err != nil {
		return fmt.Errorf("marshal diagnostics: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO backtest_runs (run_id, name, strategy, status, error, start_date, end_date,
			initial_capital, final_equity, total_return_pct, annual_return_pct, sharpe_ratio,
			max_drawdown, win_rate, num_trades, trading_days, rejected_orders, skipped_bars,
			equity_curve, trades, diagnostics, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			final_equity = EXCLUDED.final_equity,
			total_return_pct = EXCLUDED.total_return_pct,
			annual_return_pct = EXCLUDED.annual_return_pct,
			sharpe_ratio = EXCLUDED.sharpe_ratio,
			max_drawdown = EXCLUDED.max_drawdown,
			win_rate = EXCLUDED.win_rate,
			num_trades = EXCLUDED.num_trades,
			trading_days = EXCLUDED.trading_days,
			rejected_orders = EXCLUDED.rejected_orders,
			skipped_bars = EXCLUDED.skipped_bars,
			equity_curve = EXCLUDED.equity_curve,
			trades = EXCLUDED.trades,
			diagnostics = EXCLUDED.diagnostics
	`,
		res.RunID, res.Name, res.Strategy, string(res.Status), res.Error, res.StartDate, res.EndDate,
		res.InitialCapital, res.FinalEquity, res.TotalReturnPct, res.AnnualReturnPct, res.SharpeRatio,
		res.MaxDrawdown, res.WinRate, res.NumTrades, res.TradingDays, res.RejectedOrders, res.SkippedBars,
		curve, trades, diagnostics, res.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert backtest run: %w", err)
	}
	return nil
}

// ListBacktestRuns returns run summaries, newest first, without the curve,
// trades or diagnostics.
func (r *Repository) ListBacktestRuns(ctx context.Context, limit int) ([]domain.BacktestResult, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT run_id, name, strategy, status, error, start_date, end_date, initial_capital,
			final_equity, total_return_pct, annual_return_pct, sharpe_ratio, max_drawdown,
			win_rate, num_trades, trading_days, rejected_orders, skipped_bars, created_at
		FROM backtest_runs
		ORDER BY created_at DESC, run_id DESC
		LIMIT $1
	`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list backtest runs: %w", err)
	}
	defer rows.Close()

	runs := []domain.BacktestResult{}
	for rows.Next() {
		var res domain.BacktestResult
		var status string
		if err := rows.Scan(
			&res.RunID, &res.Name, &res.Strategy, &status, &res.Error, &res.StartDate, &res.EndDate,
			&res.InitialCapital, &res.FinalEquity, &res.TotalReturnPct, &res.AnnualReturnPct,
			&res.SharpeRatio, &res.MaxDrawdown, &res.WinRate, &res.NumTrades, &res.TradingDays,
			&res.RejectedOrders, &res.SkippedBars, &res.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan backtest run: %w", err)
		}
		res.Status = domain.RunStatus(status)
		runs = append(runs, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backtest runs: %w", err)
	}
	return runs, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
