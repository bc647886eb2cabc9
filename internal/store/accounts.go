package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"simtrader/internal/domain"
)

// SaveSnapshot replaces the account's snapshot and its positions atomically.
func (r *Repository) SaveSnapshot(ctx context.Context, s domain.Snapshot) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO account_snapshots (account_id, cash, initial_cash, saved_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (account_id) DO UPDATE SET
				cash = EXCLUDED.cash,
				initial_cash = EXCLUDED.initial_cash,
				saved_at = EXCLUDED.saved_at
		`, s.AccountID, s.Cash, s.InitialCash, s.SavedAt)
		if err != nil {
			return fmt.Errorf("upsert snapshot: %w", err)
		}
		return r.replacePositions(ctx, tx, s.AccountID, s.Positions)
	})
}

// LoadSnapshot returns the latest snapshot of the account, or nil if none has
// been saved. A snapshot without position rows restores cash only.
func (r *Repository) LoadSnapshot(ctx context.Context, accountID string) (*domain.Snapshot, error) {
	s := domain.Snapshot{AccountID: accountID}
	err := r.pool.QueryRow(ctx,
		"SELECT cash, initial_cash, saved_at FROM account_snapshots WHERE account_id = $1", accountID,
	).Scan(&s.Cash, &s.InitialCash, &s.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	positions, err := r.snapshotPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	s.Positions = positions
	return &s, nil
}
