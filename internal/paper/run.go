package paper

import (
	"context"
	"time"
)

// Run marks the account every markInterval and saves a snapshot every
// snapshotInterval until ctx is cancelled, then saves a final snapshot.
// Errors are logged; only cancellation ends the loop.
func (a *Account) Run(ctx context.Context, markInterval, snapshotInterval time.Duration) error {
	markTicker := time.NewTicker(markInterval)
	defer markTicker.Stop()
	snapTicker := time.NewTicker(snapshotInterval)
	defer snapTicker.Stop()

	a.logger.Info().Dur("mark_interval", markInterval).Dur("snapshot_interval", snapshotInterval).Msg("paper account running")
	for {
		select {
		case <-ctx.Done():
			saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := a.SaveSnapshot(saveCtx); err != nil {
				a.logger.Error().Err(err).Msg("final snapshot failed")
			}
			return ctx.Err()
		case <-markTicker.C:
			if err := a.Mark(ctx); err != nil && ctx.Err() == nil {
				a.logger.Warn().Err(err).Msg("mark failed")
			}
		case <-snapTicker.C:
			if err := a.SaveSnapshot(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error().Err(err).Msg("snapshot failed")
			}
		}
	}
}
