package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"simtrader/internal/domain"
)

// BarSource supplies daily bars. Results must be sorted ascending by date;
// calls are independent and may be repeated.
type BarSource interface {
	GetDailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

// fetchAll loads every symbol's bars with at most parallel concurrent calls,
// each bounded by timeout. A symbol whose fetch fails or times out is logged
// and left empty; only cancellation of ctx aborts the whole fetch.
func (r *Runner) fetchAll(ctx context.Context, symbols []string, start, end time.Time) (map[string][]domain.Bar, error) {
	series := make([][]domain.Bar, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.FetchParallel)
	for i, sym := range symbols {
		i, sym := i, sym
		g.Go(func() error {
			fetchCtx := gctx
			var cancel context.CancelFunc
			if r.opts.FetchTimeout > 0 {
				fetchCtx, cancel = context.WithTimeout(gctx, r.opts.FetchTimeout)
				defer cancel()
			}
			bars, err := r.source.GetDailyBars(fetchCtx, sym, start, end)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				ev := r.logger.Warn().Err(err).Str("symbol", sym)
				if errors.Is(err, context.DeadlineExceeded) {
					ev = ev.Dur("timeout", r.opts.FetchTimeout)
				}
				ev.Msg("bar fetch failed, symbol skipped")
				return nil
			}
			series[i] = clip(bars, start, end)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch bars: %w", err)
	}

	out := make(map[string][]domain.Bar, len(symbols))
	for i, sym := range symbols {
		out[sym] = series[i]
	}
	return out, nil
}

// clip keeps bars inside [start, end] normalized to UTC dates, sorted
// ascending with one bar per date.
func clip(bars []domain.Bar, start, end time.Time) []domain.Bar {
	start, end = domain.DateOf(start), domain.DateOf(end)
	out := make([]domain.Bar, 0, len(bars))
	for _, b := range bars {
		b.Date = domain.DateOf(b.Date)
		if b.Date.Before(start) || b.Date.After(end) {
			continue
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })

	dedup := out[:0]
	for _, b := range out {
		if n := len(dedup); n > 0 && dedup[n-1].Date.Equal(b.Date) {
			dedup[n-1] = b
			continue
		}
		dedup = append(dedup, b)
	}
	return dedup
}

// tradingDates is the sorted union of every date present in any series.
func tradingDates(series map[string][]domain.Bar) []time.Time {
	seen := make(map[time.Time]struct{})
	for _, bars := range series {
		for _, b := range bars {
			seen[b.Date] = struct{}{}
		}
	}
	dates := make([]time.Time, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}
