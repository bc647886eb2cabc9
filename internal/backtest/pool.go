package backtest

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"simtrader/internal/domain"
	"simtrader/internal/strategy"
)

// Job is one independent backtest.
type Job struct {
	Config   domain.BacktestConfig
	Strategy strategy.Strategy
}

// Outcome pairs a job's result with its failure, if any.
type Outcome struct {
	Result *domain.BacktestResult
	Err    error
}

// RunMany runs jobs with at most parallel in flight, each on its own ledger.
// A failed job does not stop the others. Outcomes are in job order.
func (r *Runner) RunMany(ctx context.Context, jobs []Job, parallel int) []Outcome {
	if parallel <= 0 {
		parallel = runtime.NumCPU()
	}
	out := make([]Outcome, len(jobs))

	var g errgroup.Group
	g.SetLimit(parallel)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			res, err := r.Run(ctx, job.Config, job.Strategy)
			out[i] = Outcome{Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
