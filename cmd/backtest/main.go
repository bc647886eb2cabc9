package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"simtrader/internal/backtest"
	"simtrader/internal/config"
	"simtrader/internal/domain"
	"simtrader/internal/logging"
	"simtrader/internal/store"
	"simtrader/internal/strategy"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "backtest",
		Short:        "Run strategy backtests against stored daily bars",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(), newStrategiesCmd())
	return root
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every backtest in a run file",
		Long: `Run every backtest listed in a YAML, JSON or TOML run file.

Runs execute concurrently, each on its own ledger. Reports:
- Final equity and total return
- Annualised return and Sharpe ratio
- Max drawdown and win rate
- Trade, rejection and skipped-bar counts`,
		Example: `  backtest run --config runs.yaml
  backtest run --config runs.yaml --parallel 8 --fetch-timeout 10s --save`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			parallel, _ := cmd.Flags().GetInt("parallel")
			fetchTimeout, _ := cmd.Flags().GetDuration("fetch-timeout")
			save, _ := cmd.Flags().GetBool("save")

			env, err := config.Load()
			if err != nil {
				return err
			}
			logFile := logging.Setup(logging.Options{Level: env.LogLevel, File: env.LogFile})
			defer logFile.Close()

			configs, err := config.LoadRuns(path)
			if err != nil {
				return err
			}
			jobs := make([]backtest.Job, 0, len(configs))
			for _, c := range configs {
				strat, err := strategy.New(c.Strategy, c.Params)
				if err != nil {
					return fmt.Errorf("run %s: %w", c.Name, err)
				}
				jobs = append(jobs, backtest.Job{Config: c, Strategy: strat})
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			repo, err := store.NewRepository(ctx, env.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer repo.Close()
			if save {
				if err := store.RunMigrations(ctx, repo.Pool()); err != nil {
					return fmt.Errorf("run migrations: %w", err)
				}
			}

			runner := backtest.NewRunner(repo, backtest.Options{
				FetchTimeout:  fetchTimeout,
				FetchParallel: parallel,
			})
			outcomes := runner.RunMany(ctx, jobs, parallel)

			failed := 0
			for _, o := range outcomes {
				if o.Err != nil {
					failed++
				}
				if !save {
					continue
				}
				saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := repo.SaveBacktestRun(saveCtx, o.Result); err != nil {
					log.Error().Err(err).Str("run_id", o.Result.RunID).Msg("failed to save backtest run")
				}
				cancel()
			}

			printSummary(cmd.OutOrStdout(), outcomes)
			if failed > 0 {
				return fmt.Errorf("%d of %d runs failed", failed, len(outcomes))
			}
			return nil
		},
	}

	cmd.Flags().StringP("config", "c", "runs.yaml", "Run file (YAML, JSON or TOML)")
	cmd.Flags().IntP("parallel", "p", 4, "Maximum concurrent backtests and bar fetches")
	cmd.Flags().Duration("fetch-timeout", backtest.DefaultOptions().FetchTimeout, "Per-symbol bar fetch timeout")
	cmd.Flags().Bool("save", false, "Store results in the database")
	return cmd
}

func newStrategiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List available strategies",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range strategy.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}

func printSummary(w io.Writer, outcomes []backtest.Outcome) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTRATEGY\tSTATUS\tFINAL EQUITY\tRETURN\tANNUAL\tSHARPE\tMAX DD\tWIN RATE\tTRADES\tREJECTED\tSKIPPED")
	for _, o := range outcomes {
		r := o.Result
		if r.Status == domain.RunFailed {
			fmt.Fprintf(tw, "%s\t%s\t%s: %s\t\t\t\t\t\t\t\t\t\n", r.Name, r.Strategy, r.Status, r.Error)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f%%\t%.2f%%\t%.2f\t%.2f%%\t%.1f%%\t%d\t%d\t%d\n",
			r.Name, r.Strategy, r.Status, r.FinalEquity.StringFixed(2),
			r.TotalReturnPct*100, r.AnnualReturnPct*100, r.SharpeRatio, r.MaxDrawdown*100,
			r.WinRate*100, r.NumTrades, r.RejectedOrders, r.SkippedBars)
	}
	tw.Flush()
}
