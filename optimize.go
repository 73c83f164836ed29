package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/quantfolio/advisor-go/internal/api"
	"github.com/quantfolio/advisor-go/internal/config"
	"github.com/quantfolio/advisor-go/internal/jobs"
	"github.com/quantfolio/advisor-go/internal/poll"
)

// Optimize command flags.
var (
	flagAmount         float64
	flagCurrency       string
	flagFast           bool
	flagHistoricalDate string
	flagStrategy       string
	flagAccountType    string
	flagExclude        []string
	flagNoWait         bool
)

func newOptimizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Submit a portfolio optimization and wait for the result",
		Args:  cobra.NoArgs,
		RunE:  runOptimize,
	}

	cmd.Flags().Float64Var(&flagAmount, "amount", 0, "investment amount (required)")
	cmd.Flags().StringVar(&flagCurrency, "currency", "USD", "investment currency")
	cmd.Flags().BoolVar(&flagFast, "fast", false, "skip the slower forecasting models")
	cmd.Flags().StringVar(&flagHistoricalDate, "date", "", "optimize as of a historical date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flagStrategy, "strategy", "", "named strategy to apply")
	cmd.Flags().StringVar(&flagAccountType, "account-type", "", "tax account type")
	cmd.Flags().StringSliceVar(&flagExclude, "exclude", nil, "tickers to exclude")
	cmd.Flags().BoolVar(&flagNoWait, "no-wait", false, "submit and print the job ID without polling")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func runOptimize(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	client := buildClient(logger)
	ctx := shutdownContext(context.Background(), logger)

	req := api.OptimizationRequest{
		Amount:          flagAmount,
		Currency:        flagCurrency,
		Fast:            flagFast,
		HistoricalDate:  flagHistoricalDate,
		UseStrategy:     flagStrategy,
		AccountType:     flagAccountType,
		ExcludedTickers: flagExclude,
	}

	handle, err := client.Optimize(ctx, req)
	if err != nil {
		return describeAuthError(err)
	}

	ledger := openLedger(ctx, logger)
	if ledger != nil {
		defer ledger.Close()

		if recErr := ledger.Record(ctx, handle.JobID, jobs.KindOptimize, req, string(handle.Status)); recErr != nil {
			logger.Warn("failed to record job in ledger", slog.String("error", recErr.Error()))
		}
	}

	statusf("Submitted optimization job %s.\n", handle.JobID)

	if flagNoWait {
		fmt.Println(handle.JobID)

		return nil
	}

	return watchOptimization(ctx, client, ledger, handle.JobID, logger)
}

// watchOptimization polls an optimization job to its terminal status and
// renders the outcome. Shared by `optimize` and `watch`.
func watchOptimization(
	ctx context.Context, client *api.Client, ledger *jobs.Ledger, jobID string, logger *slog.Logger,
) error {
	poller := poll.New[api.OptimizationResult](resolvedCfg.PollInterval.Std(), logger)

	var (
		lastStatus  api.Status
		final       api.OptimizationResult
		sawTerminal bool
	)

	cb := poll.Callbacks[api.OptimizationResult]{
		OnUpdate: func(r api.OptimizationResult) {
			if r.Status == lastStatus {
				return
			}

			lastStatus = r.Status
			progressf("  %s\n", r.Status)

			if ledger != nil {
				if err := ledger.UpdateStatus(ctx, jobID, string(r.Status), r.Error); err != nil {
					logger.Warn("failed to update job ledger", slog.String("error", err.Error()))
				}
			}
		},
		OnTerminal: func(r api.OptimizationResult) {
			final = r
			sawTerminal = true
		},
	}

	fetch := func(ctx context.Context, id string) (api.OptimizationResult, error) {
		return client.OptimizationStatus(ctx, id)
	}

	done := poller.Start(jobID, fetch, api.FailedOptimization, cb)

	go func() {
		select {
		case <-ctx.Done():
			poller.Stop()
		case <-done:
		}
	}()

	<-done

	if !sawTerminal {
		return fmt.Errorf("polling canceled; job %s may still be running — re-attach with 'advisor-go watch %s'", jobID, jobID)
	}

	if final.Status == api.StatusFailed {
		return fmt.Errorf("job %s failed: %s", jobID, final.Error)
	}

	if flagJSON {
		return printJSON(os.Stdout, final)
	}

	renderOptimizationResult(os.Stdout, &final)

	return nil
}

// openLedger opens the local job ledger, degrading to nil (with a warning)
// when it cannot be opened — job tracking is a convenience, not a
// prerequisite for talking to the backend.
func openLedger(ctx context.Context, logger *slog.Logger) *jobs.Ledger {
	path := config.LedgerPath(resolvedCfg)
	if path == "" {
		logger.Warn("cannot determine ledger path, job tracking disabled")

		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		logger.Warn("cannot create ledger directory", slog.String("error", err.Error()))

		return nil
	}

	ledger, err := jobs.Open(ctx, path, logger)
	if err != nil {
		logger.Warn("cannot open job ledger", slog.String("error", err.Error()))

		return nil
	}

	return ledger
}

// describeAuthError rewrites ErrNotLoggedIn into an actionable message.
func describeAuthError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, api.ErrNotLoggedIn) {
		return fmt.Errorf("not logged in — run 'advisor-go login' first")
	}

	return err
}
