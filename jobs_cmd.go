package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quantfolio/advisor-go/internal/jobs"
)

// jobsListLimit caps how many ledger rows `jobs` shows.
const jobsListLimit = 20

func newJobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List recently submitted jobs from the local ledger",
		Args:  cobra.NoArgs,
		RunE:  runJobs,
	}
}

func runJobs(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := context.Background()

	ledger := openLedger(ctx, logger)
	if ledger == nil {
		return fmt.Errorf("job ledger unavailable")
	}
	defer ledger.Close()

	recent, err := ledger.Recent(ctx, jobsListLimit)
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(os.Stdout, recent)
	}

	if len(recent) == 0 {
		statusf("No jobs recorded yet.\n")

		return nil
	}

	rows := make([][]string, 0, len(recent))
	for _, j := range recent {
		rows = append(rows, []string{
			j.JobID,
			j.Kind,
			j.Status,
			formatTime(j.UpdatedAt.Local()),
		})
	}

	printTable(os.Stdout, []string{"JOB ID", "KIND", "STATUS", "UPDATED"}, rows)

	return nil
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Re-attach status polling to a previously submitted job",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch,
	}
}

func runWatch(_ *cobra.Command, args []string) error {
	logger := buildLogger()
	client := buildClient(logger)
	ctx := shutdownContext(context.Background(), logger)
	jobID := args[0]

	ledger := openLedger(ctx, logger)
	if ledger != nil {
		defer ledger.Close()
	}

	kind := jobs.KindOptimize

	if ledger != nil {
		entry, err := ledger.Get(ctx, jobID)
		if err == nil {
			kind = entry.Kind
		}
	}

	switch kind {
	case jobs.KindAgent:
		return watchAgentRun(ctx, client, ledger, jobID, logger)
	default:
		return watchOptimization(ctx, client, ledger, jobID, logger)
	}
}
