package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/quantfolio/advisor-go/internal/api"
	"github.com/quantfolio/advisor-go/internal/jobs"
	"github.com/quantfolio/advisor-go/internal/poll"
)

// Agent command flags.
var (
	flagAgentInput  string
	flagAgentNoWait bool
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run backend agents and inspect their runs",
	}

	runCmd := &cobra.Command{
		Use:   "run <name>",
		Short: "Submit an agent run and wait for the result",
		Args:  cobra.ExactArgs(1),
		RunE:  runAgentRun,
	}
	runCmd.Flags().StringVar(&flagAgentInput, "input", "", "agent input (JSON, or a plain string)")
	runCmd.Flags().BoolVar(&flagAgentNoWait, "no-wait", false, "submit and print the run ID without polling")

	logsCmd := &cobra.Command{
		Use:   "logs <run-id>",
		Short: "Print the log lines recorded for an agent run",
		Args:  cobra.ExactArgs(1),
		RunE:  runAgentLogs,
	}

	cmd.AddCommand(runCmd)
	cmd.AddCommand(logsCmd)

	return cmd
}

func runAgentRun(_ *cobra.Command, args []string) error {
	logger := buildLogger()
	client := buildClient(logger)
	ctx := shutdownContext(context.Background(), logger)
	name := args[0]

	input := parseAgentInput(flagAgentInput)

	runID, err := client.RunAgent(ctx, name, input)
	if err != nil {
		return describeAuthError(err)
	}

	ledger := openLedger(ctx, logger)
	if ledger != nil {
		defer ledger.Close()

		params := map[string]any{"agent": name, "input": input}
		if recErr := ledger.Record(ctx, runID, jobs.KindAgent, params, string(api.StatusQueued)); recErr != nil {
			logger.Warn("failed to record run in ledger", slog.String("error", recErr.Error()))
		}
	}

	statusf("Submitted agent run %s.\n", runID)

	if flagAgentNoWait {
		fmt.Println(runID)

		return nil
	}

	return watchAgentRun(ctx, client, ledger, runID, logger)
}

// watchAgentRun polls an agent run to its terminal status and renders the
// output. Shared by `agent run` and `watch`.
func watchAgentRun(
	ctx context.Context, client *api.Client, ledger *jobs.Ledger, runID string, logger *slog.Logger,
) error {
	poller := poll.New[api.AgentRun](resolvedCfg.PollInterval.Std(), logger)

	var (
		lastStatus  api.Status
		final       api.AgentRun
		sawTerminal bool
	)

	cb := poll.Callbacks[api.AgentRun]{
		OnUpdate: func(r api.AgentRun) {
			if r.Status == lastStatus {
				return
			}

			lastStatus = r.Status
			progressf("  %s\n", r.Status)

			if ledger != nil {
				if err := ledger.UpdateStatus(ctx, runID, string(r.Status), r.Error); err != nil {
					logger.Warn("failed to update job ledger", slog.String("error", err.Error()))
				}
			}
		},
		OnTerminal: func(r api.AgentRun) {
			final = r
			sawTerminal = true
		},
	}

	fetch := func(ctx context.Context, id string) (api.AgentRun, error) {
		return client.AgentRunStatus(ctx, id)
	}

	done := poller.Start(runID, fetch, api.FailedAgentRun, cb)

	go func() {
		select {
		case <-ctx.Done():
			poller.Stop()
		case <-done:
		}
	}()

	<-done

	if !sawTerminal {
		return fmt.Errorf("polling canceled; run %s may still be running — re-attach with 'advisor-go watch %s'", runID, runID)
	}

	if final.Status == api.StatusFailed {
		return fmt.Errorf("agent run %s failed: %s", runID, final.Error)
	}

	if flagJSON {
		return printJSON(os.Stdout, final)
	}

	if final.Output != nil {
		if err := printJSON(os.Stdout, final.Output); err != nil {
			return err
		}
	}

	statusf("Run %s completed.\n", runID)

	return nil
}

func runAgentLogs(_ *cobra.Command, args []string) error {
	logger := buildLogger()
	client := buildClient(logger)
	runID := args[0]

	logs, err := client.AgentRunLogs(context.Background(), runID)
	if err != nil {
		return describeAuthError(err)
	}

	if flagJSON {
		return printJSON(os.Stdout, logs)
	}

	for _, line := range logs {
		fmt.Printf("%s [%s] %s\n", line.Timestamp.Format("15:04:05"), line.Level, line.Message)
	}

	return nil
}

// parseAgentInput decodes --input as JSON when possible, falling back to
// the raw string so `--input "research NVDA"` just works.
func parseAgentInput(raw string) any {
	if raw == "" {
		return nil
	}

	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
		return decoded
	}

	return raw
}
