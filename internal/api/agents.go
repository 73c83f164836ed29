package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
)

// RunAgent submits a run of the named agent (e.g. the research agent) with
// the given input and returns the run ID for status polling.
func (c *Client) RunAgent(ctx context.Context, name string, input any) (string, error) {
	payload := map[string]any{"input": input}

	var ack struct {
		RunID  string `json:"run_id"`
		Status Status `json:"status"`
	}

	path := "/api/agents/" + url.PathEscape(name) + "/run"
	if err := c.PostJSON(ctx, path, payload, &ack); err != nil {
		return "", err
	}

	if ack.RunID == "" {
		return "", fmt.Errorf("api: agent run response missing run_id")
	}

	c.logger.Info("agent run submitted",
		slog.String("agent", name),
		slog.String("run_id", ack.RunID),
	)

	return ack.RunID, nil
}

// AgentRunStatus fetches the current status snapshot for an agent run.
func (c *Client) AgentRunStatus(ctx context.Context, runID string) (AgentRun, error) {
	var run AgentRun
	if err := c.GetJSON(ctx, "/api/agents/runs/"+url.PathEscape(runID), &run); err != nil {
		return AgentRun{}, err
	}

	return run, nil
}

// AgentRunLogs fetches the log lines recorded for an agent run so far.
func (c *Client) AgentRunLogs(ctx context.Context, runID string) ([]AgentRunLog, error) {
	var logs []AgentRunLog
	if err := c.GetJSON(ctx, "/api/agents/runs/"+url.PathEscape(runID)+"/logs", &logs); err != nil {
		return nil, err
	}

	return logs, nil
}
