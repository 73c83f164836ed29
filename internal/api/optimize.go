package api

import (
	"context"
	"fmt"
	"log/slog"
)

// Optimize submits a portfolio optimization job and returns its handle.
// The handle echoes the submitted parameters so callers (and the local job
// ledger) can reconstruct what the job was started with.
func (c *Client) Optimize(ctx context.Context, req OptimizationRequest) (*JobHandle, error) {
	var ack submitResponse
	if err := c.PostJSON(ctx, "/api/portfolio/optimize", req, &ack); err != nil {
		return nil, err
	}

	if ack.JobID == "" {
		return nil, fmt.Errorf("api: optimize response missing job_id")
	}

	c.logger.Info("optimization submitted",
		slog.String("job_id", ack.JobID),
		slog.Float64("amount", req.Amount),
		slog.String("currency", req.Currency),
	)

	return &JobHandle{JobID: ack.JobID, Echo: req, Status: ack.Status}, nil
}

// OptimizationStatus fetches the current status snapshot for a job.
func (c *Client) OptimizationStatus(ctx context.Context, jobID string) (OptimizationResult, error) {
	var result OptimizationResult
	if err := c.GetJSON(ctx, "/api/portfolio/optimize/"+jobID, &result); err != nil {
		return OptimizationResult{}, err
	}

	return result, nil
}
