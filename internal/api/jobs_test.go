package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptimize_Submit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/portfolio/optimize", r.URL.Path)

		var req OptimizationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.InDelta(t, 10000.0, req.Amount, 1e-9)
		assert.Equal(t, "EUR", req.Currency)
		assert.Equal(t, []string{"TSLA"}, req.ExcludedTickers)

		w.Write([]byte(`{"job_id": "job-42", "status": "queued"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, loggedInStore("acc-1", "ref-1"))

	handle, err := c.Optimize(context.Background(), OptimizationRequest{
		Amount:          10000,
		Currency:        "EUR",
		ExcludedTickers: []string{"TSLA"},
	})
	require.NoError(t, err)

	assert.Equal(t, "job-42", handle.JobID)
	assert.Equal(t, StatusQueued, handle.Status)
	assert.InDelta(t, 10000.0, handle.Echo.Amount, 1e-9)
}

func TestOptimize_MissingJobID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status": "queued"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, loggedInStore("acc-1", "ref-1"))

	_, err := c.Optimize(context.Background(), OptimizationRequest{Amount: 100})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job_id")
}

func TestOptimizationStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/portfolio/optimize/job-42", r.URL.Path)

		w.Write([]byte(`{
			"job_id": "job-42",
			"status": "completed",
			"initial_amount": 10000,
			"currency": "EUR",
			"optimal_portfolio": [
				{"ticker": "VTI", "weight": 0.6, "amount": 6000, "shares": 24.5, "price": 244.9}
			],
			"metrics": {"expected_annual_return": 0.07, "sharpe_ratio": 1.1}
		}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, loggedInStore("acc-1", "ref-1"))

	result, err := c.OptimizationStatus(context.Background(), "job-42")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.True(t, result.Terminal())
	require.Len(t, result.OptimalPortfolio, 1)
	assert.Equal(t, "VTI", result.OptimalPortfolio[0].Ticker)
	assert.InDelta(t, 0.07, result.Metrics["expected_annual_return"], 1e-9)
}

func TestOptimizationStatus_NotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail": "Job not found"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, loggedInStore("acc-1", "ref-1"))

	_, err := c.OptimizationStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunAgent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/agents/research/run", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "analyze VTI", body["input"])

		w.Write([]byte(`{"run_id": "run-7", "status": "queued"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, loggedInStore("acc-1", "ref-1"))

	runID, err := c.RunAgent(context.Background(), "research", "analyze VTI")
	require.NoError(t, err)
	assert.Equal(t, "run-7", runID)
}

func TestRunAgent_EscapesName(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/agents/odd%2Fname/run", r.URL.EscapedPath())
		w.Write([]byte(`{"run_id": "run-8", "status": "queued"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, loggedInStore("acc-1", "ref-1"))

	_, err := c.RunAgent(context.Background(), "odd/name", nil)
	require.NoError(t, err)
}

func TestAgentRunLogs(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/agents/runs/run-7/logs", r.URL.Path)

		w.Write([]byte(`[
			{"timestamp": "2026-03-01T12:00:00Z", "level": "info", "message": "starting"},
			{"timestamp": "2026-03-01T12:00:05Z", "level": "info", "message": "done"}
		]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, loggedInStore("acc-1", "ref-1"))

	logs, err := c.AgentRunLogs(context.Background(), "run-7")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "starting", logs[0].Message)
}

func TestClearOptimizeCache(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/api/portfolio/optimize/cache", r.URL.Path)
		w.Write([]byte(`{"detail": "cache cleared"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, loggedInStore("acc-1", "ref-1"))

	require.NoError(t, c.ClearOptimizeCache(context.Background()))
}

func TestClearOptimizeCache_Forbidden(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"detail": "Admin access required"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, loggedInStore("acc-1", "ref-1"))

	assert.ErrorIs(t, c.ClearOptimizeCache(context.Background()), ErrForbidden)
}
