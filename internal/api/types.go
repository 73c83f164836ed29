package api

import "time"

// Status is a job status reported by the backend. Optimization jobs move
// forward through queued → fetching_data → forecasting → optimizing →
// generating_analysis → completed; agent runs use the shorter
// queued → running → completed chain. failed is terminal for both.
type Status string

// Optimization and agent run statuses.
const (
	StatusQueued             Status = "queued"
	StatusFetchingData       Status = "fetching_data"
	StatusForecasting        Status = "forecasting"
	StatusOptimizing         Status = "optimizing"
	StatusGeneratingAnalysis Status = "generating_analysis"
	StatusRunning            Status = "running"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
)

// statusRanks orders statuses for monotonicity checks. A poll response
// ranked below the last applied one is a stale read and is discarded.
// Unknown statuses rank between queued and the terminal states so a newer
// backend can add intermediate stages without confusing older clients.
var statusRanks = map[Status]int{
	StatusQueued:             0,
	StatusFetchingData:       1,
	StatusForecasting:        2,
	StatusOptimizing:         3,
	StatusGeneratingAnalysis: 4,
	StatusRunning:            1,
	StatusCompleted:          10,
	StatusFailed:             10,
}

// unknownStatusRank is used for statuses this client does not know about.
const unknownStatusRank = 1

// Rank returns the monotonic ordering rank for the status.
func (s Status) Rank() int {
	if r, ok := statusRanks[s]; ok {
		return r
	}

	return unknownStatusRank
}

// Terminal reports whether no further transition can occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// tokenResponse is the wire shape of the auth endpoints.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
}

// OptimizationRequest is the submit payload for POST /api/portfolio/optimize.
type OptimizationRequest struct {
	Amount          float64  `json:"amount"`
	Currency        string   `json:"currency"`
	Fast            bool     `json:"fast"`
	HistoricalDate  string   `json:"historical_date,omitempty"`
	UseStrategy     string   `json:"use_strategy,omitempty"`
	AccountType     string   `json:"account_type,omitempty"`
	ExcludedTickers []string `json:"excluded_tickers,omitempty"`
}

// JobHandle pairs a server-issued job ID with an echo of the parameters the
// job was started with. Immutable once created — a new submission always
// produces a new handle.
type JobHandle struct {
	JobID  string
	Echo   OptimizationRequest
	Status Status
}

// submitResponse is the wire shape of a job submission acknowledgement.
type submitResponse struct {
	JobID  string `json:"job_id"`
	Status Status `json:"status"`
}

// PortfolioAsset is one holding in the optimal portfolio.
type PortfolioAsset struct {
	Ticker             string  `json:"ticker"`
	Weight             float64 `json:"weight"`
	Amount             float64 `json:"amount"`
	Shares             float64 `json:"shares"`
	Price              float64 `json:"price"`
	ExpectedReturn     float64 `json:"expected_return"`
	ContributionToRisk float64 `json:"contribution_to_risk"`
}

// EfficientFrontierPoint is one point on the computed efficient frontier.
type EfficientFrontierPoint struct {
	AnnualVolatility float64            `json:"annual_volatility"`
	AnnualReturn     float64            `json:"annual_return"`
	SharpeRatio      float64            `json:"sharpe_ratio"`
	Weights          map[string]float64 `json:"weights"`
}

// OptimizationResult is the status snapshot for an optimization job.
// Result fields arrive incrementally: metrics and the optimal portfolio may
// be present before generating_analysis completes, and the LLM report can
// fill in after the numeric results.
type OptimizationResult struct {
	JobID             string                   `json:"job_id"`
	Status            Status                   `json:"status"`
	CreatedAt         time.Time                `json:"created_at"`
	CompletedAt       *time.Time               `json:"completed_at,omitempty"`
	InitialAmount     float64                  `json:"initial_amount"`
	Currency          string                   `json:"currency"`
	OptimalPortfolio  []PortfolioAsset         `json:"optimal_portfolio,omitempty"`
	EfficientFrontier []EfficientFrontierPoint `json:"efficient_frontier,omitempty"`
	Metrics           map[string]float64       `json:"metrics,omitempty"`
	Scenarios         map[string]any           `json:"scenarios,omitempty"`
	LLMReport         string                   `json:"llm_report,omitempty"`
	BacktestResult    map[string]any           `json:"backtest_result,omitempty"`
	Error             string                   `json:"error,omitempty"`
}

// Stage implements poll.Snapshot.
func (r OptimizationResult) Stage() int { return r.Status.Rank() }

// Terminal implements poll.Snapshot.
func (r OptimizationResult) Terminal() bool { return r.Status.Terminal() }

// FailedOptimization synthesizes a terminal failed snapshot from a client-side
// error, so the polling loop always ends in an observable terminal state.
func FailedOptimization(err error) OptimizationResult {
	return OptimizationResult{Status: StatusFailed, Error: err.Error()}
}

// AgentRun is the status snapshot for an agent run.
type AgentRun struct {
	RunID       string     `json:"run_id"`
	AgentName   string     `json:"agent_name,omitempty"`
	Status      Status     `json:"status"`
	Input       any        `json:"input,omitempty"`
	Output      any        `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Stage implements poll.Snapshot.
func (r AgentRun) Stage() int { return r.Status.Rank() }

// Terminal implements poll.Snapshot.
func (r AgentRun) Terminal() bool { return r.Status.Terminal() }

// FailedAgentRun synthesizes a terminal failed snapshot from a client-side error.
func FailedAgentRun(err error) AgentRun {
	return AgentRun{Status: StatusFailed, Error: err.Error()}
}

// AgentRunLog is a single log line recorded during an agent run.
type AgentRunLog struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}
