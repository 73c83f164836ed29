package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/quantfolio/advisor-go/internal/tokenstore"
)

// Retry and backoff constants for the transport layer.
const (
	maxRetries     = 3
	baseBackoff    = 500 * time.Millisecond
	maxBackoff     = 10 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

// CredentialStore persists the credential pair across client restarts.
// Defined at the consumer per Go convention "accept interfaces, return
// structs". tokenstore.Store is the file-backed implementation.
type CredentialStore interface {
	// Load returns the stored pair, or (nil, nil) when none exists.
	Load() (*tokenstore.Credentials, error)
	Save(tokenstore.Credentials) error
	Clear() error
}

// Client is an authenticated HTTP client for the Advisor backend. It is the
// sole owner of the credential pair: callers never see tokens, only the
// derived Identity. Every authenticated request survives one session expiry
// via silent renewal; concurrent expiries share a single renewal attempt.
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      CredentialStore
	logger     *slog.Logger
	userAgent  string

	// onSessionLost is invoked (once per loss) when renewal fails and the
	// credential pair has been cleared. The CLI uses it to prompt re-login.
	onSessionLost func()

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error

	// mu guards creds. Renewal swaps the pair wholesale — the two tokens
	// are never observable in a partially updated state.
	mu    sync.Mutex
	creds *tokenstore.Credentials

	// renewGroup coalesces concurrent renewal attempts so a burst of 401s
	// triggers at most one refresh call per expiry.
	renewGroup singleflight.Group
}

// NewClient creates a Client. The credential pair, if previously persisted,
// is restored lazily on first use; call SilentRefresh at startup to validate
// it against the backend.
func NewClient(baseURL string, httpClient *http.Client, store CredentialStore, logger *slog.Logger, userAgent string) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if store == nil {
		panic("api: NewClient requires a CredentialStore")
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		store:      store,
		logger:     logger,
		userAgent:  userAgent,
		sleepFunc:  timeSleep,
	}
}

// SetSessionLostHandler registers the callback invoked when silent renewal
// fails and the session cannot be recovered without user interaction.
func (c *Client) SetSessionLostHandler(fn func()) {
	c.onSessionLost = fn
}

// Do executes an authenticated request against the backend. On a 401 it
// performs exactly one silent renewal and retries the original request once
// with the new access token; a second consecutive 401 is surfaced as-is.
// If renewal itself fails, the credential pair is cleared, the session-lost
// handler fires, and the original failure is returned wrapped in
// ErrSessionLost.
//
// The caller is responsible for closing the response body on success.
func (c *Client) Do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	access, err := c.accessToken()
	if err != nil {
		return nil, err
	}

	reqID := uuid.NewString()

	resp, err := c.doRetry(ctx, method, path, body, contentTypeJSON, access, reqID)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return c.finish(resp, method, path, reqID)
	}

	// Session expiry: one coalesced renewal, then one retry.
	origDetail := drainDetail(resp)

	renewed, renewErr := c.renew(ctx, access)
	if renewErr != nil {
		c.sessionLost(renewErr)

		return nil, &APIError{
			StatusCode: http.StatusUnauthorized,
			RequestID:  reqID,
			Detail:     origDetail,
			Err:        ErrSessionLost,
		}
	}

	c.logger.Debug("retrying request after renewal",
		slog.String("method", method),
		slog.String("path", path),
	)

	resp, err = c.doRetry(ctx, method, path, body, contentTypeJSON, renewed, reqID)
	if err != nil {
		return nil, err
	}

	// Bounded to one retry: a second 401 falls through to finish and is
	// surfaced as ErrUnauthorized without another renewal attempt.
	return c.finish(resp, method, path, reqID)
}

// GetJSON performs an authenticated GET and decodes the response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decoding %s response: %w", path, err)
	}

	return nil
}

// PostJSON performs an authenticated POST with a JSON body and decodes the
// response into out (skipped when out is nil).
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("api: encoding %s request: %w", path, err)
	}

	resp, err := c.Do(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decoding %s response: %w", path, err)
	}

	return nil
}

// finish converts a final response into the caller-visible result: 2xx
// passes through, everything else is drained and classified.
func (c *Client) finish(resp *http.Response, method, path, reqID string) (*http.Response, error) {
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		c.logger.Debug("request succeeded",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)

		return resp, nil
	}

	detail := drainDetail(resp)
	sentinel := classifyStatus(resp.StatusCode)

	c.logger.Warn("request failed",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.String("detail", detail),
	)

	return nil, &APIError{
		StatusCode: resp.StatusCode,
		RequestID:  reqID,
		Detail:     detail,
		Err:        sentinel,
	}
}

// doRetry executes the request, retrying network errors and retryable HTTP
// statuses with exponential backoff. The final response — including 401 and
// non-retryable 4xx — is returned unconsumed for the caller to classify.
func (c *Client) doRetry(
	ctx context.Context, method, path string, body []byte, contentType, bearer, reqID string,
) (*http.Response, error) {
	url := c.baseURL + path

	var attempt int
	for {
		resp, err := c.doOnce(ctx, method, url, body, contentType, bearer, reqID)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("api: request canceled: %w", ctx.Err())
			}

			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("api: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("api: %s %s failed after %d retries: %w", method, path, maxRetries, err)
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("api: request canceled: %w", err)
			}

			attempt++

			continue
		}

		return resp, nil
	}
}

// Content types sent by the client. The token endpoint is the only
// form-encoded call; everything else is JSON.
const (
	contentTypeJSON = "application/json"
	contentTypeForm = "application/x-www-form-urlencoded"
)

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(
	ctx context.Context, method, url string, body []byte, contentType, bearer, reqID string,
) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", reqID)

	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	return c.httpClient.Do(req)
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// drainDetail reads and closes an error response body, extracting the
// backend's {"detail": ...} message when present.
func drainDetail(resp *http.Response) string {
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return "(failed to read response body)"
	}

	var parsed struct {
		Detail string `json:"detail"`
	}
	if jsonErr := json.Unmarshal(data, &parsed); jsonErr == nil && parsed.Detail != "" {
		return parsed.Detail
	}

	return string(data)
}

// maxErrorBodyBytes bounds how much of an error response is read for the
// detail message.
const maxErrorBodyBytes = 64 * 1024

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
