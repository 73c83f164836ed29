package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/quantfolio/advisor-go/internal/tokenstore"
)

// Auth endpoint paths.
const (
	pathToken    = "/api/auth/token"
	pathRegister = "/api/auth/register"
	pathRefresh  = "/api/auth/refresh"
	pathLogout   = "/api/auth/logout"
)

// Login authenticates with the backend and stores the resulting credential
// pair. Invalid credentials return ErrBadCredentials — a declined result,
// distinguishable from transport failures, which are returned verbatim.
func (c *Client) Login(ctx context.Context, username, password string) error {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	reqID := uuid.NewString()

	resp, err := c.doRetry(ctx, http.MethodPost, pathToken,
		[]byte(form.Encode()), contentTypeForm, "", reqID)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		detail := drainDetail(resp)
		c.logger.Info("login declined", slog.String("username", username))

		return &APIError{
			StatusCode: resp.StatusCode,
			RequestID:  reqID,
			Detail:     detail,
			Err:        ErrBadCredentials,
		}
	}

	tr, err := c.decodeTokens(resp, reqID)
	if err != nil {
		return err
	}

	c.storeCredentials(tr)

	c.logger.Info("login successful", slog.String("username", username))

	return nil
}

// Register creates a new account and then logs in, so the caller ends
// authenticated. Backend validation errors (username taken, weak password)
// are surfaced verbatim in the APIError detail.
func (c *Client) Register(ctx context.Context, username, password string) error {
	body, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return fmt.Errorf("api: encoding register request: %w", err)
	}

	reqID := uuid.NewString()

	resp, err := c.doRetry(ctx, http.MethodPost, pathRegister,
		body, contentTypeJSON, "", reqID)
	if err != nil {
		return err
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		detail := drainDetail(resp)

		// 4xx is the backend declining the account (username taken, weak
		// password); anything else keeps its transport classification.
		sentinel := classifyStatus(resp.StatusCode)
		if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError {
			sentinel = ErrValidation
		}

		return &APIError{
			StatusCode: resp.StatusCode,
			RequestID:  reqID,
			Detail:     detail,
			Err:        sentinel,
		}
	}

	resp.Body.Close()

	c.logger.Info("registration successful, logging in", slog.String("username", username))

	return c.Login(ctx, username, password)
}

// SilentRefresh attempts to restore a session from the stored refresh token
// without user interaction. It returns whether renewal succeeded. An
// authentication failure (invalid or expired refresh token) clears the
// stored pair and reports false with a nil error; transport failures and
// server faults are returned so the caller may retry later.
func (c *Client) SilentRefresh(ctx context.Context) (bool, error) {
	creds := c.currentCredentials()
	if creds == nil || creds.RefreshToken == "" {
		return false, nil
	}

	_, err := c.renew(ctx, creds.AccessToken)
	if err == nil {
		return true, nil
	}

	var apiErr *APIError
	declined := errors.Is(err, ErrNotLoggedIn) ||
		(errors.As(err, &apiErr) &&
			apiErr.StatusCode >= http.StatusBadRequest &&
			apiErr.StatusCode < http.StatusInternalServerError)

	if declined {
		// Refresh token rejected — the pair is dead. Clear it without
		// firing the session-lost handler: silent means silent.
		c.clearCredentials()
		c.logger.Info("silent refresh declined, credentials cleared")

		return false, nil
	}

	// Transport failures and server faults keep the pair: the refresh
	// token may still be good once the backend recovers.
	return false, err
}

// Logout clears the credential pair. The backend is notified best-effort;
// its failure never blocks the local logout.
func (c *Client) Logout(ctx context.Context) error {
	creds := c.currentCredentials()
	if creds != nil && creds.AccessToken != "" {
		resp, err := c.doRetry(ctx, http.MethodPost, pathLogout,
			nil, contentTypeJSON, creds.AccessToken, uuid.NewString())
		if err != nil {
			c.logger.Warn("backend logout notification failed",
				slog.String("error", err.Error()))
		} else {
			resp.Body.Close()
		}
	}

	if !c.clearCredentials() {
		c.logger.Debug("logout: no credentials to clear")
	}

	c.logger.Info("logged out")

	return nil
}

// renew exchanges the stored refresh token for a new credential pair and
// returns the new access token. Concurrent callers are coalesced into a
// single refresh call; a caller whose stale token was already replaced by
// an earlier renewal reuses that result without touching the network.
func (c *Client) renew(ctx context.Context, staleAccess string) (string, error) {
	v, err, shared := c.renewGroup.Do("renew", func() (any, error) {
		c.mu.Lock()
		if c.creds != nil && c.creds.AccessToken != "" && c.creds.AccessToken != staleAccess {
			// Another renewal already replaced the pair.
			fresh := c.creds.AccessToken
			c.mu.Unlock()

			return fresh, nil
		}

		var refresh string
		if c.creds != nil {
			refresh = c.creds.RefreshToken
		}
		c.mu.Unlock()

		if refresh == "" {
			return "", ErrNotLoggedIn
		}

		tr, err := c.refreshCall(ctx, refresh)
		if err != nil {
			return "", err
		}

		c.storeCredentials(tr)

		return tr.AccessToken, nil
	})
	if err != nil {
		return "", err
	}

	if shared {
		c.logger.Debug("renewal coalesced with in-flight refresh")
	}

	return v.(string), nil
}

// refreshCall performs the actual refresh endpoint exchange.
func (c *Client) refreshCall(ctx context.Context, refreshToken string) (*tokenResponse, error) {
	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, fmt.Errorf("api: encoding refresh request: %w", err)
	}

	reqID := uuid.NewString()

	resp, err := c.doRetry(ctx, http.MethodPost, pathRefresh,
		body, contentTypeJSON, "", reqID)
	if err != nil {
		return nil, err
	}

	return c.decodeTokens(resp, reqID)
}

// decodeTokens validates and decodes a token-bearing response. Both tokens
// must be present: a partial pair is treated as a protocol error rather
// than stored.
func (c *Client) decodeTokens(resp *http.Response, reqID string) (*tokenResponse, error) {
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		detail := drainDetail(resp)

		return nil, &APIError{
			StatusCode: resp.StatusCode,
			RequestID:  reqID,
			Detail:     detail,
			Err:        classifyStatus(resp.StatusCode),
		}
	}

	defer resp.Body.Close()

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("api: decoding token response: %w", err)
	}

	if tr.AccessToken == "" || tr.RefreshToken == "" {
		return nil, fmt.Errorf("api: token response missing access or refresh token")
	}

	return &tr, nil
}

// storeCredentials replaces the in-memory pair wholesale and persists it.
// Persistence failure is logged, not fatal — the session works for this
// process lifetime and re-login recovers the durable copy.
func (c *Client) storeCredentials(tr *tokenResponse) {
	creds := tokenstore.Credentials{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
	}

	c.mu.Lock()
	c.creds = &creds
	c.mu.Unlock()

	if err := c.store.Save(creds); err != nil {
		c.logger.Warn("failed to persist credentials", slog.String("error", err.Error()))
	}
}

// clearCredentials drops the pair from memory and durable storage together.
// Returns whether there was a pair to clear.
func (c *Client) clearCredentials() bool {
	c.mu.Lock()
	had := c.creds != nil
	c.creds = nil
	c.mu.Unlock()

	if err := c.store.Clear(); err != nil {
		c.logger.Warn("failed to clear stored credentials", slog.String("error", err.Error()))
	}

	return had
}

// sessionLost clears credential state and fires the registered handler.
// The handler fires at most once per loss: coalesced renewals mean several
// requests can observe the same failure, but only the first clear wins.
func (c *Client) sessionLost(cause error) {
	c.logger.Warn("session lost, renewal failed", slog.String("error", cause.Error()))

	if c.clearCredentials() && c.onSessionLost != nil {
		c.onSessionLost()
	}
}

// currentCredentials returns the in-memory pair, lazily restoring it from
// the store on first use. Returns nil when no pair is available.
func (c *Client) currentCredentials() *tokenstore.Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.creds != nil {
		return c.creds
	}

	loaded, err := c.store.Load()
	if err != nil {
		c.logger.Warn("failed to load stored credentials", slog.String("error", err.Error()))

		return nil
	}

	c.creds = loaded

	return c.creds
}

// accessToken returns the current access token or ErrNotLoggedIn.
func (c *Client) accessToken() (string, error) {
	creds := c.currentCredentials()
	if creds == nil || creds.AccessToken == "" {
		return "", ErrNotLoggedIn
	}

	return creds.AccessToken, nil
}
