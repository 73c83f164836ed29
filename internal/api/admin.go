package api

import (
	"context"
	"net/http"
)

// ClearOptimizeCache invalidates the backend's optimization result cache.
// Admin-only; the backend enforces the role, the client just routes the
// call through the usual session wrapper.
func (c *Client) ClearOptimizeCache(ctx context.Context) error {
	resp, err := c.Do(ctx, http.MethodDelete, "/api/portfolio/optimize/cache", nil)
	if err != nil {
		return err
	}

	resp.Body.Close()

	return nil
}
