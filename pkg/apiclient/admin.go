package apiclient

import (
	"context"

	"github.com/marmos91/dittonn/pkg/api/handlers"
	"github.com/marmos91/dittonn/pkg/metadata/namenode"
)

// HealthStatus is the decoded body of the health endpoints.
type HealthStatus = handlers.Response

// Health queries the primary's readiness probe. A primary that is up but
// not ready returns an error carrying the reason.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var resp HealthStatus
	if err := c.get(ctx, "/health/ready", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status returns the primary's persistent state.
func (c *Client) Status(ctx context.Context) (*namenode.Status, error) {
	var st namenode.Status
	if err := c.get(ctx, "/admin/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// SafeMode reports whether the primary refuses mutations.
func (c *Client) SafeMode(ctx context.Context) (bool, error) {
	var resp handlers.SafeModeResponse
	if err := c.get(ctx, "/admin/safemode", &resp); err != nil {
		return false, err
	}
	return resp.Enabled, nil
}

// SetSafeMode enters or leaves safe mode.
func (c *Client) SetSafeMode(ctx context.Context, on bool) (bool, error) {
	var resp handlers.SafeModeResponse
	if err := c.put(ctx, "/admin/safemode", handlers.SafeModeRequest{Enabled: on}, &resp); err != nil {
		return false, err
	}
	return resp.Enabled, nil
}

// SaveNamespace writes a fresh image to every image directory and empties
// the edit log. The primary must be in safe mode.
func (c *Client) SaveNamespace(ctx context.Context) (*namenode.Status, error) {
	var st namenode.Status
	if err := c.post(ctx, "/admin/save-namespace", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// RestoreDirectory re-admits a previously removed storage directory.
func (c *Client) RestoreDirectory(ctx context.Context, root string) (*namenode.Status, error) {
	var st namenode.Status
	if err := c.post(ctx, "/admin/restore", handlers.RestoreRequest{Root: root}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
