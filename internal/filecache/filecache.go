// Package filecache talks to the external blob service holding client
// attachments and avatars.
package filecache

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Client calls the file cache's management API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a file cache client for the given base URL.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// DeleteAccount removes all blobs stored for the client. A cache that never
// heard of the client answers 404, which counts as success.
func (c *Client) DeleteAccount(ctx context.Context, clientID string) error {
	u := c.baseURL + "/accounts/" + url.PathEscape(clientID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("file cache delete %s: %w", clientID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("file cache delete %s: status %d", clientID, resp.StatusCode)
	}
	return nil
}
