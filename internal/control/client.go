// internal/control/client.go
package control

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	json "github.com/json-iterator/go"

	"github.com/zacharyisnthere/who-owns-you/internal/preference"
)

// Client talks to a running control endpoint.
type Client struct {
	base string
	http *http.Client
}

// NewClient targets addr, given as host:port or a full base URL.
func NewClient(addr string, hc *http.Client) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: strings.TrimRight(addr, "/"), http: hc}
}

func (c *Client) State(ctx context.Context) (preference.State, error) {
	return c.do(ctx, http.MethodGet, "/state", nil)
}

func (c *Client) Set(ctx context.Context, enabled bool) (preference.State, error) {
	body, err := json.Marshal(StateRequest{Enabled: &enabled})
	if err != nil {
		return preference.State{}, err
	}
	return c.do(ctx, http.MethodPut, "/state", body)
}

func (c *Client) Toggle(ctx context.Context) (preference.State, error) {
	return c.do(ctx, http.MethodPost, "/toggle", nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (preference.State, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return preference.State{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return preference.State{}, fmt.Errorf("control request failed: %w", err)
	}
	defer resp.Body.Close()

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return preference.State{}, fmt.Errorf("failed to decode control response (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || out.Data == nil {
		return preference.State{}, fmt.Errorf("control endpoint returned HTTP %d: %s", resp.StatusCode, out.Error)
	}
	return preference.State{Enabled: out.Data.Enabled, Sequence: out.Data.Sequence}, nil
}
