package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// ServerVersion reports the orchestrator's version strings.
type ServerVersion struct {
	ServerVersion string `json:"serverVersion"`
	ApiVersion    string `json:"apiVersion"`
}

// Version fetches the server's version information.
func (c *Client) Version(ctx context.Context) (ServerVersion, error) {
	var v ServerVersion
	raw, err := c.get(ctx, "/version")
	if err != nil {
		return v, err
	}
	err = json.Unmarshal(raw, &v)
	return v, err
}

// Readiness is the server's health report.
type Readiness struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// Ready fetches the server's readiness state and live session count.
func (c *Client) Ready(ctx context.Context) (Readiness, error) {
	var r Readiness
	raw, err := c.get(ctx, "/ready")
	if err != nil {
		return r, err
	}
	err = json.Unmarshal(raw, &r)
	return r, err
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	rsp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer rsp.Body.Close()
	raw, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, err
	}
	if rsp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %d: %s", rsp.StatusCode, string(raw))
	}
	return raw, nil
}
