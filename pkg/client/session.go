package client

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"
)

// CreateOptions configures a new browser session.
type CreateOptions struct {
	Proxy          map[string]any
	Fingerprint    map[string]any
	Headless       *bool
	BlockResources bool
	Verification   string
}

// CreateSession creates a new session and returns its context ID.
func (c *Client) CreateSession(ctx context.Context, opts CreateOptions) (string, error) {
	params := map[string]any{}
	if opts.Proxy != nil {
		params["proxy"] = opts.Proxy
	}
	if opts.Fingerprint != nil {
		params["fingerprint"] = opts.Fingerprint
	}
	if opts.Headless != nil {
		params["headless"] = *opts.Headless
	}
	if opts.BlockResources {
		params["block_resources"] = true
	}
	if opts.Verification != "" {
		params["verification"] = opts.Verification
	}
	result, err := c.Do(ctx, "create", "", params)
	if err != nil {
		return "", err
	}
	if !result.Success {
		return "", fmt.Errorf("create failed: %s: %s", result.Status, result.Message)
	}
	if result.ContextID == "" {
		return "", fmt.Errorf("create succeeded but no context ID returned")
	}
	return result.ContextID, nil
}

// CloseSession tears down a session. Closing an unknown or already-closed
// session is not an error.
func (c *Client) CloseSession(ctx context.Context, contextID string) (Result, error) {
	return c.Do(ctx, "close", contextID, nil)
}

// Release marks a session as no longer in active use, making it eligible
// for idle cleanup.
func (c *Client) Release(ctx context.Context, contextID string) (Result, error) {
	return c.Do(ctx, "release", contextID, nil)
}

// SessionInfo describes one live session as reported by List.
type SessionInfo struct {
	ContextID string `json:"context_id"`
	CreatedAt string `json:"created_at"`
	IdleMs    int64  `json:"idle_ms"`
	InUse     bool   `json:"in_use"`
	ActiveOps int    `json:"active_ops"`
}

// List returns the live sessions on the orchestrator.
func (c *Client) List(ctx context.Context) ([]SessionInfo, error) {
	raw, err := c.DoRaw(ctx, "list", "", nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Sessions []SessionInfo `json:"sessions"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decoding session list: %w", err)
	}
	return payload.Sessions, nil
}

// Navigate loads a URL in the session's page.
func (c *Client) Navigate(ctx context.Context, contextID, url string) (Result, error) {
	return c.Do(ctx, "navigate", contextID, map[string]any{"url": url})
}

// Click clicks the first element matching the selector.
func (c *Client) Click(ctx context.Context, contextID, selector string) (Result, error) {
	return c.Do(ctx, "click", contextID, map[string]any{"selector": selector})
}

// Type enters text into the element matching the selector.
func (c *Client) Type(ctx context.Context, contextID, selector, text string) (Result, error) {
	return c.Do(ctx, "type", contextID, map[string]any{"selector": selector, "text": text})
}

// Pick selects an option by value in the control matching the selector.
func (c *Client) Pick(ctx context.Context, contextID, selector, value string) (Result, error) {
	return c.Do(ctx, "pick", contextID, map[string]any{"selector": selector, "value": value})
}

// Hover moves the pointer over the element matching the selector.
func (c *Client) Hover(ctx context.Context, contextID, selector string) (Result, error) {
	return c.Do(ctx, "hover", contextID, map[string]any{"selector": selector})
}

// Scroll scrolls the page by the given deltas in pixels.
func (c *Client) Scroll(ctx context.Context, contextID string, deltaX, deltaY int) (Result, error) {
	return c.Do(ctx, "scroll", contextID, map[string]any{"delta_x": deltaX, "delta_y": deltaY})
}

// Upload attaches local file paths to the file input matching the selector.
// The paths must be visible to the orchestrator, not the caller.
func (c *Client) Upload(ctx context.Context, contextID, selector string, paths []string) (Result, error) {
	return c.Do(ctx, "upload", contextID, map[string]any{"selector": selector, "paths": paths})
}

// Query looks up the first element matching the selector without touching it.
func (c *Client) Query(ctx context.Context, contextID, selector string) (Result, error) {
	return c.Do(ctx, "query", contextID, map[string]any{"selector": selector})
}

// Evaluate runs a script in the page and optionally returns its value.
func (c *Client) Evaluate(ctx context.Context, contextID, script string, returnValue bool) (Result, error) {
	return c.Do(ctx, "evaluate", contextID, map[string]any{"script": script, "return": returnValue})
}

// Capture takes a screenshot and returns the decoded image bytes along with
// the full result, which carries the server-side artifact path when audit
// capture is enabled.
func (c *Client) Capture(ctx context.Context, contextID, mode string) ([]byte, Result, error) {
	params := map[string]any{}
	if mode != "" {
		params["mode"] = mode
	}
	result, err := c.Do(ctx, "capture", contextID, params)
	if err != nil {
		return nil, Result{}, err
	}
	if !result.Success {
		return nil, result, nil
	}
	encoded := ""
	switch v := result.Value.(type) {
	case string:
		encoded = v
	case map[string]any:
		encoded, _ = v["data"].(string)
	}
	if encoded == "" {
		return nil, result, fmt.Errorf("capture result carries no image data")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, result, fmt.Errorf("decoding image data: %w", err)
	}
	return data, result, nil
}

// WaitStable blocks until the page reaches a quiet state or the timeout
// elapses. A zero timeout uses the server default.
func (c *Client) WaitStable(ctx context.Context, contextID string, timeout time.Duration) (Result, error) {
	params := map[string]any{}
	if timeout > 0 {
		params["timeout_ms"] = timeout.Milliseconds()
	}
	return c.Do(ctx, "wait_stable", contextID, params)
}
