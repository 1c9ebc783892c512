// Package client provides a Go client for the charterd command API.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Result is the outcome of one command, mirroring the server's reply shape.
type Result struct {
	Success      bool   `json:"success"`
	Status       string `json:"status"`
	Message      string `json:"message"`
	Selector     string `json:"selector,omitempty"`
	URL          string `json:"url,omitempty"`
	HTTPStatus   int    `json:"http_status,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ElementCount int    `json:"element_count,omitempty"`
	Value        any    `json:"value,omitempty"`
	ContextID    string `json:"context_id,omitempty"`
}

// IsSoftSuccess reports whether the result is the unconfirmed-success case:
// the action fired but its effect could not be verified within the window.
func (r Result) IsSoftSuccess() bool {
	return r.Success && r.Status == "verification_timeout"
}

// ClientOption configures client behavior.
type ClientOption func(*clientConfig)

type clientConfig struct {
	token      string
	timeout    time.Duration
	maxRetries uint
	retryDelay time.Duration
}

// WithToken sets the bearer token attached to every request.
func WithToken(token string) ClientOption {
	return func(c *clientConfig) {
		c.token = token
	}
}

// WithTimeout sets the per-request timeout. Commands at strict verification
// can legitimately take several seconds.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

// WithMaxRetries sets how many times transport-level failures are retried.
// Command-level failures are never retried; a failed action is a result, not
// a transport error.
func WithMaxRetries(maxRetries uint) ClientOption {
	return func(c *clientConfig) {
		c.maxRetries = maxRetries
	}
}

// WithRetryDelay sets the base delay between retry attempts.
func WithRetryDelay(delay time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.retryDelay = delay
	}
}

// Client talks to a charterd instance over its HTTP command endpoint.
// Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	config     clientConfig
	nextID     atomic.Int64
}

// New creates a Client for the given base URL, e.g. "http://127.0.0.1:8911".
func New(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	config := clientConfig{
		timeout:    30 * time.Second,
		maxRetries: 3,
		retryDelay: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Client{
		httpClient: &http.Client{Timeout: config.timeout},
		baseURL:    baseURL,
		config:     config,
	}, nil
}

type request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
}

type response struct {
	ID     int64               `json:"id"`
	Result jsoniter.RawMessage `json:"result"`
	Error  string              `json:"error"`
}

// Do executes one command and decodes its result. contextID may be empty
// for session-independent methods. A non-nil error means the command never
// produced a result: transport failure, protocol error, or a cancelled
// context. Action failures come back inside the Result.
func (c *Client) Do(ctx context.Context, method, contextID string, params map[string]any) (Result, error) {
	raw, err := c.DoRaw(ctx, method, contextID, params)
	if err != nil {
		return Result{}, err
	}
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return Result{}, fmt.Errorf("decoding result: %w", err)
	}
	return result, nil
}

// DoRaw executes one command and returns the undecoded result payload.
// Needed for methods whose result is not action-shaped, such as list.
func (c *Client) DoRaw(ctx context.Context, method, contextID string, params map[string]any) (jsoniter.RawMessage, error) {
	body := map[string]any{
		"id":     c.nextID.Add(1),
		"method": method,
	}
	if contextID != "" {
		body["context_id"] = contextID
	}
	for k, v := range params {
		body[k] = v
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding command: %w", err)
	}

	var raw []byte
	err = retry.Do(func() error {
		var rerr error
		raw, rerr = c.post(ctx, encoded)
		return rerr
	},
		retry.Attempts(c.config.maxRetries),
		retry.Delay(c.config.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		return nil, err
	}

	var rsp response
	if err := json.Unmarshal(raw, &rsp); err != nil {
		return nil, fmt.Errorf("decoding reply: %w", err)
	}
	if rsp.Error != "" {
		return nil, fmt.Errorf("command %s rejected: %s", method, rsp.Error)
	}
	return rsp.Result, nil
}

func (c *Client) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/commands", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.token)
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
