// Package backend defines the contract between the orchestrator core and the
// rendering engine that actually performs DOM, script, and network work. The
// core calls these primitives synchronously and models asynchrony with
// timeouts and polling; backends never call back into the core.
package backend

import (
	"context"
	"time"
)

// OutcomeCode classifies the result of a single backend primitive. The
// executor maps these onto the action status taxonomy; backends report what
// happened and nothing more.
type OutcomeCode string

const (
	OutcomeOK          OutcomeCode = "ok"
	OutcomeNotFound    OutcomeCode = "not_found"
	OutcomeTimeout     OutcomeCode = "timeout"
	OutcomeIntercepted OutcomeCode = "intercepted"
	OutcomePartial     OutcomeCode = "partial"
	OutcomeNetwork     OutcomeCode = "network"
	OutcomeHTTPError   OutcomeCode = "http_error"
	OutcomeError       OutcomeCode = "error"
)

// Outcome is the synchronous result of one primitive call.
type Outcome struct {
	Code       OutcomeCode
	Message    string
	URL        string // final URL after the primitive, when known
	HTTPStatus int    // HTTP status for navigations, when known
	ErrorCode  string // engine-specific error identifier, when known
}

// OK reports whether the primitive itself completed.
func (o Outcome) OK() bool {
	return o.Code == OutcomeOK
}

// Succeeded returns an OK outcome.
func Succeeded() Outcome {
	return Outcome{Code: OutcomeOK}
}

// Failed returns an outcome with the given code and message.
func Failed(code OutcomeCode, message string) Outcome {
	return Outcome{Code: code, Message: message}
}

// WaitPolicy names how long a navigation waits before it is considered done.
type WaitPolicy string

const (
	WaitNone             WaitPolicy = "none"
	WaitDOMContentLoaded WaitPolicy = "domcontentloaded"
	WaitLoad             WaitPolicy = "load"
	WaitNetworkIdle      WaitPolicy = "networkidle"
)

// CaptureMode selects what Capture renders.
type CaptureMode string

const (
	CaptureViewport CaptureMode = "viewport"
	CaptureFullPage CaptureMode = "fullpage"
)

// ElementState is a point-in-time snapshot of the elements a selector
// matches. Count covers every match; the remaining fields describe the first
// match when Count > 0.
type ElementState struct {
	Count   int
	Visible bool
	Enabled bool
	Checked bool
	Value   string // current input value, for form controls
	Text    string // text content
	Attrs   map[string]string
	Bounds  Rect
}

// Exists reports whether the selector matched anything.
func (s ElementState) Exists() bool {
	return s.Count > 0
}

// Rect is an element bounding box in page coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ClickParams carries optional click behavior.
type ClickParams struct {
	Button     string // left, right, middle; empty means left
	ClickCount int    // 0 means 1
	Timeout    time.Duration
}

// TypeParams carries optional typing behavior.
type TypeParams struct {
	Clear   bool // clear the field before typing
	Timeout time.Duration
}

// Backend is the per-session rendering engine handle. All calls are
// synchronous; long-running engine work progresses only while
// PumpPendingWork is invoked.
type Backend interface {
	Navigate(ctx context.Context, url string, wait WaitPolicy, timeout time.Duration) Outcome
	Click(ctx context.Context, selector string, params ClickParams) Outcome
	Type(ctx context.Context, selector, text string, params TypeParams) Outcome
	Pick(ctx context.Context, selector, value string) Outcome
	Scroll(ctx context.Context, deltaX, deltaY int) Outcome
	Hover(ctx context.Context, selector string) Outcome
	Upload(ctx context.Context, selector string, paths []string) Outcome
	Evaluate(ctx context.Context, script string, returnValue bool) (string, Outcome)
	QueryState(ctx context.Context, selector string) (ElementState, Outcome)
	Capture(ctx context.Context, mode CaptureMode) ([]byte, Outcome)

	// PumpPendingWork gives the engine one non-blocking progress tick for
	// previously started asynchronous work such as an in-flight navigation.
	PumpPendingWork()

	// Stable reports whether the document and network are quiescent: no
	// in-flight navigation and no pending network activity.
	Stable(ctx context.Context) bool

	// CurrentURL returns the last committed URL, or an empty string before
	// the first navigation.
	CurrentURL() string

	Close(ctx context.Context) error
}

// Profile carries the per-session configuration the orchestrator does not
// interpret: proxy settings and fingerprint blobs are owned by external
// collaborators and handed through untouched.
type Profile struct {
	Proxy          map[string]any `json:"proxy,omitempty"`
	Fingerprint    map[string]any `json:"fingerprint,omitempty"`
	Headless       bool           `json:"headless"`
	BlockResources bool           `json:"block_resources"`
}

// Factory creates per-session backends. A single factory instance is shared
// by the whole orchestrator and must be safe for concurrent use.
type Factory interface {
	New(ctx context.Context, profile Profile) (Backend, error)
	Shutdown() error
}
