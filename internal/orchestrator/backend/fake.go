package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// FakeElement describes one selector entry in a FakeBackend page.
type FakeElement struct {
	Count   int
	Visible bool
	Enabled bool
	Checked bool
	Value   string
	Text    string
	Attrs   map[string]string
	Bounds  Rect
}

// FakeBackend is a scriptable in-memory Backend used by tests and by the
// --fake-backend development mode. It keeps a selector table that primitives
// read and mutate, so verification logic observes realistic state changes.
// Safe for concurrent use.
type FakeBackend struct {
	mu       sync.Mutex
	url      string
	elements map[string]*FakeElement
	closed   bool
	calls    []string

	// Latency is applied to every primitive before it runs, simulating a
	// slow engine.
	Latency time.Duration

	// PumpsUntilStable is how many PumpPendingWork ticks must pass after a
	// navigation before Stable reports true. Negative means never stable.
	PumpsUntilStable int
	pendingPumps     int

	// DropTypedInput makes Type report success without updating the element
	// value, so STANDARD verification fails to converge.
	DropTypedInput bool

	// Overrides force a specific outcome for a primitive, keyed by
	// primitive name ("navigate", "click", "type", ...).
	Overrides map[string]Outcome

	// CaptureBytes is returned by Capture. Defaults to a minimal PNG header
	// so artifact sniffing sees an image.
	CaptureBytes []byte
}

// NewFakeBackend returns an empty fake with an about:blank page.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		url:          "about:blank",
		elements:     make(map[string]*FakeElement),
		Overrides:    make(map[string]Outcome),
		CaptureBytes: []byte("\x89PNG\r\n\x1a\nfake"),
	}
}

// AddElement installs an element for the given selector. A count of 0 is
// normalized to 1.
func (f *FakeBackend) AddElement(selector string, el FakeElement) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if el.Count == 0 {
		el.Count = 1
	}
	cp := el
	f.elements[selector] = &cp
}

// Element returns a copy of the element table entry for selector.
func (f *FakeBackend) Element(selector string) (FakeElement, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	el, ok := f.elements[selector]
	if !ok {
		return FakeElement{}, false
	}
	return *el, true
}

// Calls returns the ordered primitive call log.
func (f *FakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Closed reports whether Close has been called.
func (f *FakeBackend) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeBackend) begin(name string, args ...string) {
	f.mu.Lock()
	label := name
	if len(args) > 0 {
		label = name + " " + strings.Join(args, " ")
	}
	f.calls = append(f.calls, label)
	latency := f.Latency
	f.mu.Unlock()
	if latency > 0 {
		time.Sleep(latency)
	}
}

func (f *FakeBackend) override(name string) (Outcome, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.Overrides[name]
	return o, ok
}

func (f *FakeBackend) Navigate(ctx context.Context, url string, wait WaitPolicy, timeout time.Duration) Outcome {
	f.begin("navigate", url)
	if o, ok := f.override("navigate"); ok {
		return o
	}
	f.mu.Lock()
	f.url = url
	f.pendingPumps = f.PumpsUntilStable
	f.mu.Unlock()
	return Outcome{Code: OutcomeOK, URL: url, HTTPStatus: 200}
}

func (f *FakeBackend) Click(ctx context.Context, selector string, params ClickParams) Outcome {
	f.begin("click", selector)
	if o, ok := f.override("click"); ok {
		return o
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if el, ok := f.elements[selector]; ok && el.Attrs != nil {
		// a scripted click effect toggles the data-clicked marker
		el.Attrs["data-clicked"] = "true"
	}
	return Succeeded()
}

func (f *FakeBackend) Type(ctx context.Context, selector, text string, params TypeParams) Outcome {
	f.begin("type", selector)
	if o, ok := f.override("type"); ok {
		return o
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	el, ok := f.elements[selector]
	if !ok {
		return Failed(OutcomeNotFound, fmt.Sprintf("no element matches %q", selector))
	}
	if !f.DropTypedInput {
		if params.Clear {
			el.Value = text
		} else {
			el.Value += text
		}
	}
	return Succeeded()
}

func (f *FakeBackend) Pick(ctx context.Context, selector, value string) Outcome {
	f.begin("pick", selector)
	if o, ok := f.override("pick"); ok {
		return o
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	el, ok := f.elements[selector]
	if !ok {
		return Failed(OutcomeNotFound, fmt.Sprintf("no element matches %q", selector))
	}
	el.Value = value
	return Succeeded()
}

func (f *FakeBackend) Scroll(ctx context.Context, deltaX, deltaY int) Outcome {
	f.begin("scroll")
	if o, ok := f.override("scroll"); ok {
		return o
	}
	return Succeeded()
}

func (f *FakeBackend) Hover(ctx context.Context, selector string) Outcome {
	f.begin("hover", selector)
	if o, ok := f.override("hover"); ok {
		return o
	}
	return Succeeded()
}

func (f *FakeBackend) Upload(ctx context.Context, selector string, paths []string) Outcome {
	f.begin("upload", selector)
	if o, ok := f.override("upload"); ok {
		return o
	}
	return Succeeded()
}

func (f *FakeBackend) Evaluate(ctx context.Context, script string, returnValue bool) (string, Outcome) {
	f.begin("evaluate")
	if o, ok := f.override("evaluate"); ok {
		return "", o
	}
	if !returnValue {
		return "", Succeeded()
	}
	return "undefined", Succeeded()
}

func (f *FakeBackend) QueryState(ctx context.Context, selector string) (ElementState, Outcome) {
	f.begin("query_state", selector)
	if o, ok := f.override("query_state"); ok {
		return ElementState{}, o
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	el, ok := f.elements[selector]
	if !ok {
		return ElementState{}, Succeeded()
	}
	attrs := make(map[string]string, len(el.Attrs))
	for k, v := range el.Attrs {
		attrs[k] = v
	}
	return ElementState{
		Count:   el.Count,
		Visible: el.Visible,
		Enabled: el.Enabled,
		Checked: el.Checked,
		Value:   el.Value,
		Text:    el.Text,
		Attrs:   attrs,
		Bounds:  el.Bounds,
	}, Succeeded()
}

func (f *FakeBackend) Capture(ctx context.Context, mode CaptureMode) ([]byte, Outcome) {
	f.begin("capture", string(mode))
	if o, ok := f.override("capture"); ok {
		return nil, o
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.CaptureBytes...), Succeeded()
}

func (f *FakeBackend) PumpPendingWork() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pendingPumps > 0 {
		f.pendingPumps--
	}
}

func (f *FakeBackend) Stable(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PumpsUntilStable < 0 {
		return false
	}
	return f.pendingPumps == 0
}

func (f *FakeBackend) CurrentURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url
}

func (f *FakeBackend) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// FakeFactory creates FakeBackends, applying Configure to each new instance
// when set. It records every backend it hands out.
type FakeFactory struct {
	mu        sync.Mutex
	created   []*FakeBackend
	profiles  []Profile
	Configure func(*FakeBackend)

	// NewErr, when set, is returned by New instead of a backend.
	NewErr error
}

// New implements Factory.
func (ff *FakeFactory) New(ctx context.Context, profile Profile) (Backend, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if ff.NewErr != nil {
		return nil, ff.NewErr
	}
	fb := NewFakeBackend()
	if ff.Configure != nil {
		ff.Configure(fb)
	}
	ff.created = append(ff.created, fb)
	ff.profiles = append(ff.profiles, profile)
	return fb, nil
}

// Shutdown implements Factory.
func (ff *FakeFactory) Shutdown() error {
	return nil
}

// Profiles returns the profile passed to each New call, in order.
func (ff *FakeFactory) Profiles() []Profile {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return append([]Profile(nil), ff.profiles...)
}

// Created returns every backend the factory has produced, in order.
func (ff *FakeFactory) Created() []*FakeBackend {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return append([]*FakeBackend(nil), ff.created...)
}
