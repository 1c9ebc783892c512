// Package executor runs one primitive browser action against a session and
// returns a single action.Result, applying the verification protocol for the
// requested level. The executor never retries whole actions and never throws:
// every outcome, including failures, resolves into a Result.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/charterhq/charter/internal/orchestrator/action"
	"github.com/charterhq/charter/internal/orchestrator/backend"
	"github.com/charterhq/charter/internal/orchestrator/registry"
)

// Kind names the primitive an Action performs.
type Kind string

const (
	KindNavigate   Kind = "navigate"
	KindClick      Kind = "click"
	KindType       Kind = "type"
	KindPick       Kind = "pick"
	KindScroll     Kind = "scroll"
	KindHover      Kind = "hover"
	KindUpload     Kind = "upload"
	KindEvaluate   Kind = "evaluate"
	KindQuery      Kind = "query"
	KindCapture    Kind = "capture"
	KindWaitStable Kind = "wait_stable"
)

// Action is one primitive to execute. Only the fields relevant to Kind are
// consulted.
type Action struct {
	Kind     Kind
	Selector string
	URL      string
	Text     string
	Value    string
	Script   string
	Return   bool
	Paths    []string
	DeltaX   int
	DeltaY   int
	Mode     backend.CaptureMode
	Wait     backend.WaitPolicy
	Button   string
	Clicks   int
	Clear    bool

	// Timeout bounds the primitive itself; zero selects the backend
	// default.
	Timeout time.Duration
}

// Options tunes the verification windows.
type Options struct {
	// VerifyWindow bounds the post-condition polling at STANDARD and above.
	VerifyWindow time.Duration
	// PollInterval is the delay between post-condition probes.
	PollInterval time.Duration
	// StabilizeWindow bounds the STRICT document/network quiescence wait.
	StabilizeWindow time.Duration
}

func (o *Options) withDefaults() {
	if o.VerifyWindow <= 0 {
		o.VerifyWindow = 2 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 50 * time.Millisecond
	}
	if o.StabilizeWindow <= 0 {
		o.StabilizeWindow = 5 * time.Second
	}
}

// Executor executes actions. Safe for concurrent use; each call touches only
// the session it is given.
type Executor struct {
	opts Options
}

// New creates an Executor.
func New(opts Options) *Executor {
	opts.withDefaults()
	return &Executor{opts: opts}
}

// interactive reports whether the kind requires an enabled target element.
func (k Kind) interactive() bool {
	switch k {
	case KindClick, KindType, KindPick, KindUpload:
		return true
	}
	return false
}

// needsSelector reports whether the kind targets a selector at all.
func (k Kind) needsSelector() bool {
	switch k {
	case KindClick, KindType, KindPick, KindHover, KindUpload, KindQuery:
		return true
	}
	return false
}

// Do executes one action at the given verification level and returns its
// Result. A nil session fails fast with browser_not_found before any
// verification logic runs. Unexpected internal conditions resolve to
// internal_error rather than propagating.
func (e *Executor) Do(ctx context.Context, sess *registry.Session, act Action, level action.VerificationLevel) (result action.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Ctx(ctx).Error().Str("panic", fmt.Sprintf("%v", r)).Msg("action executor panic")
			result = action.NewResult(action.StatusInternalError, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if sess == nil {
		return action.NewResult(action.StatusBrowserNotFound, "session does not exist")
	}

	sess.BeginOp()
	defer sess.EndOp()

	be := sess.Backend()

	// Pre-condition check at BASIC and above, for selector-targeted kinds.
	if level.AtLeast(action.VerifyBasic) && act.Kind.needsSelector() && act.Kind != KindQuery {
		if res, ok := e.precheck(ctx, be, act); !ok {
			return res
		}
	}

	// Snapshot pre-state for post-condition comparison before firing.
	var pre postState
	if level.AtLeast(action.VerifyStandard) {
		pre = e.snapshot(ctx, be, act)
	}

	res := e.fire(ctx, be, act)
	if !res.Success {
		return res
	}

	if level.AtLeast(action.VerifyStandard) {
		// Any non-ok post-check status wins over the primitive's ok,
		// including verification_timeout, which stays a soft success.
		if v, checked := e.postcheck(ctx, be, act, pre); checked && v.Status != action.StatusOK {
			return mergeContext(v, res)
		} else if checked {
			res = mergeContext(res, v)
		}
	}

	if level.AtLeast(action.VerifyStrict) {
		if stable := e.waitStable(ctx, be); !stable {
			// The action fired and its post-condition held; only the
			// surrounding document failed to settle in time. Soft success.
			return action.NewResult(action.StatusVerificationTimeout,
				"action completed but document did not stabilize within the window").
				WithSelector(act.Selector).
				WithURL(be.CurrentURL())
		}
	}

	return res
}

// mergeContext folds post-check context fields into the primary result.
func mergeContext(res, verify action.Result) action.Result {
	if res.URL == "" {
		res.URL = verify.URL
	}
	if res.ElementCount == 0 {
		res.ElementCount = verify.ElementCount
	}
	if res.HTTPStatus == 0 {
		res.HTTPStatus = verify.HTTPStatus
	}
	return res
}

// precheck confirms the target element exists, is unambiguous, visible, and
// (for interactive kinds) enabled. Returns ok=false with the failure result.
func (e *Executor) precheck(ctx context.Context, be backend.Backend, act Action) (action.Result, bool) {
	state, out := be.QueryState(ctx, act.Selector)
	if !out.OK() {
		return e.mapOutcome(act, out), false
	}
	switch {
	case state.Count == 0:
		return action.NewResult(action.StatusElementNotFound,
			fmt.Sprintf("no element matches selector %q", act.Selector)).
			WithSelector(act.Selector).WithElementCount(0), false
	case state.Count > 1:
		// An ambiguous selector is always an error, never "pick the first".
		return action.NewResult(action.StatusMultipleElements,
			fmt.Sprintf("selector %q matches %d elements", act.Selector, state.Count)).
			WithSelector(act.Selector).WithElementCount(state.Count), false
	case !state.Visible:
		return action.NewResult(action.StatusElementNotVisible,
			fmt.Sprintf("element %q is not visible", act.Selector)).
			WithSelector(act.Selector).WithElementCount(1), false
	case act.Kind.interactive() && !state.Enabled:
		return action.NewResult(action.StatusElementNotInteractable,
			fmt.Sprintf("element %q is not interactable", act.Selector)).
			WithSelector(act.Selector).WithElementCount(1), false
	}
	return action.Result{}, true
}

// fire executes the primitive and maps its outcome, with no verification.
func (e *Executor) fire(ctx context.Context, be backend.Backend, act Action) action.Result {
	switch act.Kind {
	case KindNavigate:
		out := be.Navigate(ctx, act.URL, act.Wait, act.Timeout)
		if !out.OK() {
			return e.mapOutcome(act, out)
		}
		return action.OK("navigation committed").WithURL(out.URL).WithHTTPStatus(out.HTTPStatus)

	case KindClick:
		out := be.Click(ctx, act.Selector, backend.ClickParams{
			Button:     act.Button,
			ClickCount: act.Clicks,
			Timeout:    act.Timeout,
		})
		if !out.OK() {
			return e.mapOutcome(act, out)
		}
		return action.OK("click dispatched").WithSelector(act.Selector).WithURL(out.URL)

	case KindType:
		out := be.Type(ctx, act.Selector, act.Text, backend.TypeParams{
			Clear:   act.Clear,
			Timeout: act.Timeout,
		})
		if !out.OK() {
			return e.mapOutcome(act, out)
		}
		return action.OK("text entered").WithSelector(act.Selector)

	case KindPick:
		out := be.Pick(ctx, act.Selector, act.Value)
		if !out.OK() {
			return e.mapOutcome(act, out)
		}
		return action.OK("option selected").WithSelector(act.Selector)

	case KindScroll:
		out := be.Scroll(ctx, act.DeltaX, act.DeltaY)
		if !out.OK() {
			return e.mapOutcome(act, out)
		}
		return action.OK("scrolled")

	case KindHover:
		out := be.Hover(ctx, act.Selector)
		if !out.OK() {
			return e.mapOutcome(act, out)
		}
		return action.OK("hover dispatched").WithSelector(act.Selector)

	case KindUpload:
		out := be.Upload(ctx, act.Selector, act.Paths)
		if !out.OK() {
			return e.mapOutcome(act, out)
		}
		return action.OK("files attached").WithSelector(act.Selector)

	case KindEvaluate:
		value, out := be.Evaluate(ctx, act.Script, act.Return)
		if !out.OK() {
			return e.mapOutcome(act, out)
		}
		return action.OK("script evaluated").WithValue(value)

	case KindQuery:
		state, out := be.QueryState(ctx, act.Selector)
		if !out.OK() {
			return e.mapOutcome(act, out)
		}
		if state.Count == 0 {
			return action.NewResult(action.StatusElementNotFound,
				fmt.Sprintf("no element matches selector %q", act.Selector)).
				WithSelector(act.Selector).WithElementCount(0)
		}
		return action.OK("state captured").
			WithSelector(act.Selector).
			WithElementCount(state.Count).
			WithValue(map[string]any{
				"visible": state.Visible,
				"enabled": state.Enabled,
				"checked": state.Checked,
				"value":   state.Value,
				"text":    state.Text,
				"attrs":   state.Attrs,
				"bounds":  state.Bounds,
			})

	case KindCapture:
		mode := act.Mode
		if mode == "" {
			mode = backend.CaptureViewport
		}
		data, out := be.Capture(ctx, mode)
		if !out.OK() {
			return e.mapOutcome(act, out)
		}
		return action.OK("capture complete").WithValue(data)

	case KindWaitStable:
		window := act.Timeout
		if window <= 0 {
			window = e.opts.StabilizeWindow
		}
		if !e.waitStableFor(ctx, be, window) {
			return action.NewResult(action.StatusStabilizeTimeout,
				"document did not stabilize within the window")
		}
		return action.OK("document stable")

	default:
		return action.NewResult(action.StatusInvalidArgument,
			fmt.Sprintf("unknown action kind %q", act.Kind))
	}
}

// mapOutcome translates a backend outcome into the action status taxonomy,
// specialized by kind so execution failures carry action-specific codes.
func (e *Executor) mapOutcome(act Action, out backend.Outcome) action.Result {
	status := action.StatusInternalError
	switch out.Code {
	case backend.OutcomeNotFound:
		status = action.StatusElementNotFound
	case backend.OutcomeNetwork:
		status = action.StatusNetworkError
	case backend.OutcomeHTTPError:
		status = action.StatusHTTPError
	case backend.OutcomeIntercepted:
		status = action.StatusClickIntercepted
	case backend.OutcomePartial:
		status = action.StatusTypePartial
	case backend.OutcomeTimeout:
		switch act.Kind {
		case KindNavigate:
			status = action.StatusNavigationTimeout
		case KindClick:
			status = action.StatusClickTimeout
		case KindEvaluate:
			status = action.StatusScriptTimeout
		default:
			status = action.StatusLoadTimeout
		}
	case backend.OutcomeError:
		switch act.Kind {
		case KindNavigate:
			status = action.StatusNavigationFailed
		case KindType:
			status = action.StatusTypeFailed
		case KindPick:
			status = action.StatusPickFailed
		case KindScroll:
			status = action.StatusScrollFailed
		case KindHover:
			status = action.StatusHoverFailed
		case KindUpload:
			status = action.StatusUploadFailed
		case KindEvaluate:
			status = action.StatusScriptError
		case KindCapture:
			status = action.StatusCaptureFailed
		default:
			status = action.StatusInternalError
		}
	}
	msg := out.Message
	if msg == "" {
		msg = string(out.Code)
	}
	res := action.NewResult(status, msg).
		WithSelector(act.Selector).
		WithErrorCode(out.ErrorCode)
	if out.URL != "" {
		res = res.WithURL(out.URL)
	}
	if out.HTTPStatus != 0 {
		res = res.WithHTTPStatus(out.HTTPStatus)
	}
	return res
}
