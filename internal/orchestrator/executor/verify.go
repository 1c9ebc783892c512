package executor

import (
	"context"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"

	"github.com/charterhq/charter/internal/orchestrator/action"
	"github.com/charterhq/charter/internal/orchestrator/backend"
)

var errNotConverged = errors.New("post-condition not yet observed")

// postState is what the actioned page looked like before the primitive
// fired. Post-checks converge when the relevant part of it changes.
type postState struct {
	url     string
	element backend.ElementState
	hasEl   bool
}

// snapshot captures pre-state for the kinds that have a post-condition.
func (e *Executor) snapshot(ctx context.Context, be backend.Backend, act Action) postState {
	st := postState{url: be.CurrentURL()}
	if act.Kind == KindClick && act.Selector != "" {
		if el, out := be.QueryState(ctx, act.Selector); out.OK() {
			st.element = el
			st.hasEl = true
		}
	}
	return st
}

// postcheck polls until the expected state change is observed or the verify
// window closes. checked is false for kinds with no post-condition. A check
// still pending exactly at the deadline resolves to verification_timeout,
// the soft success, never to a hard failure.
func (e *Executor) postcheck(ctx context.Context, be backend.Backend, act Action, pre postState) (action.Result, bool) {
	var probe func() bool
	switch act.Kind {
	case KindNavigate:
		probe = func() bool { return navigationCommitted(be, act, pre) }
	case KindClick:
		probe = func() bool { return clickHadEffect(ctx, be, act, pre) }
	case KindType:
		probe = func() bool { return typedTextPresent(ctx, be, act) }
	case KindPick:
		probe = func() bool { return pickedValuePresent(ctx, be, act) }
	default:
		// scroll, hover, upload, evaluate, query, capture carry no
		// post-condition beyond the primitive outcome.
		return action.Result{}, false
	}

	attempts := uint(e.opts.VerifyWindow/e.opts.PollInterval) + 1
	err := retry.Do(
		func() error {
			be.PumpPendingWork()
			if probe() {
				return nil
			}
			return errNotConverged
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(e.opts.PollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return action.NewResult(action.StatusVerificationTimeout,
			"action fired but its effect was not confirmed within the verify window").
			WithSelector(act.Selector).
			WithURL(be.CurrentURL()), true
	}
	return action.OK("verified").WithSelector(act.Selector).WithURL(be.CurrentURL()), true
}

// waitStable blocks until the backend reports document/network quiescence or
// the stabilize window closes.
func (e *Executor) waitStable(ctx context.Context, be backend.Backend) bool {
	return e.waitStableFor(ctx, be, e.opts.StabilizeWindow)
}

func (e *Executor) waitStableFor(ctx context.Context, be backend.Backend, window time.Duration) bool {
	attempts := uint(window/e.opts.PollInterval) + 1
	err := retry.Do(
		func() error {
			be.PumpPendingWork()
			if be.Stable(ctx) {
				return nil
			}
			return errNotConverged
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(e.opts.PollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	return err == nil
}

// navigationCommitted holds when the page reports the requested URL (or any
// URL change for redirects away from the pre-navigation page).
func navigationCommitted(be backend.Backend, act Action, pre postState) bool {
	current := be.CurrentURL()
	if current == "" {
		return false
	}
	if current == act.URL || strings.HasPrefix(current, act.URL) {
		return true
	}
	return current != pre.url
}

// clickHadEffect holds when the click produced an observable DOM or
// navigation effect: the URL changed, the element disappeared, or its
// state/attributes changed.
func clickHadEffect(ctx context.Context, be backend.Backend, act Action, pre postState) bool {
	if be.CurrentURL() != pre.url {
		return true
	}
	if !pre.hasEl {
		// No pre-state to compare against; the primitive outcome is all
		// the confirmation available.
		return true
	}
	el, out := be.QueryState(ctx, act.Selector)
	if !out.OK() {
		return false
	}
	if el.Count == 0 {
		return true // element removed by the click
	}
	return el.Checked != pre.element.Checked ||
		el.Value != pre.element.Value ||
		el.Text != pre.element.Text ||
		!attrsEqual(el.Attrs, pre.element.Attrs)
}

// typedTextPresent holds when the field value reflects the typed text.
// Both sides are NFC-normalized so composed and decomposed input compare
// equal.
func typedTextPresent(ctx context.Context, be backend.Backend, act Action) bool {
	el, out := be.QueryState(ctx, act.Selector)
	if !out.OK() || el.Count == 0 {
		return false
	}
	have := norm.NFC.String(el.Value)
	want := norm.NFC.String(act.Text)
	if act.Clear {
		return have == want
	}
	return strings.Contains(have, want)
}

// pickedValuePresent holds when the control reports the picked value.
func pickedValuePresent(ctx context.Context, be backend.Backend, act Action) bool {
	el, out := be.QueryState(ctx, act.Selector)
	if !out.OK() || el.Count == 0 {
		return false
	}
	return el.Value == act.Value
}

func attrsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
