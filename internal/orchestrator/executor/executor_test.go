package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charterhq/charter/internal/orchestrator/action"
	"github.com/charterhq/charter/internal/orchestrator/backend"
	"github.com/charterhq/charter/internal/orchestrator/registry"
)

func fastOptions() Options {
	return Options{
		VerifyWindow:    200 * time.Millisecond,
		PollInterval:    10 * time.Millisecond,
		StabilizeWindow: 100 * time.Millisecond,
	}
}

func newTestSession(t *testing.T, configure func(*backend.FakeBackend)) (*registry.Session, *backend.FakeBackend) {
	t.Helper()
	factory := &backend.FakeFactory{Configure: configure}
	reg := registry.New(factory, registry.Options{MaxSessions: 1})
	sess, err := reg.Create(context.Background(), registry.CreateParams{})
	require.NoError(t, err)
	return sess, factory.Created()[0]
}

func TestTypeIntoPresentField(t *testing.T) {
	sess, _ := newTestSession(t, func(fb *backend.FakeBackend) {
		fb.AddElement("#q", backend.FakeElement{Visible: true, Enabled: true})
	})
	e := New(fastOptions())

	res := e.Do(context.Background(), sess, Action{
		Kind:     KindType,
		Selector: "#q",
		Text:     "hello",
	}, action.VerifyStandard)

	assert.True(t, res.Success)
	assert.Equal(t, action.StatusOK, res.Status)
}

func TestTypeIntoMissingField(t *testing.T) {
	sess, _ := newTestSession(t, nil)
	e := New(fastOptions())

	res := e.Do(context.Background(), sess, Action{
		Kind:     KindType,
		Selector: "#missing",
		Text:     "hello",
	}, action.VerifyStandard)

	assert.False(t, res.Success)
	assert.Equal(t, action.StatusElementNotFound, res.Status)
	assert.Equal(t, "#missing", res.Selector)
}

func TestTypeVerificationTimeoutIsSoftSuccess(t *testing.T) {
	sess, _ := newTestSession(t, func(fb *backend.FakeBackend) {
		fb.AddElement("#q", backend.FakeElement{Visible: true, Enabled: true})
		fb.DropTypedInput = true
	})
	e := New(fastOptions())

	res := e.Do(context.Background(), sess, Action{
		Kind:     KindType,
		Selector: "#q",
		Text:     "hello",
	}, action.VerifyStandard)

	assert.True(t, res.Success)
	assert.Equal(t, action.StatusVerificationTimeout, res.Status)
}

func TestStrictClickNeverStabilizes(t *testing.T) {
	sess, _ := newTestSession(t, func(fb *backend.FakeBackend) {
		fb.AddElement("#btn", backend.FakeElement{
			Visible: true, Enabled: true,
			Attrs: map[string]string{},
		})
		fb.PumpsUntilStable = -1 // never stable
	})
	e := New(fastOptions())

	res := e.Do(context.Background(), sess, Action{
		Kind:     KindClick,
		Selector: "#btn",
	}, action.VerifyStrict)

	// Soft success: the click verified but the document never settled.
	assert.True(t, res.Success)
	assert.Equal(t, action.StatusVerificationTimeout, res.Status)
}

func TestMultipleElementsIsAlwaysAnError(t *testing.T) {
	sess, _ := newTestSession(t, func(fb *backend.FakeBackend) {
		fb.AddElement("div.item", backend.FakeElement{Count: 3, Visible: true, Enabled: true})
	})
	e := New(fastOptions())

	res := e.Do(context.Background(), sess, Action{
		Kind:     KindClick,
		Selector: "div.item",
	}, action.VerifyStandard)

	assert.False(t, res.Success)
	assert.Equal(t, action.StatusMultipleElements, res.Status)
	assert.Equal(t, 3, res.ElementCount)
}

func TestPreconditionVisibility(t *testing.T) {
	sess, _ := newTestSession(t, func(fb *backend.FakeBackend) {
		fb.AddElement("#hidden", backend.FakeElement{Visible: false, Enabled: true})
		fb.AddElement("#disabled", backend.FakeElement{Visible: true, Enabled: false})
	})
	e := New(fastOptions())
	ctx := context.Background()

	res := e.Do(ctx, sess, Action{Kind: KindClick, Selector: "#hidden"}, action.VerifyBasic)
	assert.Equal(t, action.StatusElementNotVisible, res.Status)

	res = e.Do(ctx, sess, Action{Kind: KindClick, Selector: "#disabled"}, action.VerifyBasic)
	assert.Equal(t, action.StatusElementNotInteractable, res.Status)

	// Hover needs visibility but not interactability.
	res = e.Do(ctx, sess, Action{Kind: KindHover, Selector: "#disabled"}, action.VerifyBasic)
	assert.Equal(t, action.StatusOK, res.Status)
}

func TestVerifyNoneSkipsChecks(t *testing.T) {
	sess, fb := newTestSession(t, nil)
	e := New(fastOptions())

	// No element table entry; NONE still fires and returns the primitive
	// outcome directly.
	res := e.Do(context.Background(), sess, Action{Kind: KindClick, Selector: "#anything"}, action.VerifyNone)
	assert.True(t, res.Success)
	assert.Contains(t, fb.Calls(), "click #anything")
}

func TestNilSessionFailsFast(t *testing.T) {
	e := New(fastOptions())
	res := e.Do(context.Background(), nil, Action{Kind: KindClick, Selector: "#btn"}, action.VerifyStandard)
	assert.False(t, res.Success)
	assert.Equal(t, action.StatusBrowserNotFound, res.Status)
}

func TestNavigateMapsOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		override backend.Outcome
		want     action.Status
	}{
		{"timeout", backend.Failed(backend.OutcomeTimeout, "goto timed out"), action.StatusNavigationTimeout},
		{"network", backend.Failed(backend.OutcomeNetwork, "net::ERR_CONNECTION_REFUSED"), action.StatusNetworkError},
		{"http", backend.Outcome{Code: backend.OutcomeHTTPError, Message: "Bad Gateway", HTTPStatus: 502}, action.StatusHTTPError},
		{"generic", backend.Failed(backend.OutcomeError, "engine crashed"), action.StatusNavigationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, fb := newTestSession(t, nil)
			fb.Overrides["navigate"] = tt.override
			e := New(fastOptions())

			res := e.Do(context.Background(), sess, Action{
				Kind: KindNavigate,
				URL:  "https://example.test/",
			}, action.VerifyStandard)

			assert.False(t, res.Success)
			assert.Equal(t, tt.want, res.Status)
		})
	}
}

func TestNavigateSuccessCarriesURL(t *testing.T) {
	sess, _ := newTestSession(t, nil)
	e := New(fastOptions())

	res := e.Do(context.Background(), sess, Action{
		Kind: KindNavigate,
		URL:  "https://example.test/page",
	}, action.VerifyStandard)

	require.True(t, res.Success)
	assert.Equal(t, action.StatusOK, res.Status)
	assert.Equal(t, "https://example.test/page", res.URL)
	assert.Equal(t, 200, res.HTTPStatus)
}

func TestTypedTextNormalization(t *testing.T) {
	sess, fb := newTestSession(t, func(fb *backend.FakeBackend) {
		fb.AddElement("#name", backend.FakeElement{Visible: true, Enabled: true})
	})
	e := New(fastOptions())

	// Pre-seed a decomposed value the fake will keep; typing appends the
	// composed form, and the post-check must treat them as equal.
	fb.DropTypedInput = true
	el, _ := fb.Element("#name")
	el.Value = "José" // "José" decomposed
	fb.AddElement("#name", el)

	res := e.Do(context.Background(), sess, Action{
		Kind:     KindType,
		Selector: "#name",
		Text:     "José", // composed
	}, action.VerifyStandard)

	assert.True(t, res.Success)
	assert.Equal(t, action.StatusOK, res.Status)
}

func TestOpCounterBalanced(t *testing.T) {
	sess, _ := newTestSession(t, func(fb *backend.FakeBackend) {
		fb.AddElement("#q", backend.FakeElement{Visible: true, Enabled: true})
	})
	e := New(fastOptions())

	_ = e.Do(context.Background(), sess, Action{Kind: KindType, Selector: "#q", Text: "x"}, action.VerifyStandard)
	_ = e.Do(context.Background(), sess, Action{Kind: KindType, Selector: "#missing", Text: "x"}, action.VerifyStandard)
	assert.Equal(t, 0, sess.ActiveOps())
}

func TestQueryReturnsState(t *testing.T) {
	sess, _ := newTestSession(t, func(fb *backend.FakeBackend) {
		fb.AddElement("#box", backend.FakeElement{
			Visible: true, Enabled: true, Checked: true,
			Value: "v", Text: "label",
		})
	})
	e := New(fastOptions())

	res := e.Do(context.Background(), sess, Action{Kind: KindQuery, Selector: "#box"}, action.VerifyStandard)
	require.True(t, res.Success)
	state, ok := res.Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, state["checked"])
	assert.Equal(t, "v", state["value"])
}

func TestWaitStableTimesOutHard(t *testing.T) {
	sess, _ := newTestSession(t, func(fb *backend.FakeBackend) {
		fb.PumpsUntilStable = -1
	})
	e := New(fastOptions())

	res := e.Do(context.Background(), sess, Action{
		Kind:    KindWaitStable,
		Timeout: 50 * time.Millisecond,
	}, action.VerifyNone)

	assert.False(t, res.Success)
	assert.Equal(t, action.StatusStabilizeTimeout, res.Status)
}
