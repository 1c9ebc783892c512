package backend

import (
	"context"
	"io"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/playwright-community/playwright-go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PlaywrightFactory creates Playwright-backed sessions. One driver process
// is shared by every session; each session gets its own browser, context,
// and page.
type PlaywrightFactory struct {
	pw             *playwright.Playwright
	headless       bool
	blockResources bool
}

// NewPlaywrightFactory starts the Playwright driver, installing it first if
// needed. Driver output is discarded so it cannot corrupt the line-oriented
// command stream on stdout. blockResources makes every session abort heavy
// subresource fetches unless the session profile asks otherwise.
func NewPlaywrightFactory(headless, blockResources bool) (*PlaywrightFactory, error) {
	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if err := playwright.Install(opts); err != nil {
		return nil, errors.Wrap(err, "installing playwright driver")
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, errors.Wrap(err, "starting playwright driver")
	}
	return &PlaywrightFactory{pw: pw, headless: headless, blockResources: blockResources}, nil
}

// New implements Factory. Proxy settings from the profile are passed through
// to the browser launch untouched.
func (f *PlaywrightFactory) New(ctx context.Context, profile Profile) (Backend, error) {
	headless := f.headless || profile.Headless
	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
	}
	if server, ok := profile.Proxy["server"].(string); ok && server != "" {
		proxy := &playwright.Proxy{Server: server}
		if u, ok := profile.Proxy["username"].(string); ok {
			proxy.Username = playwright.String(u)
		}
		if p, ok := profile.Proxy["password"].(string); ok {
			proxy.Password = playwright.String(p)
		}
		launchOpts.Proxy = proxy
	}

	browser, err := f.pw.Chromium.Launch(launchOpts)
	if err != nil {
		return nil, errors.Wrap(err, "launching browser")
	}

	contextOpts := playwright.BrowserNewContextOptions{}
	if ua, ok := profile.Fingerprint["user_agent"].(string); ok && ua != "" {
		contextOpts.UserAgent = playwright.String(ua)
	}
	browserCtx, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		return nil, errors.Wrap(err, "creating browser context")
	}

	if f.blockResources || profile.BlockResources {
		err = browserCtx.Route("**/*", func(route playwright.Route) {
			if blockedResource(route.Request().ResourceType()) {
				route.Abort()
				return
			}
			route.Continue()
		})
		if err != nil {
			browserCtx.Close()
			browser.Close()
			return nil, errors.Wrap(err, "installing resource filter")
		}
	}

	page, err := browserCtx.NewPage()
	if err != nil {
		browserCtx.Close()
		browser.Close()
		return nil, errors.Wrap(err, "creating page")
	}

	return &playwrightBackend{
		browser: browser,
		context: browserCtx,
		page:    page,
	}, nil
}

// Shutdown stops the shared driver process.
func (f *PlaywrightFactory) Shutdown() error {
	if f.pw == nil {
		return nil
	}
	return f.pw.Stop()
}

// playwrightBackend maps Backend primitives onto one Playwright page. It is a
// thin translation layer: no verification or retry logic lives here.
type playwrightBackend struct {
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
}

func (b *playwrightBackend) Navigate(ctx context.Context, url string, wait WaitPolicy, timeout time.Duration) Outcome {
	opts := playwright.PageGotoOptions{}
	if state := waitUntilState(wait); state != nil {
		opts.WaitUntil = state
	}
	if timeout > 0 {
		opts.Timeout = playwright.Float(float64(timeout.Milliseconds()))
	}
	resp, err := b.page.Goto(url, opts)
	if err != nil {
		return classifyError(err)
	}
	out := Outcome{Code: OutcomeOK, URL: b.page.URL()}
	if resp != nil {
		out.HTTPStatus = resp.Status()
		if resp.Status() >= 400 {
			out.Code = OutcomeHTTPError
			out.Message = resp.StatusText()
		}
	}
	return out
}

func (b *playwrightBackend) Click(ctx context.Context, selector string, params ClickParams) Outcome {
	opts := playwright.PageClickOptions{}
	if params.Button != "" {
		button := playwright.MouseButton(params.Button)
		opts.Button = &button
	}
	if params.ClickCount > 0 {
		opts.ClickCount = playwright.Int(params.ClickCount)
	}
	if params.Timeout > 0 {
		opts.Timeout = playwright.Float(float64(params.Timeout.Milliseconds()))
	}
	if err := b.page.Click(selector, opts); err != nil {
		return classifyError(err)
	}
	return Outcome{Code: OutcomeOK, URL: b.page.URL()}
}

func (b *playwrightBackend) Type(ctx context.Context, selector, text string, params TypeParams) Outcome {
	if params.Clear {
		opts := playwright.PageFillOptions{}
		if params.Timeout > 0 {
			opts.Timeout = playwright.Float(float64(params.Timeout.Milliseconds()))
		}
		if err := b.page.Fill(selector, text, opts); err != nil {
			return classifyError(err)
		}
		return Succeeded()
	}
	opts := playwright.PageTypeOptions{}
	if params.Timeout > 0 {
		opts.Timeout = playwright.Float(float64(params.Timeout.Milliseconds()))
	}
	if err := b.page.Type(selector, text, opts); err != nil {
		return classifyError(err)
	}
	return Succeeded()
}

func (b *playwrightBackend) Pick(ctx context.Context, selector, value string) Outcome {
	_, err := b.page.SelectOption(selector, playwright.SelectOptionValues{
		Values: &[]string{value},
	})
	if err != nil {
		return classifyError(err)
	}
	return Succeeded()
}

func (b *playwrightBackend) Scroll(ctx context.Context, deltaX, deltaY int) Outcome {
	if err := b.page.Mouse().Wheel(float64(deltaX), float64(deltaY)); err != nil {
		return classifyError(err)
	}
	return Succeeded()
}

func (b *playwrightBackend) Hover(ctx context.Context, selector string) Outcome {
	if err := b.page.Hover(selector); err != nil {
		return classifyError(err)
	}
	return Succeeded()
}

func (b *playwrightBackend) Upload(ctx context.Context, selector string, paths []string) Outcome {
	if err := b.page.Locator(selector).SetInputFiles(paths); err != nil {
		return classifyError(err)
	}
	return Succeeded()
}

func (b *playwrightBackend) Evaluate(ctx context.Context, script string, returnValue bool) (string, Outcome) {
	value, err := b.page.Evaluate(script)
	if err != nil {
		return "", classifyError(err)
	}
	if !returnValue || value == nil {
		return "", Succeeded()
	}
	if s, ok := value.(string); ok {
		return s, Succeeded()
	}
	return stringify(value), Succeeded()
}

// attrScript collects every attribute of the first element a selector
// matches.
const attrScript = `sel => {
	const el = document.querySelector(sel);
	if (!el) return null;
	const out = {};
	for (const a of el.attributes) out[a.name] = a.value;
	return out;
}`

func (b *playwrightBackend) QueryState(ctx context.Context, selector string) (ElementState, Outcome) {
	handles, err := b.page.QuerySelectorAll(selector)
	if err != nil {
		return ElementState{}, classifyError(err)
	}
	state := ElementState{Count: len(handles)}
	if len(handles) == 0 {
		return state, Succeeded()
	}

	first := handles[0]
	if v, err := first.IsVisible(); err == nil {
		state.Visible = v
	}
	if v, err := first.IsEnabled(); err == nil {
		state.Enabled = v
	}
	if v, err := first.IsChecked(); err == nil {
		state.Checked = v
	}
	if v, err := first.TextContent(); err == nil {
		state.Text = v
	}
	if v, err := first.InputValue(); err == nil {
		state.Value = v
	}
	if box, err := first.BoundingBox(); err == nil && box != nil {
		state.Bounds = Rect{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height}
	}
	if raw, err := b.page.Evaluate(attrScript, selector); err == nil {
		if m, ok := raw.(map[string]any); ok {
			state.Attrs = make(map[string]string, len(m))
			for k, v := range m {
				if s, ok := v.(string); ok {
					state.Attrs[k] = s
				}
			}
		}
	}
	return state, Succeeded()
}

func (b *playwrightBackend) Capture(ctx context.Context, mode CaptureMode) ([]byte, Outcome) {
	opts := playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(mode == CaptureFullPage),
	}
	data, err := b.page.Screenshot(opts)
	if err != nil {
		return nil, classifyError(err)
	}
	return data, Succeeded()
}

// PumpPendingWork is a no-op for Playwright: the out-of-process driver
// advances asynchronous work on its own.
func (b *playwrightBackend) PumpPendingWork() {}

func (b *playwrightBackend) Stable(ctx context.Context) bool {
	state, err := b.page.Evaluate("document.readyState")
	if err != nil || state != "complete" {
		return false
	}
	err = b.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(50),
	})
	return err == nil
}

func (b *playwrightBackend) CurrentURL() string {
	return b.page.URL()
}

func (b *playwrightBackend) Close(ctx context.Context) error {
	_ = b.page.Close()
	_ = b.context.Close()
	return b.browser.Close()
}

// blockedResource picks the resource types the filter aborts. Documents,
// scripts, and XHR stay: blocking those would break the pages the actions
// operate on.
func blockedResource(resourceType string) bool {
	switch resourceType {
	case "image", "media", "font", "stylesheet":
		return true
	default:
		return false
	}
}

func waitUntilState(w WaitPolicy) *playwright.WaitUntilState {
	switch w {
	case WaitDOMContentLoaded:
		return playwright.WaitUntilStateDomcontentloaded
	case WaitLoad:
		return playwright.WaitUntilStateLoad
	case WaitNetworkIdle:
		return playwright.WaitUntilStateNetworkidle
	default:
		return nil
	}
}

// classifyError maps Playwright error text onto outcome codes. Playwright
// surfaces errors as strings, so classification is by substring.
func classifyError(err error) Outcome {
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "timeout"):
		return Outcome{Code: OutcomeTimeout, Message: msg}
	case strings.Contains(lower, "intercepts pointer events"):
		return Outcome{Code: OutcomeIntercepted, Message: msg}
	case strings.Contains(lower, "net::"), strings.Contains(lower, "connection"):
		return Outcome{Code: OutcomeNetwork, Message: msg}
	case strings.Contains(lower, "no element"), strings.Contains(lower, "not found"):
		return Outcome{Code: OutcomeNotFound, Message: msg}
	default:
		return Outcome{Code: OutcomeError, Message: msg}
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
