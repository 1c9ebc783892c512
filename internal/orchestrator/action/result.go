// Package action defines the outcome model shared by every component that
// executes or reports on browser actions: the closed Status taxonomy, the
// immutable Result value, and the VerificationLevel ladder.
package action

// Status identifies the outcome of a single browser action. The taxonomy is
// closed: every outcome produced anywhere in the orchestrator is one of these
// codes.
type Status string

const (
	StatusOK Status = "ok"

	// Pre-condition failures: the target was wrong before anything fired.
	StatusElementNotFound        Status = "element_not_found"
	StatusElementNotVisible      Status = "element_not_visible"
	StatusElementNotInteractable Status = "element_not_interactable"
	StatusMultipleElements       Status = "multiple_elements"
	StatusFrameNotFound          Status = "frame_not_found"

	// Execution failures: the primitive itself failed.
	StatusClickIntercepted Status = "click_intercepted"
	StatusClickTimeout     Status = "click_timeout"
	StatusTypePartial      Status = "type_partial"
	StatusTypeFailed       Status = "type_failed"
	StatusUploadFailed     Status = "upload_failed"
	StatusPickFailed       Status = "pick_failed"
	StatusScrollFailed     Status = "scroll_failed"
	StatusHoverFailed      Status = "hover_failed"
	StatusScriptError      Status = "script_error"
	StatusScriptTimeout    Status = "script_timeout"
	StatusCaptureFailed    Status = "capture_failed"
	StatusDialogUnexpected Status = "dialog_unexpected"

	// Navigation and network failures.
	StatusNavigationTimeout Status = "navigation_timeout"
	StatusNavigationFailed  Status = "navigation_failed"
	StatusLoadTimeout       Status = "load_timeout"
	StatusNetworkError      Status = "network_error"
	StatusHTTPError         Status = "http_error"

	// Verification outcomes. VerificationTimeout is the soft success: the
	// action very likely happened but could not be confirmed within the
	// verify window.
	StatusVerificationTimeout Status = "verification_timeout"
	StatusVerificationFailed  Status = "verification_failed"
	StatusStabilizeTimeout    Status = "stabilize_timeout"

	// Admission and session failures.
	StatusBrowserNotFound   Status = "browser_not_found"
	StatusContextNotFound   Status = "context_not_found"
	StatusSessionBusy       Status = "session_busy"
	StatusResourceExhausted Status = "resource_exhausted"

	// Everything else.
	StatusInvalidArgument Status = "invalid_argument"
	StatusInternalError   Status = "internal_error"
)

// IsSuccess reports whether the status counts as a success. Only OK and
// VerificationTimeout qualify: for the latter, the action fired and its
// effect was merely unconfirmed at the deadline.
func (s Status) IsSuccess() bool {
	return s == StatusOK || s == StatusVerificationTimeout
}

// Result is the immutable outcome of one browser action. Success is derived
// from Status by the constructors; there is no way to build a Result where
// the two disagree.
type Result struct {
	Success      bool   `json:"success"`
	Status       Status `json:"status"`
	Message      string `json:"message"`
	Selector     string `json:"selector,omitempty"`
	URL          string `json:"url,omitempty"`
	HTTPStatus   int    `json:"http_status,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ElementCount int    `json:"element_count,omitempty"`
	Value        any    `json:"value,omitempty"`
}

// NewResult builds a Result for the given status and message, deriving the
// Success flag from the status.
func NewResult(status Status, message string) Result {
	return Result{
		Success: status.IsSuccess(),
		Status:  status,
		Message: message,
	}
}

// OK returns a plain success result.
func OK(message string) Result {
	return NewResult(StatusOK, message)
}

// WithSelector returns a copy carrying the selector that the action targeted.
func (r Result) WithSelector(selector string) Result {
	r.Selector = selector
	return r
}

// WithURL returns a copy carrying the URL involved in the action.
func (r Result) WithURL(url string) Result {
	r.URL = url
	return r
}

// WithHTTPStatus returns a copy carrying the HTTP status observed.
func (r Result) WithHTTPStatus(code int) Result {
	r.HTTPStatus = code
	return r
}

// WithErrorCode returns a copy carrying a backend-specific error code.
func (r Result) WithErrorCode(code string) Result {
	r.ErrorCode = code
	return r
}

// WithElementCount returns a copy carrying the number of elements a selector
// matched.
func (r Result) WithElementCount(n int) Result {
	r.ElementCount = n
	return r
}

// WithValue returns a copy carrying an action-specific return value, such as
// evaluated script output or extracted text.
func (r Result) WithValue(v any) Result {
	r.Value = v
	return r
}
