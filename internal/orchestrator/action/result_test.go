package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStatuses = []Status{
	StatusOK,
	StatusElementNotFound,
	StatusElementNotVisible,
	StatusElementNotInteractable,
	StatusMultipleElements,
	StatusFrameNotFound,
	StatusClickIntercepted,
	StatusClickTimeout,
	StatusTypePartial,
	StatusTypeFailed,
	StatusUploadFailed,
	StatusPickFailed,
	StatusScrollFailed,
	StatusHoverFailed,
	StatusScriptError,
	StatusScriptTimeout,
	StatusCaptureFailed,
	StatusDialogUnexpected,
	StatusNavigationTimeout,
	StatusNavigationFailed,
	StatusLoadTimeout,
	StatusNetworkError,
	StatusHTTPError,
	StatusVerificationTimeout,
	StatusVerificationFailed,
	StatusStabilizeTimeout,
	StatusBrowserNotFound,
	StatusContextNotFound,
	StatusSessionBusy,
	StatusResourceExhausted,
	StatusInvalidArgument,
	StatusInternalError,
}

// Success must be true exactly for OK and VerificationTimeout, and the
// constructors must never let the flag and the status disagree.
func TestSuccessInvariant(t *testing.T) {
	for _, status := range allStatuses {
		r := NewResult(status, "outcome")
		want := status == StatusOK || status == StatusVerificationTimeout
		assert.Equal(t, want, r.Success, "status %s", status)
		assert.Equal(t, want, r.Status.IsSuccess(), "status %s", status)
	}
}

func TestResultContextFields(t *testing.T) {
	r := NewResult(StatusElementNotFound, "no match for selector").
		WithSelector("#missing").
		WithElementCount(0)

	assert.False(t, r.Success)
	assert.Equal(t, "#missing", r.Selector)
	assert.Equal(t, 0, r.ElementCount)

	// With* helpers copy; the original is untouched.
	r2 := r.WithSelector("#other")
	assert.Equal(t, "#missing", r.Selector)
	assert.Equal(t, "#other", r2.Selector)
}

func TestVerificationTimeoutIsSoftSuccess(t *testing.T) {
	r := NewResult(StatusVerificationTimeout, "post-check did not converge")
	assert.True(t, r.Success)
	assert.Equal(t, StatusVerificationTimeout, r.Status)
}

func TestParseVerificationLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    VerificationLevel
		wantErr bool
	}{
		{"", VerifyStandard, false},
		{"none", VerifyNone, false},
		{"basic", VerifyBasic, false},
		{"standard", VerifyStandard, false},
		{"strict", VerifyStrict, false},
		{"paranoid", VerifyStandard, true},
	}
	for _, tt := range tests {
		got, err := ParseVerificationLevel(tt.in)
		if tt.wantErr {
			require.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestLevelOrdering(t *testing.T) {
	assert.True(t, VerifyStrict.AtLeast(VerifyStandard))
	assert.True(t, VerifyStandard.AtLeast(VerifyBasic))
	assert.False(t, VerifyNone.AtLeast(VerifyBasic))
}
