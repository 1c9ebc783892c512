package apperrors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorDerivation(t *testing.T) {
	base := New("base failure").SetStatusCode(http.StatusInternalServerError)
	derived := base.New("derived failure")

	assert.Equal(t, "derived failure", derived.Error())
	assert.Equal(t, http.StatusInternalServerError, derived.StatusCode())
	assert.True(t, errors.Is(derived, base))
}

func TestMsgWrapsOriginal(t *testing.T) {
	base := New("registry error").SetStatusCode(http.StatusBadRequest)
	wrapped := base.Msg("session missing")

	require.Equal(t, "session missing", wrapped.Error())
	assert.True(t, errors.Is(wrapped, base))
	assert.Contains(t, wrapped.ErrorAll(), "registry error")
}

func TestMsgErrAttachesExtraErrors(t *testing.T) {
	base := New("teardown failed")
	cause := errors.New("backend closed connection")
	err := base.MsgErr("closing session", cause)

	assert.True(t, errors.Is(err, base))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.ErrorAll(), "backend closed connection")
}

func TestSentinelNotMutated(t *testing.T) {
	base := New("admission denied").SetStatusCode(http.StatusConflict)
	_ = base.Msg("pool full").SetStatusCode(http.StatusServiceUnavailable)

	assert.Equal(t, http.StatusConflict, base.StatusCode())
	assert.Equal(t, "admission denied", base.Error())
}

func TestErrKeepsMessage(t *testing.T) {
	base := New("eviction failed")
	cause := errors.New("browser already gone")
	err := base.Err(cause)

	assert.Equal(t, "eviction failed", err.Error())
	assert.True(t, errors.Is(err, cause))
	assert.Len(t, err.UnwrapAll(), 2)
}
