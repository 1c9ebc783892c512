package backend

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
)

func TestBlockedResourceFiltersHeavyTypesOnly(t *testing.T) {
	blocked := []string{"image", "media", "font", "stylesheet"}
	allowed := []string{"document", "script", "xhr", "fetch", "websocket", "other"}

	for _, rt := range blocked {
		assert.True(t, blockedResource(rt), rt)
	}
	for _, rt := range allowed {
		assert.False(t, blockedResource(rt), rt)
	}
}

func TestWaitUntilStateMapping(t *testing.T) {
	tests := []struct {
		policy WaitPolicy
		want   *playwright.WaitUntilState
	}{
		{WaitDOMContentLoaded, playwright.WaitUntilStateDomcontentloaded},
		{WaitLoad, playwright.WaitUntilStateLoad},
		{WaitNetworkIdle, playwright.WaitUntilStateNetworkidle},
		{WaitNone, nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, waitUntilState(tt.policy))
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		msg  string
		want OutcomeCode
	}{
		{"Timeout 5000ms exceeded.", OutcomeTimeout},
		{"<div> intercepts pointer events", OutcomeIntercepted},
		{"net::ERR_CONNECTION_REFUSED", OutcomeNetwork},
		{"no element matches selector", OutcomeNotFound},
		{"something else entirely", OutcomeError},
	}
	for _, tt := range tests {
		out := classifyError(errors.New(tt.msg))
		assert.Equal(t, tt.want, out.Code, tt.msg)
		assert.Equal(t, tt.msg, out.Message, tt.msg)
	}
}
