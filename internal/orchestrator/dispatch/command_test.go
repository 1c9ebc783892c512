package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr string
		check   func(t *testing.T, cmd *Command)
	}{
		{
			name: "full request",
			line: `{"id":42,"method":"click","context_id":"abc","selector":"#go","clicks":2}`,
			check: func(t *testing.T, cmd *Command) {
				assert.EqualValues(t, 42, cmd.ID)
				assert.Equal(t, "click", cmd.Method)
				assert.Equal(t, "abc", cmd.SessionID)
				assert.Equal(t, "#go", cmd.Params["selector"])
				assert.NotContains(t, cmd.Params, "id")
				assert.NotContains(t, cmd.Params, "method")
				assert.NotContains(t, cmd.Params, "context_id")
			},
		},
		{
			name: "no params",
			line: `{"id":1,"method":"list"}`,
			check: func(t *testing.T, cmd *Command) {
				assert.Empty(t, cmd.Params)
			},
		},
		{name: "missing id", line: `{"method":"list"}`, wantErr: "id is required"},
		{name: "string id", line: `{"id":"7","method":"list"}`, wantErr: "id must be a number"},
		{name: "missing method", line: `{"id":1}`, wantErr: "method is required"},
		{name: "empty method", line: `{"id":1,"method":""}`, wantErr: "method is required"},
		{name: "not json", line: `hello`, wantErr: "not valid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := parseRequest([]byte(tt.line))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				require.NotNil(t, cmd)
				return
			}
			require.NoError(t, err)
			tt.check(t, cmd)
		})
	}
}

func TestDecodeParamsValidation(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]any
		into    func() any
		wantErr bool
	}{
		{
			name:   "click with selector",
			params: map[string]any{"selector": "#go"},
			into:   func() any { return &clickParams{} },
		},
		{
			name:    "click without selector",
			params:  map[string]any{"clicks": 2},
			into:    func() any { return &clickParams{} },
			wantErr: true,
		},
		{
			name:    "click with bad button",
			params:  map[string]any{"selector": "#go", "button": "fourth"},
			into:    func() any { return &clickParams{} },
			wantErr: true,
		},
		{
			name:   "navigate whole numbers arrive as float64",
			params: map[string]any{"url": "https://example.com", "timeout_ms": float64(1500)},
			into:   func() any { return &navigateParams{} },
		},
		{
			name:    "navigate bad wait_until",
			params:  map[string]any{"url": "https://example.com", "wait_until": "whenever"},
			into:    func() any { return &navigateParams{} },
			wantErr: true,
		},
		{
			name:    "upload needs at least one path",
			params:  map[string]any{"selector": "#file", "paths": []any{}},
			into:    func() any { return &uploadParams{} },
			wantErr: true,
		},
		{
			name:    "create with bad verification",
			params:  map[string]any{"verification": "paranoid"},
			into:    func() any { return &createParams{} },
			wantErr: true,
		},
		{
			name:   "unknown fields are ignored",
			params: map[string]any{"selector": "#go", "frobnicate": true},
			into:   func() any { return &clickParams{} },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &Command{Params: tt.params}
			err := decodeParams(cmd, tt.into())
			if tt.wantErr {
				assert.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidParams)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCreateParamsRoundTrip(t *testing.T) {
	// Wire shape the client emits for create, straight through parse and decode.
	line := `{"id":1,"method":"create","context_id":"","headless":false,"block_resources":true,"verification":"standard"}`
	cmd, err := parseRequest([]byte(line))
	require.NoError(t, err)

	var p createParams
	require.NoError(t, decodeParams(cmd, &p))
	require.NotNil(t, p.Headless)
	assert.False(t, *p.Headless)
	assert.True(t, p.BlockResources)
	assert.Equal(t, "standard", p.Verification)
}

func TestTimeoutDecodesFromMilliseconds(t *testing.T) {
	cmd := &Command{Params: map[string]any{"selector": "#f", "text": "x", "timeout_ms": float64(250)}}
	var p typeParams
	require.NoError(t, decodeParams(cmd, &p))
	assert.Equal(t, 250, p.TimeoutMs)
}

func TestMethodTableAffinityIsFixed(t *testing.T) {
	serialized := []string{"create", "close", "navigate", "click", "type", "pick", "hover", "scroll", "upload"}
	parallel := []string{"release", "list", "query", "evaluate", "capture", "wait_stable"}

	for _, m := range serialized {
		spec, ok := methodTable[m]
		require.True(t, ok, m)
		assert.Equal(t, affinitySerialized, spec.affinity, m)
	}
	for _, m := range parallel {
		spec, ok := methodTable[m]
		require.True(t, ok, m)
		assert.Equal(t, affinityParallel, spec.affinity, m)
	}
	assert.Len(t, methodTable, len(serialized)+len(parallel))
}
