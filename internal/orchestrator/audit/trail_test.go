package audit

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charterhq/charter/internal/orchestrator/action"
)

func newKeyPair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return pub, priv
}

func newTrail(t *testing.T) (*Trail, ed25519.PublicKey) {
	t.Helper()
	pub, priv := newKeyPair(t)
	trail, err := NewTrail(filepath.Join(t.TempDir(), "trail.alog"), priv)
	require.NoError(t, err)
	t.Cleanup(func() { trail.Close() })
	return trail, pub
}

func TestTrailRoundTrip(t *testing.T) {
	trail, pub := newTrail(t)

	require.NoError(t, trail.Append(map[string]any{"event": "start", "n": 1}))
	require.NoError(t, trail.Append(map[string]any{"event": "click", "selector": "#go"}))
	require.NoError(t, trail.Append(map[string]any{"event": "stop"}))
	require.NoError(t, trail.Close())

	data, err := os.ReadFile(trail.Path())
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 3)
	assert.NoError(t, Verify(bytes.NewReader(data), pub))
}

func TestTrailRejectsShortKey(t *testing.T) {
	_, err := NewTrail(filepath.Join(t.TempDir(), "trail.alog"), []byte("short"))
	assert.Error(t, err)
}

func TestVerifyDetectsTampering(t *testing.T) {
	trail, pub := newTrail(t)
	require.NoError(t, trail.Append(map[string]any{"event": "one", "amount": 10}))
	require.NoError(t, trail.Append(map[string]any{"event": "two"}))
	require.NoError(t, trail.Close())

	data, err := os.ReadFile(trail.Path())
	require.NoError(t, err)

	tampered := bytes.Replace(data, []byte(`"amount":10`), []byte(`"amount":99`), 1)
	require.NotEqual(t, data, tampered)
	assert.Error(t, Verify(bytes.NewReader(tampered), pub))
}

func TestVerifyDetectsDroppedEntry(t *testing.T) {
	trail, pub := newTrail(t)
	for _, event := range []string{"a", "b", "c"} {
		require.NoError(t, trail.Append(map[string]any{"event": event}))
	}
	require.NoError(t, trail.Close())

	data, err := os.ReadFile(trail.Path())
	require.NoError(t, err)
	lines := strings.SplitAfter(string(data), "\n")

	// Drop the middle entry.
	truncated := lines[0] + lines[2]
	assert.Error(t, Verify(strings.NewReader(truncated), pub))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	trail, _ := newTrail(t)
	require.NoError(t, trail.Append(map[string]any{"event": "x"}))
	require.NoError(t, trail.Close())

	otherPub, _ := newKeyPair(t)
	data, err := os.ReadFile(trail.Path())
	require.NoError(t, err)
	assert.Error(t, Verify(bytes.NewReader(data), otherPub))
}

func TestRecordSwallowsWriteFailures(t *testing.T) {
	trail, _ := newTrail(t)
	require.NoError(t, trail.Close())

	// Recording after close must not panic or error out of the hook.
	trail.Record(context.Background(), "s1", "click", action.OK("done"))
}

func TestArchiveRoundTrip(t *testing.T) {
	trail, pub := newTrail(t)
	require.NoError(t, trail.Append(map[string]any{"event": "payload", "data": strings.Repeat("x", 4096)}))
	require.NoError(t, trail.Close())

	encoded, err := CompressAndEncode(trail.Path())
	require.NoError(t, err)

	original, err := os.ReadFile(trail.Path())
	require.NoError(t, err)
	assert.Less(t, len(encoded), len(original))

	restored := filepath.Join(t.TempDir(), "restored.alog")
	require.NoError(t, DecodeAndDecompress(encoded, restored))
	data, err := os.ReadFile(restored)
	require.NoError(t, err)
	assert.Equal(t, original, data)
	assert.NoError(t, Verify(bytes.NewReader(data), pub))
}

func TestArtifactStoreSniffsImageType(t *testing.T) {
	store, err := NewArtifactStore(t.TempDir())
	require.NoError(t, err)

	png := append([]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}, make([]byte, 64)...)
	path, err := store.Save("sess-1", png)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, ".png"), path)

	opaque := []byte{0x00, 0x01, 0x02, 0x03}
	path, err = store.Save("sess-1", opaque)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, ".bin"), path)
}
