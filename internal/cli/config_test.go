package cli

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := &Config{
		Version:   "0.1.0",
		ServerURL: "http://127.0.0.1:8914",
		Token:     "abc123",
	}
	require.NoError(t, cfg.WriteConfig(path))

	require.NoError(t, LoadConfig(path))
	loaded := GetConfig()
	assert.Equal(t, cfg.ServerURL, loaded.ServerURL)
	assert.Equal(t, cfg.Token, loaded.Token)
}

func TestLoadConfigRejectsMissingPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 0.1.0\nserver_url: example.com\n"), 0600))

	err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
}

func TestMorphServer(t *testing.T) {
	assert.Equal(t, "http://example.com:8914", MorphServer("example.com:8914/"))
	assert.Equal(t, "https://example.com:8914", MorphServer("https://example.com:8914"))
	assert.Equal(t, "", MorphServer(""))
}

func TestLoadPublicKey(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	dir := t.TempDir()

	rawPath := filepath.Join(dir, "key.raw")
	require.NoError(t, os.WriteFile(rawPath, pub, 0600))
	got, err := loadPublicKey(rawPath)
	require.NoError(t, err)
	assert.Equal(t, ed25519.PublicKey(pub), got)

	b64Path := filepath.Join(dir, "key.b64")
	require.NoError(t, os.WriteFile(b64Path, []byte(base64.StdEncoding.EncodeToString(pub)+"\n"), 0600))
	got, err = loadPublicKey(b64Path)
	require.NoError(t, err)
	assert.Equal(t, ed25519.PublicKey(pub), got)

	runtimePath := filepath.Join(dir, "runtime.json")
	runtime := map[string]any{
		"orchestrator_id": "00000000-0000-0000-0000-000000000000",
		"log_signing_key": map[string]any{
			"public_key": pub,
		},
	}
	data, err := json.Marshal(runtime)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(runtimePath, data, 0600))
	got, err = loadPublicKey(runtimePath)
	require.NoError(t, err)
	assert.Equal(t, ed25519.PublicKey(pub), got)

	_, err = loadPublicKey(filepath.Join(dir, "missing"))
	require.Error(t, err)
}
