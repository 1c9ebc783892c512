// Package audit writes a tamper-evident trail of executed commands. Entries
// form a hash chain: each entry's hash covers its payload plus the previous
// hash, and every entry is signed with Ed25519, so truncation, reordering,
// or edits are all detectable after the fact.
package audit

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/anand-gl/jsoncanonicalizer"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"

	"github.com/charterhq/charter/internal/orchestrator/action"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Entry is one signed record in the chain.
type Entry struct {
	Payload   map[string]any `json:"payload"`
	PrevHash  string         `json:"prevHash"`
	Hash      string         `json:"hash"`
	Signature string         `json:"signature"`
}

// Trail appends signed entries to a line-oriented log file. Safe for
// concurrent use; callers from parallel command handlers serialize on the
// internal mutex.
type Trail struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	prevHash string
	privKey  ed25519.PrivateKey
	closed   bool
}

// NewTrail opens (or creates) the trail file at path in append mode.
func NewTrail(path string, privKey ed25519.PrivateKey) (*Trail, error) {
	if len(privKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key: must be %d bytes, got %d", ed25519.PrivateKeySize, len(privKey))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &Trail{file: f, path: path, privKey: privKey}, nil
}

// Path returns the trail file location.
func (t *Trail) Path() string {
	return t.path
}

// Record implements the dispatcher's recorder hook: one entry per completed
// command. Failures are logged and swallowed so a full disk never turns
// into failed browser commands.
func (t *Trail) Record(ctx context.Context, sessionID, method string, result action.Result) {
	payload := map[string]any{
		"ts":         time.Now().UTC().Format(time.RFC3339Nano),
		"session_id": sessionID,
		"method":     method,
		"success":    result.Success,
		"status":     string(result.Status),
	}
	if result.Message != "" {
		payload["message"] = result.Message
	}
	if result.Selector != "" {
		payload["selector"] = result.Selector
	}
	if result.URL != "" {
		payload["url"] = result.URL
	}
	if err := t.Append(payload); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("method", method).Msg("unable to record audit entry")
	}
}

// Append signs and writes one payload. The hash input is the canonical JSON
// form of payload plus prevHash, so semantically equal payloads always hash
// identically regardless of map iteration order.
func (t *Trail) Append(payload map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("audit trail is closed")
	}

	entry := Entry{
		Payload:  payload,
		PrevHash: t.prevHash,
	}

	hashInput, err := hashInputFor(entry)
	if err != nil {
		return err
	}
	hash := sha256.Sum256(hashInput)
	entry.Hash = fmt.Sprintf("%x", hash[:])
	t.prevHash = entry.Hash

	signInput, err := signInputFor(entry)
	if err != nil {
		return err
	}
	entry.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(t.privKey, signInput))

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	if _, err := t.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	return nil
}

// Close syncs and closes the trail file. Safe to call more than once.
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.file.Sync(); err != nil {
		t.file.Close()
		return err
	}
	return t.file.Close()
}

// hashInputFor builds the canonical bytes covered by an entry's hash.
func hashInputFor(entry Entry) ([]byte, error) {
	raw, err := json.Marshal(struct {
		Payload  map[string]any `json:"payload"`
		PrevHash string         `json:"prevHash"`
	}{entry.Payload, entry.PrevHash})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal hash input: %w", err)
	}
	return jsoncanonicalizer.Transform(raw)
}

// signInputFor builds the canonical bytes covered by an entry's signature:
// payload, prevHash, and the entry's own hash.
func signInputFor(entry Entry) ([]byte, error) {
	raw, err := json.Marshal(struct {
		Payload  map[string]any `json:"payload"`
		PrevHash string         `json:"prevHash"`
		Hash     string         `json:"hash"`
	}{entry.Payload, entry.PrevHash, entry.Hash})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sign input: %w", err)
	}
	return jsoncanonicalizer.Transform(raw)
}
