package audit

import (
	"bufio"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

// Verify replays a trail from r and checks every entry: hash correctness,
// chain continuity, and signature validity. Returns nil only when the whole
// trail is intact.
func Verify(r io.Reader, pubKey ed25519.PublicKey) error {
	if len(pubKey) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid ed25519 public key size: got %d", len(pubKey))
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNum := 0
	expectedPrevHash := ""
	for scanner.Scan() {
		lineNum++
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return fmt.Errorf("line %d: invalid JSON: %w", lineNum, err)
		}

		hashInput, err := hashInputFor(entry)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNum, err)
		}
		if computed := fmt.Sprintf("%x", sha256.Sum256(hashInput)); computed != entry.Hash {
			return fmt.Errorf("line %d: hash mismatch", lineNum)
		}
		if entry.PrevHash != expectedPrevHash {
			return fmt.Errorf("line %d: prevHash mismatch", lineNum)
		}

		signInput, err := signInputFor(entry)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNum, err)
		}
		signature, err := base64.StdEncoding.DecodeString(entry.Signature)
		if err != nil {
			return fmt.Errorf("line %d: invalid base64 signature: %w", lineNum, err)
		}
		if !ed25519.Verify(pubKey, signInput, signature) {
			return fmt.Errorf("line %d: signature verification failed", lineNum)
		}
		expectedPrevHash = entry.Hash
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read trail: %w", err)
	}
	return nil
}
