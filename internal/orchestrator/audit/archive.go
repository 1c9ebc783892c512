package audit

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/golang/snappy"
)

// CompressAndEncode compresses a trail file with Snappy and base64-encodes
// the result, producing a form that travels safely inside JSON.
func CompressAndEncode(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open trail file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	b64Encoder := base64.NewEncoder(base64.StdEncoding, &buf)
	snappyWriter := snappy.NewBufferedWriter(b64Encoder)

	if _, err := io.Copy(snappyWriter, f); err != nil {
		return "", fmt.Errorf("compression failed: %w", err)
	}
	if err := snappyWriter.Close(); err != nil {
		return "", fmt.Errorf("snappy close failed: %w", err)
	}
	if err := b64Encoder.Close(); err != nil {
		return "", fmt.Errorf("base64 close failed: %w", err)
	}
	return buf.String(), nil
}

// DecodeAndDecompress reverses CompressAndEncode, writing the recovered
// trail to path. The write goes through a temp file and a rename so a
// partial decode never leaves a truncated trail behind.
func DecodeAndDecompress(encoded string, path string) error {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("base64 decode failed: %w", err)
	}

	snappyReader := snappy.NewReader(bytes.NewReader(decoded))
	tmpPath := path + ".tmp"
	outFile, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer outFile.Close()

	if _, err := io.Copy(outFile, snappyReader); err != nil {
		return fmt.Errorf("decompression failed: %w", err)
	}
	if err := outFile.Close(); err != nil {
		return fmt.Errorf("close failed: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename to final path failed: %w", err)
	}
	return nil
}
