package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/h2non/filetype"
)

// ArtifactStore persists binary artifacts produced by commands, primarily
// screenshots. Filenames carry a sniffed extension so captured output is
// usable directly from the artifact directory.
type ArtifactStore struct {
	dir string
	seq atomic.Uint64
}

// NewArtifactStore creates the artifact directory if needed.
func NewArtifactStore(dir string) (*ArtifactStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &ArtifactStore{dir: dir}, nil
}

// Dir returns the artifact directory.
func (s *ArtifactStore) Dir() string {
	return s.dir
}

// Save writes data under a session-scoped name and returns the full path.
// The extension comes from content sniffing, not from anything the caller
// claims about the data.
func (s *ArtifactStore) Save(sessionID string, data []byte) (string, error) {
	ext := "bin"
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		ext = kind.Extension
	}
	name := fmt.Sprintf("%s-%d-%d.%s", sessionID, time.Now().UnixMilli(), s.seq.Add(1), ext)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}
