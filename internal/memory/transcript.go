package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"lumen/internal/core"
)

// Transcript appends every finished turn to a JSON-lines file for later
// review.
type Transcript struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

func OpenTranscript(path string) (*Transcript, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}

	return &Transcript{file: f, enc: json.NewEncoder(f)}, nil
}

func (t *Transcript) Record(turn core.Turn) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enc.Encode(turn)
}

func (t *Transcript) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.file.Close()
}
