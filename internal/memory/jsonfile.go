package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// JSONFile keeps facts as a single JSON object on disk. Saves go through a
// temp file and rename so a crash never leaves a half-written store.
type JSONFile struct {
	path string
}

func NewJSONFile(path string) *JSONFile {
	return &JSONFile{path: path}
}

func (f *JSONFile) Load(_ context.Context) (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]string{}, nil
	}

	facts := make(map[string]string)
	if err := json.Unmarshal(data, &facts); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, f.path, err)
	}
	return facts, nil
}

func (f *JSONFile) Save(_ context.Context, facts map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(facts, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".facts-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), f.path)
}

func (f *JSONFile) Close() error { return nil }
