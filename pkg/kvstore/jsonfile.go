package kvstore

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// JSONFileStore keeps one <key>.json file per key under a base
// directory. Writes go through a temp file plus rename so a crash
// never leaves a half-written document behind.
type JSONFileStore struct {
	baseDir string
}

// NewJSONFileStore creates the base directory if needed.
func NewJSONFileStore(baseDir string) (*JSONFileStore, error) {
	if baseDir == "" {
		return nil, errors.New("jsonfile store requires a base directory")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create store directory")
	}
	return &JSONFileStore{baseDir: baseDir}, nil
}

func (s *JSONFileStore) filePath(key string) string {
	// QueryEscape keeps hostile keys (path separators, dots) from
	// escaping the base directory.
	return filepath.Join(s.baseDir, url.QueryEscape(key)+".json")
}

// Load implements Store.
func (s *JSONFileStore) Load(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.filePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "failed to read %s", key)
	}
	return data, nil
}

// Save implements Store.
func (s *JSONFileStore) Save(_ context.Context, key string, data []byte) error {
	path := s.filePath(key)
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return errors.Wrapf(err, "failed to write temp file for %s", key)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, "failed to commit %s", key)
	}
	return nil
}

// List implements Store.
func (s *JSONFileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read store directory")
	}

	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		key, err := url.QueryUnescape(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Close implements Store. JSON files hold no open handles.
func (s *JSONFileStore) Close() error {
	return nil
}
