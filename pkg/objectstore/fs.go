package objectstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FSStore implements Store on the local file system, for development and
// tests. Uploaded objects get file:// URLs.
type FSStore struct {
	root string
}

// NewFSStore creates a file-system store rooted at the given directory.
func NewFSStore(root string) *FSStore {
	return &FSStore{root: strings.Replace(root, "file://", "", 1)}
}

func (s *FSStore) GetText(_ context.Context, key string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(key)))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}

		return "", fmt.Errorf("failed to read object %s: %w", key, err)
	}

	return string(data), nil
}

func (s *FSStore) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(s.root, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create object directory for %s: %w", key, err)
	}

	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("failed to write object %s: %w", key, err)
	}

	return "file://" + filepath.ToSlash(path), nil
}
