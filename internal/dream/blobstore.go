package dream

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
)

var safeName = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// FileBlobStore writes each blob to <dir>/<owner>/<key>.
type FileBlobStore struct {
	dir string
}

// NewFileBlobStore creates dir if needed.
func NewFileBlobStore(dir string) (*FileBlobStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FileBlobStore{dir: dir}, nil
}

func (s *FileBlobStore) path(owner, key string) (string, error) {
	if !safeName.MatchString(owner) || !safeName.MatchString(key) {
		return "", fmt.Errorf("invalid blob name %q/%q", owner, key)
	}
	return filepath.Join(s.dir, owner, key), nil
}

func (s *FileBlobStore) Put(_ context.Context, owner, key, value string) error {
	p, err := s.path(owner, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return fmt.Errorf("create owner dir: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, []byte(value), 0o600); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	return os.Rename(tmp, p)
}

func (s *FileBlobStore) Get(_ context.Context, owner, key string) (string, bool, error) {
	p, err := s.path(owner, key)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read blob: %w", err)
	}
	return string(data), true, nil
}
