package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/dunamismax/cropflow/internal/errs"
)

// LocalStore is a BlobStore rooted at a directory, served elsewhere under BaseURL.
type LocalStore struct {
	basePath string
	baseURL  string
}

func NewLocalStore(basePath, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	if baseURL == "" {
		baseURL = "/media"
	}
	return &LocalStore{basePath: basePath, baseURL: baseURL}, nil
}

// Upload writes to a temp file and hard-links it into place, so the final path
// either does not exist or holds the complete object.
func (s *LocalStore) Upload(ctx context.Context, objectPath string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full := s.full(objectPath)
	tmp, err := s.writeTemp(full, data)
	if err != nil {
		return "", classifyLocal("local.upload", objectPath, err)
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, full); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", errs.Newf(errs.KindConflict, "local.upload", "object %s already exists", objectPath)
		}
		return "", classifyLocal("local.upload", objectPath, err)
	}
	return s.PublicURL(objectPath), nil
}

// Replace renames a fully written temp file over the target.
func (s *LocalStore) Replace(ctx context.Context, objectPath string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full := s.full(objectPath)
	tmp, err := s.writeTemp(full, data)
	if err != nil {
		return "", classifyLocal("local.replace", objectPath, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return "", classifyLocal("local.replace", objectPath, err)
	}
	return s.PublicURL(objectPath), nil
}

func (s *LocalStore) Remove(_ context.Context, objectPath string) error {
	err := os.Remove(s.full(objectPath))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return classifyLocal("local.remove", objectPath, err)
	}
	return nil
}

func (s *LocalStore) Read(_ context.Context, objectPath string) ([]byte, error) {
	data, err := os.ReadFile(s.full(objectPath))
	if err != nil {
		return nil, classifyLocal("local.read", objectPath, err)
	}
	return data, nil
}

func (s *LocalStore) ObjectExists(_ context.Context, objectPath string) (bool, error) {
	_, err := os.Stat(s.full(objectPath))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	}
	return false, classifyLocal("local.stat", objectPath, err)
}

func (s *LocalStore) PublicURL(objectPath string) string {
	return joinURL(s.baseURL, objectPath)
}

func (s *LocalStore) full(objectPath string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(objectPath))
}

func (s *LocalStore) writeTemp(full string, data []byte) (string, error) {
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func classifyLocal(op, objectPath string, err error) error {
	switch {
	case errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT):
		return errs.New(errs.KindQuota, op, fmt.Errorf("%s: %w", objectPath, err))
	case errors.Is(err, fs.ErrNotExist):
		return errs.New(errs.KindNotFound, op, fmt.Errorf("%s: %w", objectPath, err))
	}
	return storageError(op, objectPath, err)
}
