// Package storage is the content store the pipeline commits to. Backends implement
// BlobStore; Assets layers path generation and replace semantics on top.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/dunamismax/cropflow/internal/errs"
)

// BlobStore is the collaborator contract: bytes addressed by path.
//
// Upload never overwrites and fails with errs.ErrConflict when path exists.
// Replace overwrites in place; a failed Replace leaves the previous bytes intact.
// Remove is idempotent. PublicURL is pure and derived from the store's base URL.
type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
	Replace(ctx context.Context, path string, data []byte, contentType string) (string, error)
	Remove(ctx context.Context, path string) error
	PublicURL(path string) string
}

// Reader is implemented by stores that can return stored bytes.
type Reader interface {
	Read(ctx context.Context, path string) ([]byte, error)
}

// Stager is implemented by stores that can report whether a staged import
// source has arrived.
type Stager interface {
	ObjectExists(ctx context.Context, path string) (bool, error)
}

// Presigner is implemented by stores that let clients PUT directly.
type Presigner interface {
	PresignedPutURL(ctx context.Context, path string, expiry time.Duration) (string, error)
}

// CleanPath normalises an object path and rejects traversal.
func CleanPath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", errs.Newf(errs.KindInvalidInput, "storage.path", "path %q escapes the store", p)
		}
	}
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if p == "" {
		return "", errs.Newf(errs.KindInvalidInput, "storage.path", "path is required")
	}
	return p, nil
}

// joinURL appends an object path to a base URL, escaping each segment.
func joinURL(base, objectPath string) string {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return strings.TrimRight(base, "/") + "/" + objectPath
	}
	return u.JoinPath(strings.Split(objectPath, "/")...).String()
}

// sanitizePathToken keeps a folder segment to [A-Za-z0-9_-].
func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// networkError wraps transport failures as errs.KindNetwork.
func networkError(op string, err error) error {
	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return errs.New(errs.KindNetwork, op, err)
	}
	return nil
}

func storageError(op, objectPath string, err error) error {
	return errs.New(errs.KindStorage, op, fmt.Errorf("%s: %w", objectPath, err))
}
