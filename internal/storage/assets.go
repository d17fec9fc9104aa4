package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/dunamismax/cropflow/internal/errs"
	"github.com/dunamismax/cropflow/internal/id"
	"go.uber.org/zap"
)

// Assets turns encoded bytes into StoredAssets. New assets get generated paths
// of the form <bucket>/<folder>/<unixmilli>-<random>.<ext>; replaced assets keep
// their path and get a new Version for cache-busting.
type Assets struct {
	store  BlobStore
	logger *zap.Logger
	now    func() time.Time
}

type AssetsOption func(*Assets)

func WithAssetsLogger(l *zap.Logger) AssetsOption {
	return func(a *Assets) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock overrides the time source used for path tokens and versions.
func WithClock(now func() time.Time) AssetsOption {
	return func(a *Assets) {
		if now != nil {
			a.now = now
		}
	}
}

func NewAssets(store BlobStore, opts ...AssetsOption) *Assets {
	a := &Assets{store: store, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Assets) Store() BlobStore { return a.store }

// NewPath builds a fresh path for bucket. Folder segments are sanitised; an
// empty folder is omitted.
func (a *Assets) NewPath(bucket domain.Bucket, folder string, mime domain.MimeType) string {
	parts := []string{string(bucket)}
	for _, seg := range strings.Split(strings.ReplaceAll(folder, "\\", "/"), "/") {
		if strings.TrimSpace(seg) == "" {
			continue
		}
		parts = append(parts, sanitizePathToken(seg))
	}
	parts = append(parts, id.Token(a.now())+"."+mime.Extension())
	return strings.Join(parts, "/")
}

// Upload stores data under a newly generated path. A Conflict is surfaced
// unchanged; the caller retries with a fresh token by calling Upload again.
func (a *Assets) Upload(ctx context.Context, bucket domain.Bucket, folder string, data []byte, mime domain.MimeType) (domain.StoredAsset, error) {
	return a.UploadAt(ctx, a.NewPath(bucket, folder, mime), data, mime)
}

// UploadAt stores data at an explicit path without overwriting.
func (a *Assets) UploadAt(ctx context.Context, path string, data []byte, mime domain.MimeType) (domain.StoredAsset, error) {
	path, err := CleanPath(path)
	if err != nil {
		return domain.StoredAsset{}, err
	}

	url, err := a.store.Upload(ctx, path, data, string(mime))
	if err != nil {
		return domain.StoredAsset{}, uploadError("assets.upload", err)
	}

	a.logger.Info("asset uploaded", zap.String("path", path), zap.Int("bytes", len(data)))
	return domain.StoredAsset{Path: path, URL: url, UpdatedAt: a.now().UTC()}, nil
}

// Replace overwrites the bytes at path. The URL string is the same one the
// original upload returned; Version changes on every replace.
func (a *Assets) Replace(ctx context.Context, path string, data []byte, mime domain.MimeType) (domain.StoredAsset, error) {
	path, err := CleanPath(path)
	if err != nil {
		return domain.StoredAsset{}, err
	}

	url, err := a.store.Replace(ctx, path, data, string(mime))
	if err != nil {
		return domain.StoredAsset{}, uploadError("assets.replace", err)
	}

	now := a.now().UTC()
	a.logger.Info("asset replaced", zap.String("path", path), zap.Int("bytes", len(data)))
	return domain.StoredAsset{Path: path, URL: url, Version: now.UnixMilli(), UpdatedAt: now}, nil
}

// Remove deletes path. Removing a missing path succeeds.
func (a *Assets) Remove(ctx context.Context, path string) error {
	path, err := CleanPath(path)
	if err != nil {
		return err
	}
	if err := a.store.Remove(ctx, path); err != nil {
		return uploadError("assets.remove", err)
	}
	return nil
}

func (a *Assets) PublicURL(path string) string {
	return a.store.PublicURL(strings.TrimPrefix(path, "/"))
}

// uploadError makes sure anything leaving the upload step is in the upload
// family, keeping the more specific kind when the backend set one.
func uploadError(op string, err error) error {
	switch errs.KindOf(err) {
	case errs.KindConflict, errs.KindNetwork, errs.KindQuota, errs.KindStorage, errs.KindNotFound, errs.KindInvalidInput:
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errs.New(errs.KindStorage, op, err)
}
