package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/dunamismax/cropflow/internal/errs"
)

type OSSConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	// Domain is a custom or CDN domain; the bucket domain is used when empty.
	Domain string
}

// OSSStore is a BlobStore on Aliyun OSS.
type OSSStore struct {
	bucket *oss.Bucket
	domain string
}

func NewOSSStore(cfg OSSConfig) (*OSSStore, error) {
	client, err := oss.New(cfg.Endpoint, cfg.AccessKey, cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("create oss client: %w", err)
	}

	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("open oss bucket %s: %w", cfg.Bucket, err)
	}

	domain := strings.TrimSpace(cfg.Domain)
	switch {
	case domain == "":
		endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")
		domain = fmt.Sprintf("https://%s.%s", cfg.Bucket, endpoint)
	case !strings.HasPrefix(domain, "http"):
		domain = "https://" + domain
	}

	return &OSSStore{bucket: bucket, domain: strings.TrimRight(domain, "/")}, nil
}

func (s *OSSStore) Upload(ctx context.Context, objectKey string, data []byte, contentType string) (string, error) {
	err := s.bucket.PutObject(objectKey, bytes.NewReader(data),
		oss.WithContext(ctx),
		oss.ContentType(contentType),
		oss.ForbidOverWrite(true),
	)
	if err != nil {
		return "", classifyOSS("oss.upload", objectKey, err)
	}
	return s.PublicURL(objectKey), nil
}

func (s *OSSStore) Replace(ctx context.Context, objectKey string, data []byte, contentType string) (string, error) {
	err := s.bucket.PutObject(objectKey, bytes.NewReader(data),
		oss.WithContext(ctx),
		oss.ContentType(contentType),
	)
	if err != nil {
		return "", classifyOSS("oss.replace", objectKey, err)
	}
	return s.PublicURL(objectKey), nil
}

// Remove succeeds for missing keys; OSS deletes are idempotent already.
func (s *OSSStore) Remove(ctx context.Context, objectKey string) error {
	if err := s.bucket.DeleteObject(objectKey, oss.WithContext(ctx)); err != nil {
		return classifyOSS("oss.remove", objectKey, err)
	}
	return nil
}

func (s *OSSStore) Read(ctx context.Context, objectKey string) ([]byte, error) {
	body, err := s.bucket.GetObject(objectKey, oss.WithContext(ctx))
	if err != nil {
		return nil, classifyOSS("oss.read", objectKey, err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, classifyOSS("oss.read", objectKey, err)
	}
	return data, nil
}

func (s *OSSStore) ObjectExists(_ context.Context, objectKey string) (bool, error) {
	ok, err := s.bucket.IsObjectExist(objectKey)
	if err != nil {
		return false, classifyOSS("oss.stat", objectKey, err)
	}
	return ok, nil
}

func (s *OSSStore) PresignedPutURL(_ context.Context, objectKey string, expiry time.Duration) (string, error) {
	seconds := int64(expiry.Seconds())
	if seconds <= 0 {
		seconds = 3600
	}
	u, err := s.bucket.SignURL(objectKey, oss.HTTPPut, seconds)
	if err != nil {
		return "", classifyOSS("oss.presign", objectKey, err)
	}
	return u, nil
}

func (s *OSSStore) PublicURL(objectKey string) string {
	return joinURL(s.domain, objectKey)
}

func ossCode(err error) string {
	var se oss.ServiceError
	if errors.As(err, &se) {
		return se.Code
	}
	var sep *oss.ServiceError
	if errors.As(err, &sep) {
		return sep.Code
	}
	return ""
}

func classifyOSS(op, objectKey string, err error) error {
	switch ossCode(err) {
	case "FileAlreadyExists":
		return errs.New(errs.KindConflict, op, fmt.Errorf("%s: %w", objectKey, err))
	case "QuotaExceeded", "InsufficientStorage", "EntityTooLarge":
		return errs.New(errs.KindQuota, op, fmt.Errorf("%s: %w", objectKey, err))
	case "NoSuchKey":
		return errs.New(errs.KindNotFound, op, fmt.Errorf("%s: %w", objectKey, err))
	}
	if netErr := networkError(op, err); netErr != nil {
		return netErr
	}
	return storageError(op, objectKey, err)
}
