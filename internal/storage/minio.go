package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dunamismax/cropflow/internal/errs"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioConfig struct {
	Endpoint      string
	Access        string
	Secret        string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string
}

// MinioStore is a BlobStore on any S3-compatible endpoint.
type MinioStore struct {
	minio   *minio.Client
	bucket  string
	baseURL string
}

func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	baseURL := strings.TrimSpace(cfg.PublicBaseURL)
	if baseURL == "" {
		baseURL = mc.EndpointURL().String() + "/" + cfg.Bucket
	}

	return &MinioStore{
		minio:   mc,
		bucket:  cfg.Bucket,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

func (s *MinioStore) Bucket() string {
	return s.bucket
}

func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.minio.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := s.minio.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, checkErr := s.minio.BucketExists(ctx, s.bucket)
		if checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}

	return nil
}

// PresignedPutURL lets clients stage import sources without going through the API.
func (s *MinioStore) PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	u, err := s.minio.PresignedPutObject(ctx, s.bucket, objectKey, expiry)
	if err != nil {
		return "", classifyMinio("minio.presign", objectKey, err)
	}
	return u.String(), nil
}

func (s *MinioStore) ObjectExists(ctx context.Context, objectKey string) (bool, error) {
	_, err := s.minio.StatObject(ctx, s.bucket, objectKey, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isMinioNotFound(err) {
		return false, nil
	}
	return false, classifyMinio("minio.stat", objectKey, err)
}

func (s *MinioStore) Read(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := s.minio.GetObject(ctx, s.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyMinio("minio.read", objectKey, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, classifyMinio("minio.read", objectKey, err)
	}
	return data, nil
}

// Upload refuses to overwrite. S3 has no portable create-only put, so the check
// is a stat followed by the put.
func (s *MinioStore) Upload(ctx context.Context, objectKey string, data []byte, contentType string) (string, error) {
	exists, err := s.ObjectExists(ctx, objectKey)
	if err != nil {
		return "", err
	}
	if exists {
		return "", errs.Newf(errs.KindConflict, "minio.upload", "object %s already exists", objectKey)
	}
	if err := s.put(ctx, "minio.upload", objectKey, data, contentType); err != nil {
		return "", err
	}
	return s.PublicURL(objectKey), nil
}

// Replace overwrites objectKey. S3 puts are atomic per object, so a failed put
// leaves the previous version readable.
func (s *MinioStore) Replace(ctx context.Context, objectKey string, data []byte, contentType string) (string, error) {
	if err := s.put(ctx, "minio.replace", objectKey, data, contentType); err != nil {
		return "", err
	}
	return s.PublicURL(objectKey), nil
}

func (s *MinioStore) Remove(ctx context.Context, objectKey string) error {
	err := s.minio.RemoveObject(ctx, s.bucket, objectKey, minio.RemoveObjectOptions{})
	if err != nil && !isMinioNotFound(err) {
		return classifyMinio("minio.remove", objectKey, err)
	}
	return nil
}

func (s *MinioStore) PublicURL(objectKey string) string {
	return joinURL(s.baseURL, objectKey)
}

func (s *MinioStore) put(ctx context.Context, op, objectKey string, data []byte, contentType string) error {
	reader := bytes.NewReader(data)
	_, err := s.minio.PutObject(
		ctx,
		s.bucket,
		objectKey,
		reader,
		int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType, CacheControl: "public, max-age=31536000"},
	)
	if err != nil {
		return classifyMinio(op, objectKey, err)
	}
	return nil
}

func isMinioNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchObject"
}

var minioQuotaCodes = map[string]bool{
	"XMinioAdminBucketQuotaExceeded": true,
	"XMinioStorageFull":              true,
	"QuotaExceeded":                  true,
	"EntityTooLarge":                 true,
}

// classifyMinio maps a minio error onto the errs taxonomy.
func classifyMinio(op, objectKey string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case minioQuotaCodes[resp.Code]:
		return errs.New(errs.KindQuota, op, fmt.Errorf("%s: %w", objectKey, err))
	case resp.Code == "PreconditionFailed":
		return errs.New(errs.KindConflict, op, fmt.Errorf("%s: %w", objectKey, err))
	case resp.Code == "NoSuchKey" || resp.Code == "NoSuchObject":
		return errs.New(errs.KindNotFound, op, fmt.Errorf("%s: %w", objectKey, err))
	}
	if netErr := networkError(op, err); netErr != nil {
		return netErr
	}
	return storageError(op, objectKey, err)
}
