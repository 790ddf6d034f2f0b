// Package media stores report attachments in an S3-compatible bucket.
package media

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"citizen-reporting-system/pkg/report"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const MaxUploadSize = 5 << 20

var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL prefixes returned object URLs. Defaults to the endpoint.
	PublicURL string
}

type Store struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

func New(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	base := strings.TrimRight(cfg.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + cfg.Endpoint
	}
	return &Store{client: client, bucket: cfg.Bucket, publicURL: base}, nil
}

// EnsureBucket creates the bucket when missing.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("%w: check bucket: %v", report.ErrDependencyUnavailable, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Upload writes the object and returns its URL.
func (s *Store) Upload(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, objectPath, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("%w: upload %s: %v", report.ErrDependencyUnavailable, objectPath, err)
	}
	return s.URL(objectPath), nil
}

func (s *Store) Delete(ctx context.Context, objectPath string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectPath, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("%w: delete %s: %v", report.ErrDependencyUnavailable, objectPath, err)
	}
	return nil
}

func (s *Store) URL(objectPath string) string {
	return s.publicURL + "/" + s.bucket + "/" + objectPath
}

// ValidateUpload checks an attachment before it is stored.
func ValidateUpload(contentType string, size int64) error {
	if _, ok := allowedTypes[normalizeType(contentType)]; !ok {
		return report.NewValidationError("file", fmt.Sprintf("unsupported content type %q", contentType))
	}
	if size <= 0 {
		return report.NewValidationError("file", "empty upload")
	}
	if size > MaxUploadSize {
		return report.NewValidationError("file", fmt.Sprintf("larger than %d bytes", MaxUploadSize))
	}
	return nil
}

// ObjectPath builds a collision-free key of the form
// reports/<yyyy>/<mm>/<uuid><ext>.
func ObjectPath(now time.Time, contentType string) string {
	now = now.UTC()
	return path.Join("reports", now.Format("2006"), now.Format("01"), uuid.NewString()+allowedTypes[normalizeType(contentType)])
}

func normalizeType(contentType string) string {
	ct, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(ct))
}
