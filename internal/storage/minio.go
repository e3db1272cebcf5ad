// Package storage issues presigned writes against S3-compatible object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"supportchat/api/internal/config"
)

var ErrStorageDisabled = errors.New("object storage is not configured; set S3_* to enable uploads")

// Presigner is the slice of object storage the upload broker needs.
type Presigner interface {
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (*url.URL, error)
	PublicURL(key string) string
	Ping(ctx context.Context) error
}

// MinioPresigner talks to R2, MinIO or S3 through minio-go.
type MinioPresigner struct {
	client     *minio.Client
	bucket     string
	endpoint   string
	secure     bool
	publicBase string
	log        zerolog.Logger
	disabled   bool
}

func NewMinioPresigner(cfg config.Config, log zerolog.Logger) (*MinioPresigner, error) {
	logger := log.With().Str("component", "object-storage").Logger()
	p := &MinioPresigner{
		bucket:     strings.TrimSpace(cfg.S3Bucket),
		endpoint:   strings.TrimSpace(cfg.S3Endpoint),
		secure:     cfg.S3UseSSL,
		publicBase: strings.TrimRight(cfg.S3PublicBaseURL, "/"),
		log:        logger,
	}
	if !cfg.ObjectStorageConfigured() {
		logger.Warn().Msg("S3 bucket or credentials are not set; upload grants will fail until configured")
		p.disabled = true
		return p, nil
	}

	client, err := minio.New(p.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKeyID, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	p.client = client
	return p, nil
}

// PresignPut returns a URL that accepts exactly one PUT of key with the given
// Content-Type until ttl elapses.
func (p *MinioPresigner) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (*url.URL, error) {
	if p.disabled {
		return nil, ErrStorageDisabled
	}
	headers := http.Header{}
	if contentType != "" {
		headers.Set("Content-Type", contentType)
	}
	u, err := p.client.PresignHeader(ctx, http.MethodPut, p.bucket, key, ttl, nil, headers)
	if err != nil {
		return nil, fmt.Errorf("presign put %s: %w", key, err)
	}
	return u, nil
}

// PublicURL is where the object is served from once written.
func (p *MinioPresigner) PublicURL(key string) string {
	if p.publicBase != "" {
		return p.publicBase + "/" + key
	}
	scheme := "http"
	if p.secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, p.endpoint, p.bucket, key)
}

// Ping checks the bucket is reachable. A disabled presigner reports healthy
// so readiness does not depend on optional storage.
func (p *MinioPresigner) Ping(ctx context.Context) error {
	if p.disabled {
		return nil
	}
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", p.bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", p.bucket)
	}
	return nil
}
