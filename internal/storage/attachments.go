// Package storage issues upload URLs for chat attachments stored in an
// S3-compatible bucket (MinIO in development).
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/casasegura/backend/internal/config"
	"github.com/casasegura/backend/internal/domain"
)

// ErrInvalidUpload is returned for a disallowed content type or size.
var ErrInvalidUpload = errors.New("invalid attachment")

var extensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

// Upload tells a client where to PUT a file and what to send as the
// message's file_url afterwards.
type Upload struct {
	UploadURL string             `json:"upload_url"`
	FileURL   string             `json:"file_url"`
	Key       string             `json:"key"`
	Type      domain.MessageType `json:"type"`
	ExpiresAt time.Time          `json:"expires_at"`
	Headers   map[string]string  `json:"headers"`
}

// Attachments signs uploads into one bucket.
type Attachments struct {
	client   *minio.Client
	bucket   string
	ttl      time.Duration
	maxBytes int64
	public   string
}

// New connects to MinIO and checks the bucket exists. It returns nil and no
// error when no endpoint is configured, which disables attachments.
func New(ctx context.Context, cfg config.StorageConfig) (*Attachments, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	endpoint, secure := cfg.Endpoint, cfg.UseSSL
	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" && u.Host != "" {
		endpoint = u.Host
		secure = u.Scheme == "https"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("minio bucket check: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("minio bucket %q does not exist", cfg.Bucket)
	}
	return newAttachments(client, cfg), nil
}

func newAttachments(client *minio.Client, cfg config.StorageConfig) *Attachments {
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &Attachments{
		client:   client,
		bucket:   cfg.Bucket,
		ttl:      ttl,
		maxBytes: maxBytes,
		public:   strings.TrimRight(cfg.PublicURL, "/"),
	}
}

// UploadURL signs a PUT for a file of contentType and size bytes under
// attachments/<conversationID>/.
func (a *Attachments) UploadURL(ctx context.Context, conversationID, contentType string, size int64) (*Upload, error) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	ext, ok := extensions[contentType]
	if !ok || size <= 0 || size > a.maxBytes {
		return nil, ErrInvalidUpload
	}

	key := path.Join("attachments", conversationID, uuid.NewString()+ext)
	signed, err := a.client.PresignedPutObject(ctx, a.bucket, key, a.ttl)
	if err != nil {
		return nil, fmt.Errorf("presign put: %w", err)
	}

	typ := domain.MessageFile
	if strings.HasPrefix(contentType, "image/") {
		typ = domain.MessageImage
	}
	return &Upload{
		UploadURL: signed.String(),
		FileURL:   a.fileURL(key),
		Key:       key,
		Type:      typ,
		ExpiresAt: time.Now().UTC().Add(a.ttl),
		Headers: map[string]string{
			"Content-Type":   contentType,
			"Content-Length": strconv.FormatInt(size, 10),
		},
	}, nil
}

func (a *Attachments) fileURL(key string) string {
	if a.public != "" {
		return a.public + "/" + key
	}
	return a.client.EndpointURL().JoinPath(a.bucket, key).String()
}
