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
)

// ErrObjectNotFound is returned by Stat for missing keys.
var ErrObjectNotFound = errors.New("object not found")

// UploadPolicy restricts what a browser may upload with a ticket.
type UploadPolicy struct {
	ContentType string
	MaxBytes    int64
}

// UploadTicket is a presigned POST form for a direct browser upload.
type UploadTicket struct {
	URL       string            `json:"url"`
	Fields    map[string]string `json:"fields"`
	Key       string            `json:"key"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
}

// ObjectStore provides access to object storage.
type ObjectStore interface {
	PresignUpload(ctx context.Context, key string, policy UploadPolicy, expiry time.Duration) (UploadTicket, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// MinioStore implements ObjectStore for MinIO/S3 compatible storage.
type MinioStore struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
// publicURL is the base browsers use to read objects; it defaults to the endpoint.
func NewMinioStore(endpoint, accessKey, secretKey, bucket string, useSSL bool, publicURL string) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	publicURL = strings.TrimRight(strings.TrimSpace(publicURL), "/")
	if publicURL == "" {
		scheme := "http"
		if useSSL {
			scheme = "https"
		}
		publicURL = scheme + "://" + endpoint
	}
	return &MinioStore{client: client, bucket: bucket, publicURL: publicURL}, nil
}

// PresignUpload builds a POST policy limited to one key, one content type and a size range.
func (m *MinioStore) PresignUpload(ctx context.Context, key string, policy UploadPolicy, expiry time.Duration) (UploadTicket, error) {
	expiresAt := time.Now().UTC().Add(expiry)
	p := minio.NewPostPolicy()
	if err := p.SetBucket(m.bucket); err != nil {
		return UploadTicket{}, fmt.Errorf("post policy bucket: %w", err)
	}
	if err := p.SetKey(key); err != nil {
		return UploadTicket{}, fmt.Errorf("post policy key: %w", err)
	}
	if err := p.SetExpires(expiresAt); err != nil {
		return UploadTicket{}, fmt.Errorf("post policy expiry: %w", err)
	}
	if policy.ContentType != "" {
		if err := p.SetContentType(policy.ContentType); err != nil {
			return UploadTicket{}, fmt.Errorf("post policy content type: %w", err)
		}
	}
	if policy.MaxBytes > 0 {
		if err := p.SetContentLengthRange(1, policy.MaxBytes); err != nil {
			return UploadTicket{}, fmt.Errorf("post policy length: %w", err)
		}
	}
	u, fields, err := m.client.PresignedPostPolicy(ctx, p)
	if err != nil {
		return UploadTicket{}, fmt.Errorf("presign post: %w", err)
	}
	return UploadTicket{URL: u.String(), Fields: fields, Key: key, ExpiresAt: expiresAt}, nil
}

// Stat reads object metadata.
func (m *MinioStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	info, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
			return ObjectInfo{}, ErrObjectNotFound
		}
		return ObjectInfo{}, fmt.Errorf("stat object: %w", err)
	}
	return ObjectInfo{Key: key, Size: info.Size, ContentType: info.ContentType}, nil
}

// Delete removes an object.
func (m *MinioStore) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// URL is the public address of key.
func (m *MinioStore) URL(key string) string {
	return m.publicURL + "/" + url.PathEscape(m.bucket) + "/" + escapeKey(key)
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
