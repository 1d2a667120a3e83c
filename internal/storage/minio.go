// Package storage keeps ad media in an S3-compatible bucket.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL is the base that object names are appended to. Defaults to
	// the endpoint plus bucket.
	PublicURL string
}

// objectClient is the part of *minio.Client the store uses.
type objectClient interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

type Minio struct {
	client    objectClient
	bucket    string
	publicURL string
}

func NewMinio(opts Options) (*Minio, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	base := strings.TrimSpace(opts.PublicURL)
	if base == "" {
		scheme := "http"
		if opts.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + opts.Endpoint + "/" + opts.Bucket
	}
	return newMinio(client, opts.Bucket, base), nil
}

func newMinio(client objectClient, bucket, publicURL string) *Minio {
	return &Minio{client: client, bucket: bucket, publicURL: strings.TrimRight(publicURL, "/")}
}

// EnsureBucket creates the bucket when it does not exist yet.
func (m *Minio) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", m.bucket, err)
	}
	return nil
}

// Upload stores body under objectName and returns its public URL. The URL
// is servable as soon as Upload returns.
func (m *Minio) Upload(ctx context.Context, objectName, contentType string, body io.Reader, size int64) (string, error) {
	_, err := m.client.PutObject(ctx, m.bucket, objectName, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", objectName, err)
	}
	return m.URL(objectName), nil
}

func (m *Minio) Remove(ctx context.Context, objectName string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", objectName, err)
	}
	return nil
}

func (m *Minio) URL(objectName string) string {
	return m.publicURL + "/" + strings.TrimLeft(objectName, "/")
}

// AdMediaObject names a fresh object for an ad's media, keeping the
// original file extension.
func AdMediaObject(adID, filename string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(filename, "\\", "/"))))
	return "ads/" + adID + "/" + uuid.NewString() + ext
}
