// Package backup uploads exports to S3-compatible object storage.
package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/lifesync/lifesync/internal/export"
)

// Config holds the object storage destination.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	// Prefix is prepended to every object name.
	Prefix string
	Secure bool
	Region string

	Logger *log.Logger
}

// ObjectPutter is the part of *minio.Client the uploader uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64,
		opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Uploader writes export files as objects named
// <prefix>/<device>/<timestamp>.<ext>.
type Uploader struct {
	client ObjectPutter
	bucket string
	prefix string
	logger *log.Logger
}

// New connects an uploader to the configured endpoint.
func New(cfg *Config) (*Uploader, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, fmt.Errorf("backup endpoint cannot be empty")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("backup bucket cannot be empty")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.Secure,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupAuto,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize object storage client: %w", err)
	}
	return NewWithClient(client, cfg.Bucket, cfg.Prefix, cfg.Logger), nil
}

// NewWithClient creates an uploader around an existing client.
func NewWithClient(client ObjectPutter, bucket, prefix string, logger *log.Logger) *Uploader {
	if logger == nil {
		logger = log.New(os.Stderr, "[backup] ", log.LstdFlags)
	}
	return &Uploader{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}
}

// ObjectName returns where an export taken at at is stored.
func ObjectName(prefix, device string, at time.Time, format export.Format) string {
	name := at.UTC().Format("20060102T150405Z") + "." + format.Extension()
	return path.Join(strings.Trim(prefix, "/"), device, name)
}

// Upload stores data and returns the object name.
func (u *Uploader) Upload(ctx context.Context, device string, at time.Time, format export.Format, data []byte) (string, error) {
	if device == "" {
		return "", fmt.Errorf("device id cannot be empty")
	}
	object := ObjectName(u.prefix, device, at, format)

	_, err := u.client.PutObject(ctx, u.bucket, object, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{
			ContentType: contentType(format),
			UserMetadata: map[string]string{
				"device": device,
				"format": string(format),
			},
		})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to %s: %w", object, u.bucket, err)
	}

	u.logger.Printf("Uploaded %s/%s (%d bytes)", u.bucket, object, len(data))
	return object, nil
}

func contentType(format export.Format) string {
	switch format {
	case export.FormatJSON:
		return "application/json"
	case export.FormatCSV:
		return "text/csv"
	case export.FormatYAML:
		return "application/yaml"
	case export.FormatTOML:
		return "application/toml"
	default:
		return "text/plain; charset=utf-8"
	}
}
