package backup

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/lifesync/lifesync/internal/export"
)

type fakePutter struct {
	bucket string
	object string
	body   []byte
	opts   minio.PutObjectOptions
	err    error
}

func (f *fakePutter) PutObject(_ context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.err != nil {
		return minio.UploadInfo{}, f.err
	}
	f.bucket, f.object, f.opts = bucket, object, opts
	f.body, _ = io.ReadAll(r)
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: size}, nil
}

func TestObjectName(t *testing.T) {
	at := time.Date(2026, 7, 4, 9, 30, 0, 0, time.FixedZone("x", 3600))
	tests := []struct {
		prefix string
		format export.Format
		want   string
	}{
		{"", export.FormatJSON, "phone/20260704T083000Z.json"},
		{"/backups/", export.FormatReport, "backups/phone/20260704T083000Z.txt"},
		{"a/b", export.FormatCSV, "a/b/phone/20260704T083000Z.csv"},
	}
	for _, tt := range tests {
		if got := ObjectName(tt.prefix, "phone", at, tt.format); got != tt.want {
			t.Errorf("ObjectName(%q, %s) = %q, want %q", tt.prefix, tt.format, got, tt.want)
		}
	}
}

func TestUpload(t *testing.T) {
	fp := &fakePutter{}
	u := NewWithClient(fp, "lifesync", "exports", log.New(io.Discard, "", 0))

	at := time.Date(2026, 7, 4, 9, 30, 0, 0, time.UTC)
	object, err := u.Upload(context.Background(), "phone", at, export.FormatJSON, []byte(`{"count":0}`))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if object != "exports/phone/20260704T093000Z.json" || fp.object != object || fp.bucket != "lifesync" {
		t.Errorf("uploaded to %s/%s (returned %s)", fp.bucket, fp.object, object)
	}
	if string(fp.body) != `{"count":0}` || fp.opts.ContentType != "application/json" || fp.opts.UserMetadata["device"] != "phone" {
		t.Errorf("upload = %q %+v", fp.body, fp.opts)
	}

	if _, err := u.Upload(context.Background(), "", at, export.FormatJSON, nil); err == nil {
		t.Error("expected error for empty device")
	}
}

func TestUploadError(t *testing.T) {
	boom := errors.New("access denied")
	u := NewWithClient(&fakePutter{err: boom}, "b", "", log.New(io.Discard, "", 0))
	if _, err := u.Upload(context.Background(), "phone", time.Now(), export.FormatCSV, []byte("x")); !errors.Is(err, boom) {
		t.Errorf("Upload() error = %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := New(&Config{Endpoint: "localhost:9000"}); err == nil {
		t.Error("expected error for missing bucket")
	}
	if _, err := New(&Config{Endpoint: "localhost:9000", Bucket: "b", AccessKey: "k", SecretKey: "s"}); err != nil {
		t.Errorf("New failed: %v", err)
	}
}
