// Package gcsuploader reads and writes objects in Google Cloud Storage.
package gcsuploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// UploadTimeout bounds a single upload.
const UploadTimeout = 2 * time.Minute

// Storage wraps a shared GCS client. It assumes Application Default
// Credentials are configured (gcloud auth application-default login).
type Storage struct {
	client *storage.Client
}

// NewStorage creates a GCS client.
func NewStorage(ctx context.Context) (*Storage, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Storage{client: client}, nil
}

// Close closes the underlying client.
func (s *Storage) Close() error {
	return s.client.Close()
}

// Fetch downloads the object at gcsURI (gs://bucket/path/to/object).
func (s *Storage) Fetch(ctx context.Context, gcsURI string) ([]byte, error) {
	bucket, object, err := ParseGCSURI(gcsURI)
	if err != nil {
		return nil, err
	}

	rc, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch: reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("fetch: reading bytes: %w", err)
	}
	return data, nil
}

// Upload writes r to bucket/object and returns the object's gs:// URI.
func (s *Storage) Upload(ctx context.Context, bucket, object, contentType string, r io.Reader) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, UploadTimeout)
	defer cancel()

	w := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("copy to GCS writer: %w", err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}
	return "gs://" + bucket + "/" + object, nil
}

// UploadBytes uploads data to bucket/object.
func (s *Storage) UploadBytes(ctx context.Context, bucket, object, contentType string, data []byte) (string, error) {
	return s.Upload(ctx, bucket, object, contentType, bytes.NewReader(data))
}

// UploadFile uploads a local file to bucket/object.
func (s *Storage) UploadFile(ctx context.Context, bucket, object, filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open file %q: %w", filePath, err)
	}
	defer f.Close()
	return s.Upload(ctx, bucket, object, ContentTypeFor(filePath), f)
}

// ParseGCSURI splits gs://bucket/path into bucket and object path.
func ParseGCSURI(gcsURI string) (bucket, object string, err error) {
	if !strings.HasPrefix(gcsURI, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", gcsURI)
	}
	parts := strings.SplitN(strings.TrimPrefix(gcsURI, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", gcsURI)
	}
	return parts[0], parts[1], nil
}

// ExtractFilenameFromGCSURI extracts the filename from a GCS URI.
// e.g., "gs://bucket/folder/file.pdf" → "file.pdf"
func ExtractFilenameFromGCSURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}

// ContentTypeFor guesses the content type of an invoice artifact by extension.
func ContentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".json":
		return "application/json"
	case ".jsonl":
		return "application/x-ndjson"
	default:
		return "application/octet-stream"
	}
}
