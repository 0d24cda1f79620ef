package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

var ErrHandleTaken = errors.New("staged object already exists")

// GCSStager keeps uploads as objects under Prefix in Bucket.
type GCSStager struct {
	client *storage.Client
	Bucket string
	Prefix string
}

// NewGCSStager creates a storage client for bucket. STORAGE_EMULATOR_HOST
// is honoured by the client library.
func NewGCSStager(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*GCSStager, error) {
	if bucket == "" {
		return nil, errors.New("gcs staging requires a bucket")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSStager{client: client, Bucket: bucket, Prefix: prefix}, nil
}

// Stage uploads r as a fresh object. The write only succeeds if the object
// does not exist yet; the object is durable once Close returns.
func (s *GCSStager) Stage(ctx context.Context, name string, r io.Reader) (string, error) {
	object := path.Join(s.Prefix, uuid.NewString()+strings.ToLower(path.Ext(name)))

	w := s.client.Bucket(s.Bucket).Object(object).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.Metadata = map[string]string{"original-name": name}

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == 412 {
			return "", fmt.Errorf("%w: %s", ErrHandleTaken, object)
		}
		return "", fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return object, nil
}

func (s *GCSStager) Open(ctx context.Context, handle string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.Bucket).Object(handle).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open gs://%s/%s: %w", s.Bucket, handle, err)
	}
	return r, nil
}

func (s *GCSStager) Remove(ctx context.Context, handle string) error {
	err := s.client.Bucket(s.Bucket).Object(handle).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete gs://%s/%s: %w", s.Bucket, handle, err)
	}
	return nil
}

// Exists reports whether the object behind handle is still present.
func (s *GCSStager) Exists(ctx context.Context, handle string) (bool, error) {
	_, err := s.client.Bucket(s.Bucket).Object(handle).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *GCSStager) Close() error {
	return s.client.Close()
}
