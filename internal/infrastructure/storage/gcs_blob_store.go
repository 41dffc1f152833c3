package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/garyjia/invoice-matcher/internal/application/port"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

type serviceAccountJSON struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

// GCSBlobStore implements port.BlobStore on a Google Cloud Storage bucket
type GCSBlobStore struct {
	client         *storage.Client
	bucket         string
	googleAccessID string
	privateKey     []byte
	logger         *zap.Logger
}

// NewGCSBlobStore connects to bucket. credentialsJSON may be empty to use
// application default credentials.
func NewGCSBlobStore(ctx context.Context, bucket, credentialsJSON string, logger *zap.Logger) (*GCSBlobStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}

	var opts []option.ClientOption
	s := &GCSBlobStore{bucket: bucket, logger: logger}

	if creds := strings.TrimSpace(credentialsJSON); creds != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))

		var key serviceAccountJSON
		if err := json.Unmarshal([]byte(creds), &key); err != nil {
			return nil, fmt.Errorf("invalid gcs credentials json: %w", err)
		}
		s.googleAccessID = key.ClientEmail
		s.privateKey = []byte(strings.ReplaceAll(key.PrivateKey, `\n`, "\n"))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs client: %w", err)
	}
	s.client = client

	return s, nil
}

// Put uploads the object
func (s *GCSBlobStore) Put(ctx context.Context, key string, data []byte, mediaType string) error {
	wc := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	wc.ContentType = mediaType

	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		s.logger.Error("Failed to upload blob", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to upload blob: %w", err)
	}
	if err := wc.Close(); err != nil {
		s.logger.Error("Failed to finalize blob upload", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to upload blob: %w", err)
	}
	return nil
}

// Get downloads the object
func (s *GCSBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", port.ErrBlobNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

// Delete removes the object; a missing object is not an error
func (s *GCSBlobStore) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		s.logger.Error("Failed to delete blob", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// SignedURL returns a V4 signed GET URL valid for ttl
func (s *GCSBlobStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	}
	if s.googleAccessID != "" && len(s.privateKey) > 0 {
		opts.GoogleAccessID = s.googleAccessID
		opts.PrivateKey = s.privateKey
	}

	u, err := s.client.Bucket(s.bucket).SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("failed to sign url: %w", err)
	}
	return u, nil
}

// Close releases the client
func (s *GCSBlobStore) Close() error {
	return s.client.Close()
}

// Verify interface compliance
var _ port.BlobStore = (*GCSBlobStore)(nil)
