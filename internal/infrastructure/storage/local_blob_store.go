package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/garyjia/invoice-matcher/internal/application/port"
	"go.uber.org/zap"
)

// Signed URL verification errors
var (
	ErrURLExpired   = errors.New("signed url expired")
	ErrBadSignature = errors.New("signed url signature mismatch")
)

// LocalBlobStore implements port.BlobStore on the local filesystem. Download
// URLs are HMAC-signed and served by the HTTP layer under /blobs/.
type LocalBlobStore struct {
	baseDir       string
	secret        []byte
	publicBaseURL string
	logger        *zap.Logger
}

// NewLocalBlobStore creates a store rooted at baseDir
func NewLocalBlobStore(baseDir, signingSecret, publicBaseURL string, logger *zap.Logger) (*LocalBlobStore, error) {
	if signingSecret == "" {
		return nil, fmt.Errorf("local blob store requires a signing secret")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalBlobStore{
		baseDir:       baseDir,
		secret:        []byte(signingSecret),
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        logger,
	}, nil
}

// Put writes the object, replacing it atomically
func (s *LocalBlobStore) Put(ctx context.Context, key string, data []byte, mediaType string) error {
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		s.logger.Error("Failed to create parent directories", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to create directories: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		s.logger.Error("Failed to write blob", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to store blob: %w", err)
	}

	s.logger.Debug("Blob stored",
		zap.String("key", key),
		zap.String("media_type", mediaType),
		zap.Int("size", len(data)))
	return nil
}

// Get reads the object
func (s *LocalBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(fullPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", port.ErrBlobNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

// Delete removes the object; a missing object is not an error
func (s *LocalBlobStore) Delete(ctx context.Context, key string) error {
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Error("Failed to delete blob", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// SignedURL returns a download URL valid for ttl
func (s *LocalBlobStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if _, err := s.resolve(key); err != nil {
		return "", err
	}
	expires := time.Now().Add(ttl).Unix()

	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", s.sign(key, expires))

	return fmt.Sprintf("%s/blobs/%s?%s", s.publicBaseURL, key, q.Encode()), nil
}

// Verify checks a signature produced by SignedURL
func (s *LocalBlobStore) Verify(key, expires, sig string, now time.Time) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	if !hmac.Equal([]byte(sig), []byte(s.sign(key, exp))) {
		return ErrBadSignature
	}
	if now.Unix() > exp {
		return ErrURLExpired
	}
	return nil
}

func (s *LocalBlobStore) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(key))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// resolve maps a key to a path inside baseDir
func (s *LocalBlobStore) resolve(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty blob key")
	}

	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Join(s.baseDir, filepath.FromSlash(key)))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("blob key escapes storage root: %s", key)
	}
	return absPath, nil
}

// Verify interface compliance
var _ port.BlobStore = (*LocalBlobStore)(nil)
