package port

import (
	"context"
	"errors"
	"time"
)

// ErrBlobNotFound is returned by BlobStore.Get for a missing key
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore defines object storage operations for invoice files
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, mediaType string) error

	// Delete removes the object; deleting a missing key succeeds
	Delete(ctx context.Context, key string) error

	// SignedURL returns a time-limited download URL for the object
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)

	Get(ctx context.Context, key string) ([]byte, error)
}
