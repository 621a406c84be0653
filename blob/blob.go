// Package blob stores raw message payloads. Writes run through a
// pipeline that optionally compresses and then encrypts the stream;
// the transformations applied are recorded in the returned URI so
// reads can invert them even after the pipeline configuration changes.
package blob

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrNotFound indicates the requested blob does not exist.
	ErrNotFound = errors.New("blob: not found")

	// ErrUnknownProfile indicates a URI references a storage profile
	// the pipeline was not configured with.
	ErrUnknownProfile = errors.New("blob: unknown storage profile")

	// ErrUnknownCodec indicates a URI records a compression or
	// encryption codec the pipeline cannot resolve.
	ErrUnknownCodec = errors.New("blob: unknown codec")

	// ErrUnknownKey indicates a URI records an encryption key alias
	// the keyring does not hold.
	ErrUnknownKey = errors.New("blob: unknown encryption key")
)

// Store is a single blob storage backend. Implementations exist for
// S3, GCS and in-memory storage. Keys are opaque and may contain
// slashes.
type Store interface {
	// Put stores content under key, overwriting any existing blob.
	Put(ctx context.Context, key string, content io.Reader) error

	// Get returns a reader for the blob. Caller closes the reader.
	// Returns ErrNotFound if the blob does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, key string) error
}
