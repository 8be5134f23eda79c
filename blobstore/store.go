// Package blobstore abstracts where table snapshots are mirrored after a
// flush: a local directory, process memory (tests), or S3-compatible
// object storage.
package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Store is an abstraction over named snapshot blobs.
type Store interface {
	// Put writes a blob, replacing any previous content under key.
	// size may be -1 when unknown.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get opens a blob for reading.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all blob keys with the given prefix, sorted ascending.
	List(ctx context.Context, prefix string) ([]string, error)
}
