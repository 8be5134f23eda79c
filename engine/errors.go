package engine

import "errors"

var (
	// ErrClosed is returned when writes are submitted after Close.
	ErrClosed = errors.New("engine is closed")

	// ErrEmptyEmbedding is returned when an upsert carries no embedding.
	// A table's dimensionality is fixed by its first record, and a
	// zero-length embedding would fix it to nothing.
	ErrEmptyEmbedding = errors.New("embedding must not be empty")
)
