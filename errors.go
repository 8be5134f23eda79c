package middb

import (
	"github.com/PandiaJason/MidDB/engine"
	"github.com/PandiaJason/MidDB/index"
)

// Re-exported error values so callers rarely need to import the inner
// packages.
var (
	// ErrClosed is returned when writes are submitted after Close.
	ErrClosed = engine.ErrClosed

	// ErrEmptyEmbedding is returned when an upsert carries no embedding.
	ErrEmptyEmbedding = engine.ErrEmptyEmbedding

	// ErrInvalidK is returned when a query's k is not positive.
	ErrInvalidK = index.ErrInvalidK
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
type ErrDimensionMismatch = index.ErrDimensionMismatch
