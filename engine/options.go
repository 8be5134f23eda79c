package engine

import (
	"log/slog"
	"time"

	"github.com/PandiaJason/MidDB/blobstore"
	"github.com/PandiaJason/MidDB/codec"
	"github.com/PandiaJason/MidDB/persistence"
)

// Options represents the options for configuring the engine.
type Options struct {
	// Codec serializes the per-table record map into the data file.
	Codec codec.Codec

	// Compression is the compression scheme of the index sidecar.
	Compression persistence.Compression

	// FlushInterval bounds how long the worker waits before retrying
	// failed snapshots.
	FlushInterval time.Duration

	// BatchMax is the maximum number of tasks applied per batch before a
	// snapshot cycle runs.
	BatchMax int

	// QueueSize is the capacity of the write task queue. Producers block
	// (with context cancellation) when it is full.
	QueueSize int

	// Overfetch multiplies k for the embedding leg of hybrid queries. The
	// ANN layer cannot filter by field, so the intersection happens after
	// retrieval; overfetching is the recall lever.
	Overfetch int

	// M and EF configure new HNSW indexes.
	M  int
	EF int

	// RandomSeed seeds HNSW layer assignment for deterministic builds.
	RandomSeed *int64

	// Logger receives worker and snapshot diagnostics.
	Logger *slog.Logger

	// Mirror, when set, receives a best-effort copy of every snapshot file
	// after a successful flush.
	Mirror blobstore.Store
}

var DefaultOptions = Options{
	Compression:   persistence.CompressionZstd,
	FlushInterval: 5 * time.Second,
	BatchMax:      100,
	QueueSize:     1024,
	Overfetch:     10,
	M:             8,
	EF:            200,
}
