package middb

import (
	"log/slog"
	"time"

	"github.com/PandiaJason/MidDB/blobstore"
	"github.com/PandiaJason/MidDB/codec"
	"github.com/PandiaJason/MidDB/persistence"
)

type options struct {
	codec         codec.Codec
	compression   persistence.Compression
	flushInterval time.Duration
	batchMax      int
	queueSize     int
	overfetch     int
	m             int
	ef            int
	randomSeed    *int64
	logger        *Logger
	metrics       MetricsCollector
	mirror        blobstore.Store
}

// Option configures Open behavior.
type Option func(*options)

// WithCodec configures the codec used for the table data files.
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithCompression configures the compression scheme of the index sidecar.
// Persisted files are self-describing, so changing this only affects new
// snapshots.
func WithCompression(c persistence.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithFlushInterval configures the write pipeline's flush interval: the
// upper bound on how long a failed snapshot waits before being retried.
// Default: 5s.
func WithFlushInterval(d time.Duration) Option {
	return func(o *options) {
		o.flushInterval = d
	}
}

// WithBatchMax configures how many queued tasks the worker applies per
// batch before snapshotting. Default: 100.
func WithBatchMax(n int) Option {
	return func(o *options) {
		o.batchMax = n
	}
}

// WithQueueSize configures the capacity of the write task queue. Producers
// block when it is full. Default: 1024.
func WithQueueSize(n int) Option {
	return func(o *options) {
		o.queueSize = n
	}
}

// WithOverfetch configures the hybrid query overfetch factor: the
// embedding leg retrieves factor·k candidates before intersecting with the
// field match. Default: 10.
func WithOverfetch(factor int) Option {
	return func(o *options) {
		o.overfetch = factor
	}
}

// WithHNSW configures graph connectivity (m) and the construction/search
// candidate list size (ef) for newly created indexes.
func WithHNSW(m, ef int) Option {
	return func(o *options) {
		o.m = m
		o.ef = ef
	}
}

// WithRandomSeed seeds HNSW layer assignment for deterministic index
// construction. If not set, a time-based seed is used.
func WithRandomSeed(seed int64) Option {
	return func(o *options) {
		o.randomSeed = &seed
	}
}

// WithLogger configures structured logging for operations.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metrics = mc
	}
}

// WithSnapshotMirror configures a blob store that receives a best-effort
// copy of every snapshot file after a successful flush. Mirror failures are
// logged and never affect local durability.
func WithSnapshotMirror(store blobstore.Store) Option {
	return func(o *options) {
		o.mirror = store
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		compression: persistence.CompressionZstd,
		metrics:     NoopMetricsCollector{},
		logger:      NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
