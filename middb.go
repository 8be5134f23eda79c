package middb

import (
	"context"
	"time"

	"github.com/PandiaJason/MidDB/engine"
)

// DB is an embedded hybrid database: structured records plus embeddings,
// with field, embedding, and hybrid queries over them.
//
// All methods are safe for concurrent use. Writes are asynchronous; Flush
// blocks until previously submitted writes are applied and snapshotted.
type DB struct {
	engine  *engine.Engine
	logger  *Logger
	metrics MetricsCollector
}

// Open loads (or creates) a database rooted at dir and starts its write
// pipeline.
func Open(dir string, optFns ...Option) (*DB, error) {
	opts := applyOptions(optFns)

	eng, err := engine.New(dir, func(o *engine.Options) {
		o.Codec = opts.codec
		o.Compression = opts.compression
		o.Logger = opts.logger.Logger
		o.Mirror = opts.mirror
		o.RandomSeed = opts.randomSeed

		if opts.flushInterval > 0 {
			o.FlushInterval = opts.flushInterval
		}
		if opts.batchMax > 0 {
			o.BatchMax = opts.batchMax
		}
		if opts.queueSize > 0 {
			o.QueueSize = opts.queueSize
		}
		if opts.overfetch > 0 {
			o.Overfetch = opts.overfetch
		}
		if opts.m > 0 {
			o.M = opts.m
		}
		if opts.ef > 0 {
			o.EF = opts.ef
		}
	})
	if err != nil {
		return nil, err
	}

	return &DB{
		engine:  eng,
		logger:  opts.logger,
		metrics: opts.metrics,
	}, nil
}

// Upsert inserts or replaces the record for (table, id). The table is
// created on first use; its dimensionality is fixed by the first record.
//
// The write is asynchronous: a nil return means the task was enqueued, not
// applied. Per-record validation failures (dimension mismatch, empty
// embedding) are logged by the pipeline worker.
func (db *DB) Upsert(ctx context.Context, table, id string, fields map[string]string, embedding []float32) error {
	start := time.Now()

	err := db.engine.Upsert(ctx, table, id, fields, embedding)

	db.metrics.RecordUpsert(time.Since(start), err)
	db.logger.LogUpsert(ctx, table, id, err)

	return err
}

// Delete removes the record for (table, id). Missing records and tables
// are a no-op.
func (db *DB) Delete(ctx context.Context, table, id string) error {
	start := time.Now()

	err := db.engine.Delete(ctx, table, id)

	db.metrics.RecordDelete(time.Since(start), err)
	db.logger.LogDelete(ctx, table, id, err)

	return err
}

// QueryField returns the ids of records whose field equals value, sorted
// ascending. Unknown tables, fields, and values yield an empty result.
func (db *DB) QueryField(table, field, value string) []string {
	start := time.Now()

	ids := db.engine.QueryField(table, field, value)

	db.metrics.RecordQuery("field", time.Since(start), nil)
	db.logger.LogQuery(context.Background(), "field", table, len(ids), nil)

	return ids
}

// QueryEmbedding returns up to k record ids nearest to q, nearest first.
// The result may be shorter than k. Unknown tables yield an empty result.
func (db *DB) QueryEmbedding(table string, q []float32, k int) ([]string, error) {
	start := time.Now()

	ids, err := db.engine.QueryEmbedding(table, q, k)

	db.metrics.RecordQuery("embedding", time.Since(start), err)
	db.logger.LogQuery(context.Background(), "embedding", table, len(ids), err)

	return ids, err
}

// QueryHybrid returns up to k record ids that match the field predicate,
// ordered by embedding proximity to q.
func (db *DB) QueryHybrid(table, field, value string, q []float32, k int) ([]string, error) {
	start := time.Now()

	ids, err := db.engine.QueryHybrid(table, field, value, q, k)

	db.metrics.RecordQuery("hybrid", time.Since(start), err)
	db.logger.LogQuery(context.Background(), "hybrid", table, len(ids), err)

	return ids, err
}

// Flush blocks until every previously submitted write has been applied and
// snapshotted.
func (db *DB) Flush(ctx context.Context) error {
	start := time.Now()

	err := db.engine.Flush(ctx)

	db.metrics.RecordFlush(time.Since(start), err)
	db.logger.LogFlush(ctx, err)

	return err
}

// Tables returns the names of all live tables.
func (db *DB) Tables() []string {
	return db.engine.Tables()
}
