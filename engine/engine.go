// Package engine implements the storage-and-indexing core: per-table dual
// indexes (inverted field index plus an HNSW graph) kept coherent with the
// primary record map under an asynchronous single-writer pipeline, with
// snapshot persistence of both.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/PandiaJason/MidDB/codec"
	"github.com/PandiaJason/MidDB/index"
	"github.com/PandiaJason/MidDB/index/hnsw"
)

// Engine owns all tables and the write pipeline.
//
// Concurrency model: one dedicated worker goroutine applies mutations under
// the exclusive lock, one task at a time; any number of readers run query
// methods under the shared lock. Writes are asynchronous: a read that starts
// after Upsert returns is not guaranteed to see it (use Flush for
// read-your-writes). Once the worker has applied a task, its effects are
// visible atomically.
type Engine struct {
	mu     sync.RWMutex
	tables map[string]*Table

	dir    string
	opts   Options
	logger *slog.Logger

	queue  chan task
	stop   chan struct{}
	done   chan struct{}
	closed atomic.Bool
}

// New creates the storage directory if absent, loads every table snapshot
// found in it, and starts the write pipeline.
func New(dir string, optFns ...func(o *Options)) (*Engine, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.BatchMax <= 0 {
		opts.BatchMax = DefaultOptions.BatchMax
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultOptions.QueueSize
	}
	if opts.Overfetch <= 0 {
		opts.Overfetch = DefaultOptions.Overfetch
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultOptions.FlushInterval
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("engine: create storage directory: %w", err)
	}

	e := &Engine{
		tables: make(map[string]*Table),
		dir:    dir,
		opts:   opts,
		logger: opts.Logger,
		queue:  make(chan task, opts.QueueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	if err := e.loadTables(); err != nil {
		return nil, err
	}

	go e.worker()

	return e, nil
}

// newIndex builds an ANN index for a table of the given dimensionality.
func (e *Engine) newIndex(dim int) index.Index {
	return hnsw.New(dim, func(o *hnsw.Options) {
		o.M = e.opts.M
		o.EF = e.opts.EF
		o.RandomSeed = e.opts.RandomSeed
	})
}

// Upsert enqueues an insert-or-replace for (table, id). The write is
// applied asynchronously by the pipeline worker; per-table validation
// failures (dimension mismatch, empty embedding) surface in the worker log,
// not here.
func (e *Engine) Upsert(ctx context.Context, table, id string, fields map[string]string, embedding []float32) error {
	return e.enqueue(ctx, task{kind: taskUpsert, table: table, id: id, fields: fields, embedding: embedding})
}

// Delete enqueues a delete for (table, id). Deleting a missing record is a
// no-op.
func (e *Engine) Delete(ctx context.Context, table, id string) error {
	return e.enqueue(ctx, task{kind: taskDelete, table: table, id: id})
}

// Flush blocks until every task enqueued before it has been applied and
// snapshotted.
func (e *Engine) Flush(ctx context.Context) error {
	t := task{kind: taskBarrier, ack: make(chan struct{})}

	if err := e.enqueue(ctx, t); err != nil {
		return err
	}

	select {
	case <-t.ack:
		return nil
	case <-e.done:
		// The worker exited; the barrier may have been drained just before.
		select {
		case <-t.ack:
			return nil
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) enqueue(ctx context.Context, t task) error {
	if e.closed.Load() {
		return ErrClosed
	}

	select {
	case e.queue <- t:
		return nil
	case <-e.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueryField returns the ids of records in table whose field equals value,
// sorted ascending. Unknown tables yield an empty result.
func (e *Engine) QueryField(table, field, value string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	t, ok := e.tables[table]
	if !ok {
		return []string{}
	}

	return t.QueryField(field, value)
}

// QueryEmbedding returns up to k ids of records in table nearest to q,
// nearest first. Unknown tables yield an empty result.
func (e *Engine) QueryEmbedding(table string, q []float32, k int) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	t, ok := e.tables[table]
	if !ok {
		return []string{}, nil
	}

	return t.QueryEmbedding(q, k)
}

// QueryHybrid returns up to k ids matching the field predicate, ordered by
// embedding proximity to q. Unknown tables yield an empty result.
func (e *Engine) QueryHybrid(table, field, value string, q []float32, k int) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	t, ok := e.tables[table]
	if !ok {
		return []string{}, nil
	}

	return t.QueryHybrid(field, value, q, k)
}

// Tables returns the names of all live tables.
func (e *Engine) Tables() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.tables))
	for name := range e.tables {
		names = append(names, name)
	}

	return names
}

// Close stops the pipeline and joins the worker. The worker drains the
// queue and snapshots before exiting, so Close guarantees a final flush.
// Close is idempotent.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(e.stop)
	<-e.done

	return nil
}

// table returns the named table, creating it if absent.
// The caller must hold the exclusive lock.
func (e *Engine) table(name string) *Table {
	t, ok := e.tables[name]
	if !ok {
		t = newTable(name, e.newIndex, e.opts.Overfetch)
		e.tables[name] = t
	}

	return t
}
