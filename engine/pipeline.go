package engine

import "time"

type taskKind uint8

const (
	taskUpsert taskKind = iota
	taskDelete
	taskBarrier
)

// task is one unit of work on the write pipeline.
type task struct {
	kind      taskKind
	table     string
	id        string
	fields    map[string]string
	embedding []float32

	// ack is closed once the batch containing this barrier has been applied
	// and snapshotted. Only set on barrier tasks.
	ack chan struct{}
}

// worker is the single consumer of the write queue. It drains tasks in
// batches, applies each task under the exclusive lock (released between
// tasks so reads make progress), snapshots every touched table, and on stop
// drains the queue fully before exiting.
func (e *Engine) worker() {
	defer close(e.done)

	timer := time.NewTimer(e.opts.FlushInterval)
	defer timer.Stop()

	// Tables whose snapshot failed stay dirty until a later cycle succeeds.
	dirty := make(map[string]struct{})

	for {
		select {
		case <-e.stop:
			e.drainAndExit(dirty)
			return

		case t := <-e.queue:
			batch := e.drainBatch(t)
			e.runBatch(batch, dirty)

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(e.opts.FlushInterval)

		case <-timer.C:
			if len(dirty) > 0 {
				e.snapshotTables(dirty)
			}
			timer.Reset(e.opts.FlushInterval)
		}
	}
}

// drainBatch collects up to BatchMax tasks without blocking, starting with
// first.
func (e *Engine) drainBatch(first task) []task {
	batch := make([]task, 1, e.opts.BatchMax)
	batch[0] = first

	for len(batch) < e.opts.BatchMax {
		select {
		case t := <-e.queue:
			batch = append(batch, t)
		default:
			return batch
		}
	}

	return batch
}

// runBatch applies a batch, snapshots touched tables, and releases barriers.
func (e *Engine) runBatch(batch []task, dirty map[string]struct{}) {
	e.applyBatch(batch, dirty)
	e.snapshotTables(dirty)

	for _, t := range batch {
		if t.kind == taskBarrier {
			close(t.ack)
		}
	}
}

// applyBatch applies each task under the exclusive lock, one task per lock
// hold. Apply errors are logged and the task dropped; the worker survives.
// Touched tables are added to dirty.
func (e *Engine) applyBatch(batch []task, dirty map[string]struct{}) {
	for _, t := range batch {
		switch t.kind {
		case taskUpsert:
			e.mu.Lock()
			err := e.table(t.table).Upsert(t.id, t.fields, t.embedding)
			e.mu.Unlock()

			if err != nil {
				e.logger.Error("upsert failed",
					"table", t.table,
					"id", t.id,
					"error", err,
				)
				continue
			}

			dirty[t.table] = struct{}{}

		case taskDelete:
			e.mu.Lock()
			tbl, ok := e.tables[t.table]
			if ok {
				tbl.Delete(t.id)
			}
			e.mu.Unlock()

			if ok {
				dirty[t.table] = struct{}{}
			}
		}
	}
}

// drainAndExit empties the queue after stop, applying and snapshotting the
// remainder so shutdown never loses acknowledged tasks.
func (e *Engine) drainAndExit(dirty map[string]struct{}) {
	for {
		select {
		case t := <-e.queue:
			batch := e.drainBatch(t)
			e.runBatch(batch, dirty)
		default:
			if len(dirty) > 0 {
				e.snapshotTables(dirty)
			}
			return
		}
	}
}
