package middb

// Close stops the write pipeline, drains outstanding tasks, and snapshots
// every dirty table before returning. Close is idempotent; writes submitted
// after Close fail with ErrClosed.
func (db *DB) Close() error {
	return db.engine.Close()
}
