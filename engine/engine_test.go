package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PandiaJason/MidDB/blobstore"
	"github.com/PandiaJason/MidDB/persistence"
)

func newTestEngine(t *testing.T, dir string) *Engine {
	t.Helper()

	e, err := New(dir, func(o *Options) {
		seed := int64(42)
		o.RandomSeed = &seed
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = e.Close() })

	return e
}

func TestEngineWritePipeline(t *testing.T) {
	ctx := context.Background()

	t.Run("UpsertVisibleAfterFlush", func(t *testing.T) {
		e := newTestEngine(t, t.TempDir())

		require.NoError(t, e.Upsert(ctx, "users", "u1", map[string]string{"name": "Alice", "email": "a@x"}, []float32{0.1, 0.5, 0.2}))
		require.NoError(t, e.Flush(ctx))

		assert.Equal(t, []string{"u1"}, e.QueryField("users", "name", "Alice"))
		assert.Empty(t, e.QueryField("users", "name", "Bob"))
	})

	t.Run("SubmissionOrderPreserved", func(t *testing.T) {
		e := newTestEngine(t, t.TempDir())

		// Same id: last write wins
		require.NoError(t, e.Upsert(ctx, "users", "u1", map[string]string{"v": "1"}, []float32{1}))
		require.NoError(t, e.Upsert(ctx, "users", "u1", map[string]string{"v": "2"}, []float32{2}))
		require.NoError(t, e.Delete(ctx, "users", "u1"))
		require.NoError(t, e.Upsert(ctx, "users", "u1", map[string]string{"v": "3"}, []float32{3}))
		require.NoError(t, e.Flush(ctx))

		assert.Equal(t, []string{"u1"}, e.QueryField("users", "v", "3"))
		assert.Empty(t, e.QueryField("users", "v", "2"))
	})

	t.Run("WorkerSurvivesBadTask", func(t *testing.T) {
		e := newTestEngine(t, t.TempDir())

		require.NoError(t, e.Upsert(ctx, "users", "u1", nil, []float32{1, 2}))
		// Wrong dimensionality: applied by the worker, logged, dropped
		require.NoError(t, e.Upsert(ctx, "users", "bad", nil, []float32{1, 2, 3}))
		require.NoError(t, e.Upsert(ctx, "users", "u2", nil, []float32{3, 4}))
		require.NoError(t, e.Flush(ctx))

		ids, err := e.QueryEmbedding("users", []float32{1, 2}, 10)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"u1", "u2"}, ids)
	})

	t.Run("DeleteMissingIsNoop", func(t *testing.T) {
		e := newTestEngine(t, t.TempDir())

		require.NoError(t, e.Delete(ctx, "nope", "u1"))
		require.NoError(t, e.Flush(ctx))
		assert.Empty(t, e.Tables())
	})

	t.Run("ClosedEngineRejectsWrites", func(t *testing.T) {
		e := newTestEngine(t, t.TempDir())

		require.NoError(t, e.Close())
		require.NoError(t, e.Close()) // idempotent

		assert.ErrorIs(t, e.Upsert(ctx, "users", "u1", nil, []float32{1}), ErrClosed)
		assert.ErrorIs(t, e.Delete(ctx, "users", "u1"), ErrClosed)
		assert.ErrorIs(t, e.Flush(ctx), ErrClosed)
	})

	t.Run("CloseDrainsQueue", func(t *testing.T) {
		dir := t.TempDir()

		e, err := New(dir)
		require.NoError(t, err)

		for i := 0; i < 50; i++ {
			require.NoError(t, e.Upsert(ctx, "users", "u"+string(rune('a'+i%26)), nil, []float32{float32(i)}))
		}
		require.NoError(t, e.Close())

		// A fresh engine over the same directory sees the applied writes.
		e2 := newTestEngine(t, dir)
		ids, err := e2.QueryEmbedding("users", []float32{0}, 50)
		require.NoError(t, err)
		assert.Len(t, ids, 26)
	})
}

func TestEngineQueries(t *testing.T) {
	ctx := context.Background()

	t.Run("UnknownTableIsEmpty", func(t *testing.T) {
		e := newTestEngine(t, t.TempDir())

		assert.Empty(t, e.QueryField("ghosts", "a", "b"))

		ids, err := e.QueryEmbedding("ghosts", []float32{1}, 3)
		require.NoError(t, err)
		assert.Empty(t, ids)

		ids, err = e.QueryHybrid("ghosts", "a", "b", []float32{1}, 3)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("SemanticRetrieval", func(t *testing.T) {
		e := newTestEngine(t, t.TempDir())

		require.NoError(t, e.Upsert(ctx, "users", "u1", nil, []float32{1, 0, 0}))
		require.NoError(t, e.Upsert(ctx, "users", "u2", nil, []float32{0, 1, 0}))
		require.NoError(t, e.Upsert(ctx, "users", "u3", nil, []float32{0, 0, 1}))
		require.NoError(t, e.Flush(ctx))

		ids, err := e.QueryEmbedding("users", []float32{0.9, 0.1, 0}, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"u1", "u2"}, ids)
	})

	t.Run("HybridIntersection", func(t *testing.T) {
		e := newTestEngine(t, t.TempDir())

		require.NoError(t, e.Upsert(ctx, "orders", "o1", map[string]string{"buyer": "Alice"}, []float32{1, 0}))
		require.NoError(t, e.Upsert(ctx, "orders", "o2", map[string]string{"buyer": "Alice"}, []float32{0, 1}))
		require.NoError(t, e.Upsert(ctx, "orders", "o3", map[string]string{"buyer": "Bob"}, []float32{1, 0}))
		require.NoError(t, e.Flush(ctx))

		ids, err := e.QueryHybrid("orders", "buyer", "Alice", []float32{1, 0}, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"o1"}, ids)

		ids, err = e.QueryHybrid("orders", "buyer", "Carol", []float32{1, 0}, 1)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func TestEngineDurability(t *testing.T) {
	ctx := context.Background()

	t.Run("SnapshotFilesWritten", func(t *testing.T) {
		dir := t.TempDir()
		e := newTestEngine(t, dir)

		require.NoError(t, e.Upsert(ctx, "users", "u1", map[string]string{"name": "Alice"}, []float32{1, 0}))
		require.NoError(t, e.Flush(ctx))

		assert.FileExists(t, filepath.Join(dir, "users.json"))
		assert.FileExists(t, filepath.Join(dir, "users.index"))
	})

	t.Run("RestartRoundTrip", func(t *testing.T) {
		dir := t.TempDir()

		e, err := New(dir, func(o *Options) {
			seed := int64(42)
			o.RandomSeed = &seed
		})
		require.NoError(t, err)

		require.NoError(t, e.Upsert(ctx, "users", "u1", map[string]string{"name": "Alice", "email": "a@x"}, []float32{0.1, 0.5, 0.2}))
		require.NoError(t, e.Upsert(ctx, "users", "u2", map[string]string{"name": "Bob"}, []float32{0.9, 0.1, 0.1}))
		require.NoError(t, e.Upsert(ctx, "users", "u2", map[string]string{"name": "Bobby"}, []float32{0.8, 0.2, 0.1}))
		require.NoError(t, e.Delete(ctx, "users", "missing"))
		require.NoError(t, e.Flush(ctx))

		wantField := e.QueryField("users", "name", "Alice")
		wantNear, err := e.QueryEmbedding("users", []float32{0.1, 0.5, 0.2}, 2)
		require.NoError(t, err)

		var label uint32
		func() {
			e.mu.RLock()
			defer e.mu.RUnlock()
			l, ok := e.tables["users"].Label("u2")
			require.True(t, ok)
			label = l
		}()

		require.NoError(t, e.Close())

		e2 := newTestEngine(t, dir)

		assert.Equal(t, wantField, e2.QueryField("users", "name", "Alice"))
		assert.Equal(t, []string{"u2"}, e2.QueryField("users", "name", "Bobby"))
		assert.Empty(t, e2.QueryField("users", "name", "Bob"))

		near, err := e2.QueryEmbedding("users", []float32{0.1, 0.5, 0.2}, 2)
		require.NoError(t, err)
		assert.Equal(t, wantNear, near)

		// Labels survive the restart, and the allocator resumes above them.
		e2.mu.RLock()
		tbl := e2.tables["users"]
		gotLabel, ok := tbl.Label("u2")
		nextLabel := tbl.nextLabel
		e2.mu.RUnlock()

		require.True(t, ok)
		assert.Equal(t, label, gotLabel)
		assert.Greater(t, nextLabel, gotLabel)

		// New inserts keep labels monotonic after the restart.
		require.NoError(t, e2.Upsert(ctx, "users", "u3", nil, []float32{0, 0, 1}))
		require.NoError(t, e2.Flush(ctx))

		e2.mu.RLock()
		l3, _ := e2.tables["users"].Label("u3")
		e2.mu.RUnlock()
		assert.Equal(t, nextLabel, l3)
	})

	t.Run("MissingSidecarRebuildsOnUpsert", func(t *testing.T) {
		dir := t.TempDir()

		e := newTestEngine(t, dir)
		require.NoError(t, e.Upsert(ctx, "users", "u1", nil, []float32{1, 0}))
		require.NoError(t, e.Upsert(ctx, "users", "u2", nil, []float32{0, 1}))
		require.NoError(t, e.Flush(ctx))
		require.NoError(t, e.Close())

		require.NoError(t, os.Remove(filepath.Join(dir, "users.index")))

		e2 := newTestEngine(t, dir)

		// Without the sidecar, embedding queries are empty but structured
		// state is intact.
		ids, err := e2.QueryEmbedding("users", []float32{1, 0}, 2)
		require.NoError(t, err)
		assert.Empty(t, ids)

		// The next upsert rebuilds the ANN index from the loaded records.
		require.NoError(t, e2.Upsert(ctx, "users", "u3", nil, []float32{1, 1}))
		require.NoError(t, e2.Flush(ctx))

		ids, err = e2.QueryEmbedding("users", []float32{1, 0}, 3)
		require.NoError(t, err)
		assert.Equal(t, []string{"u1", "u3", "u2"}, ids)
	})

	t.Run("CompressionVariants", func(t *testing.T) {
		for _, comp := range []persistence.Compression{persistence.CompressionNone, persistence.CompressionZstd, persistence.CompressionLZ4} {
			t.Run(comp.String(), func(t *testing.T) {
				dir := t.TempDir()

				e, err := New(dir, func(o *Options) {
					o.Compression = comp
				})
				require.NoError(t, err)

				require.NoError(t, e.Upsert(ctx, "t", "a", nil, []float32{1, 2}))
				require.NoError(t, e.Flush(ctx))
				require.NoError(t, e.Close())

				e2 := newTestEngine(t, dir)
				ids, err := e2.QueryEmbedding("t", []float32{1, 2}, 1)
				require.NoError(t, err)
				assert.Equal(t, []string{"a"}, ids)
			})
		}
	})
}

func TestEngineMirror(t *testing.T) {
	ctx := context.Background()

	store := blobstore.NewMemoryStore()

	e, err := New(t.TempDir(), func(o *Options) {
		o.Mirror = store
	})
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.Upsert(ctx, "users", "u1", map[string]string{"name": "Alice"}, []float32{1, 0}))
	require.NoError(t, e.Flush(ctx))

	keys, err := store.List(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, []string{"users.index", "users.json"}, keys)
}
