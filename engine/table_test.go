package engine

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PandiaJason/MidDB/index"
	"github.com/PandiaJason/MidDB/index/hnsw"
)

func testIndexFactory(dim int) index.Index {
	seed := int64(42)
	return hnsw.New(dim, func(o *hnsw.Options) {
		o.RandomSeed = &seed
	})
}

func newTestTable(t *testing.T) *Table {
	t.Helper()
	return newTable("test", testIndexFactory, DefaultOptions.Overfetch)
}

// checkInvariants asserts the structural invariants that must hold after
// any completed mutation.
func checkInvariants(t *testing.T, tbl *Table) {
	t.Helper()

	// Bijection: records and labelToID mirror each other exactly.
	for id, rec := range tbl.records {
		got, ok := tbl.labelToID[rec.Label]
		require.True(t, ok, "label %d of record %q missing from labelToID", rec.Label, id)
		require.Equal(t, id, got)
	}
	require.Len(t, tbl.labelToID, len(tbl.records))

	for _, rec := range tbl.records {
		// Dim uniformity
		require.Len(t, rec.Embedding, tbl.dim)
		// Label monotonicity
		require.Less(t, rec.Label, tbl.nextLabel)
	}

	// Field-index coverage: every (field, value) of every live record is
	// indexed, and nothing else is.
	indexed := 0
	for field, values := range tbl.fieldIndex {
		for value, bm := range values {
			require.False(t, bm.IsEmpty(), "empty bitmap for %s=%s", field, value)
			it := bm.Iterator()
			for it.HasNext() {
				label := it.Next()
				id, ok := tbl.labelToID[label]
				require.True(t, ok, "indexed label %d has no record", label)
				require.Equal(t, value, tbl.records[id].Fields[field])
				indexed++
			}
		}
	}
	wantIndexed := 0
	for _, rec := range tbl.records {
		wantIndexed += len(rec.Fields)
	}
	require.Equal(t, wantIndexed, indexed)

	// ANN coverage: every live record resolves through a search by its own
	// embedding (checked separately where determinism allows).
	if tbl.ann != nil {
		require.Equal(t, len(tbl.records), tbl.ann.Len())
	}
}

func TestTableUpsert(t *testing.T) {
	t.Run("FirstInsertFixesDim", func(t *testing.T) {
		tbl := newTestTable(t)

		require.NoError(t, tbl.Upsert("u1", map[string]string{"name": "Alice"}, []float32{0.1, 0.5, 0.2}))
		assert.Equal(t, 3, tbl.Dim())

		err := tbl.Upsert("u2", nil, []float32{0.1, 0.5})
		var dim *index.ErrDimensionMismatch
		require.ErrorAs(t, err, &dim)

		checkInvariants(t, tbl)
	})

	t.Run("EmptyEmbeddingRejected", func(t *testing.T) {
		tbl := newTestTable(t)
		assert.ErrorIs(t, tbl.Upsert("u1", nil, nil), ErrEmptyEmbedding)
	})

	t.Run("ReUpsertKeepsLabel", func(t *testing.T) {
		tbl := newTestTable(t)

		require.NoError(t, tbl.Upsert("u1", map[string]string{"name": "Alice"}, []float32{1, 0}))
		label, ok := tbl.Label("u1")
		require.True(t, ok)

		require.NoError(t, tbl.Upsert("u1", map[string]string{"name": "Alicia"}, []float32{0, 1}))

		got, ok := tbl.Label("u1")
		require.True(t, ok)
		assert.Equal(t, label, got)

		// Old field value is gone, new one is queryable
		assert.Empty(t, tbl.QueryField("name", "Alice"))
		assert.Equal(t, []string{"u1"}, tbl.QueryField("name", "Alicia"))

		// The new embedding wins the search
		ids, err := tbl.QueryEmbedding([]float32{0, 1}, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"u1"}, ids)

		checkInvariants(t, tbl)
	})

	t.Run("Idempotent", func(t *testing.T) {
		tbl := newTestTable(t)

		fields := map[string]string{"name": "Alice", "email": "a@x"}
		vec := []float32{0.1, 0.5, 0.2}

		require.NoError(t, tbl.Upsert("u1", fields, vec))
		label, _ := tbl.Label("u1")

		require.NoError(t, tbl.Upsert("u1", fields, vec))

		got, _ := tbl.Label("u1")
		assert.Equal(t, label, got)
		assert.Equal(t, 1, tbl.Len())
		assert.Equal(t, []string{"u1"}, tbl.QueryField("name", "Alice"))

		ids, err := tbl.QueryEmbedding(vec, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"u1"}, ids)

		checkInvariants(t, tbl)
	})
}

func TestTableDelete(t *testing.T) {
	t.Run("Tombstones", func(t *testing.T) {
		tbl := newTestTable(t)

		require.NoError(t, tbl.Upsert("u1", map[string]string{"name": "Alice"}, []float32{1, 0}))
		require.NoError(t, tbl.Upsert("u2", map[string]string{"name": "Bob"}, []float32{0, 1}))

		deletedLabel, _ := tbl.Label("u1")
		tbl.Delete("u1")

		assert.Empty(t, tbl.QueryField("name", "Alice"))

		ids, err := tbl.QueryEmbedding([]float32{1, 0}, 5)
		require.NoError(t, err)
		assert.NotContains(t, ids, "u1")
		assert.Equal(t, []string{"u2"}, ids)

		// A later record gets a strictly greater label
		require.NoError(t, tbl.Upsert("u3", nil, []float32{1, 1}))
		newLabel, _ := tbl.Label("u3")
		assert.Greater(t, newLabel, deletedLabel)

		checkInvariants(t, tbl)
	})

	t.Run("MissingIsNoop", func(t *testing.T) {
		tbl := newTestTable(t)
		tbl.Delete("ghost")
		assert.Equal(t, 0, tbl.Len())
	})
}

func TestTableQueryField(t *testing.T) {
	tbl := newTestTable(t)

	require.NoError(t, tbl.Upsert("u3", map[string]string{"team": "red"}, []float32{1}))
	require.NoError(t, tbl.Upsert("u1", map[string]string{"team": "red"}, []float32{2}))
	require.NoError(t, tbl.Upsert("u2", map[string]string{"team": "blue"}, []float32{3}))

	t.Run("SortedAscending", func(t *testing.T) {
		assert.Equal(t, []string{"u1", "u3"}, tbl.QueryField("team", "red"))
	})

	t.Run("MissingValue", func(t *testing.T) {
		assert.Empty(t, tbl.QueryField("team", "green"))
	})

	t.Run("MissingField", func(t *testing.T) {
		assert.Empty(t, tbl.QueryField("color", "red"))
	})
}

func TestTableQueryEmbedding(t *testing.T) {
	t.Run("NearestFirst", func(t *testing.T) {
		tbl := newTestTable(t)

		require.NoError(t, tbl.Upsert("u1", nil, []float32{1, 0, 0}))
		require.NoError(t, tbl.Upsert("u2", nil, []float32{0, 1, 0}))
		require.NoError(t, tbl.Upsert("u3", nil, []float32{0, 0, 1}))

		ids, err := tbl.QueryEmbedding([]float32{0.9, 0.1, 0}, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"u1", "u2"}, ids)
	})

	t.Run("EmptyTable", func(t *testing.T) {
		tbl := newTestTable(t)

		ids, err := tbl.QueryEmbedding([]float32{1, 2, 3}, 3)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		tbl := newTestTable(t)
		require.NoError(t, tbl.Upsert("u1", nil, []float32{1, 0}))

		_, err := tbl.QueryEmbedding([]float32{1}, 1)
		var dim *index.ErrDimensionMismatch
		assert.ErrorAs(t, err, &dim)
	})

	t.Run("InvalidK", func(t *testing.T) {
		tbl := newTestTable(t)
		_, err := tbl.QueryEmbedding([]float32{1}, 0)
		assert.ErrorIs(t, err, index.ErrInvalidK)
	})
}

func TestTableQueryHybrid(t *testing.T) {
	tbl := newTestTable(t)

	require.NoError(t, tbl.Upsert("o1", map[string]string{"buyer": "Alice"}, []float32{1, 0}))
	require.NoError(t, tbl.Upsert("o2", map[string]string{"buyer": "Alice"}, []float32{0, 1}))
	require.NoError(t, tbl.Upsert("o3", map[string]string{"buyer": "Bob"}, []float32{1, 0}))

	t.Run("Intersection", func(t *testing.T) {
		ids, err := tbl.QueryHybrid("buyer", "Alice", []float32{1, 0}, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"o1"}, ids)
	})

	t.Run("CandidateOrderPreserved", func(t *testing.T) {
		ids, err := tbl.QueryHybrid("buyer", "Alice", []float32{1, 0}, 5)
		require.NoError(t, err)
		assert.Equal(t, []string{"o1", "o2"}, ids)
	})

	t.Run("NoFieldMatch", func(t *testing.T) {
		ids, err := tbl.QueryHybrid("buyer", "Carol", []float32{1, 0}, 1)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

// TestTableRandomizedOps drives a table through a random mutation sequence
// and asserts the structural invariants after every step.
func TestTableRandomizedOps(t *testing.T) {
	tbl := newTestTable(t)
	rng := rand.New(rand.NewSource(7))

	const (
		dim = 4
		ops = 400
	)

	randomVec := func() []float32 {
		v := make([]float32, dim)
		for i := range v {
			v[i] = rng.Float32()
		}
		return v
	}

	var maxLabel uint32
	labelSeen := make(map[uint32]string)

	for i := 0; i < ops; i++ {
		id := fmt.Sprintf("r%d", rng.Intn(40))

		if rng.Float32() < 0.7 {
			fields := map[string]string{
				"group": fmt.Sprintf("g%d", rng.Intn(5)),
				"kind":  fmt.Sprintf("k%d", rng.Intn(3)),
			}
			require.NoError(t, tbl.Upsert(id, fields, randomVec()))

			label, _ := tbl.Label(id)
			if prev, seen := labelSeen[label]; seen {
				// Labels are never reassigned to a different id
				require.Equal(t, prev, id)
			}
			labelSeen[label] = id
			if label > maxLabel {
				maxLabel = label
			}
		} else {
			tbl.Delete(id)
		}
	}

	checkInvariants(t, tbl)
	require.Equal(t, maxLabel+1, tbl.nextLabel)

	// Field queries agree with a scan over the records.
	for _, group := range []string{"g0", "g1", "g2", "g3", "g4"} {
		want := []string{}
		for id, rec := range tbl.records {
			if rec.Fields["group"] == group {
				want = append(want, id)
			}
		}
		got := tbl.QueryField("group", group)
		assert.ElementsMatch(t, want, got)
		assert.IsIncreasing(t, got)
	}
}
