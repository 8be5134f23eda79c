package engine

import (
	"maps"
	"slices"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/PandiaJason/MidDB/index"
)

// Record is a table row: structured fields plus one embedding. Label is the
// dense per-table integer the ANN index keys the embedding by; it is stable
// for the record's lifetime and never reused after deletion.
type Record struct {
	Fields    map[string]string `json:"fields"`
	Embedding []float32         `json:"embedding"`
	Label     uint32            `json:"label"`
}

// Table holds one table's full state: the primary record map, the
// label<->id bijection, the inverted field index, and the ANN index.
//
// The field index stores labels in roaring bitmaps, one bitmap per
// (field, value) pair; ids are resolved through labelToID at query time.
//
// A Table performs no locking and no I/O. Callers must hold the engine
// lock: exclusive for mutations, shared for queries.
type Table struct {
	name       string
	dim        int
	records    map[string]*Record
	labelToID  map[uint32]string
	nextLabel  uint32
	fieldIndex map[string]map[string]*roaring.Bitmap
	ann        index.Index

	newIndex  func(dim int) index.Index
	overfetch int
}

func newTable(name string, newIndex func(dim int) index.Index, overfetch int) *Table {
	return &Table{
		name:       name,
		records:    make(map[string]*Record),
		labelToID:  make(map[uint32]string),
		fieldIndex: make(map[string]map[string]*roaring.Bitmap),
		newIndex:   newIndex,
		overfetch:  overfetch,
	}
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Dim returns the table's embedding dimensionality (0 before the first
// upsert).
func (t *Table) Dim() int { return t.dim }

// Len returns the number of live records.
func (t *Table) Len() int { return len(t.records) }

// Label returns the label bound to id.
func (t *Table) Label(id string) (uint32, bool) {
	rec, ok := t.records[id]
	if !ok {
		return 0, false
	}
	return rec.Label, true
}

// Upsert inserts or replaces the record for id. The first upsert fixes the
// table's dimensionality and creates the ANN index; re-upserts keep the
// record's label.
func (t *Table) Upsert(id string, fields map[string]string, embedding []float32) error {
	if len(embedding) == 0 {
		return ErrEmptyEmbedding
	}

	if t.dim == 0 && len(t.records) == 0 {
		t.dim = len(embedding)
	}

	if len(embedding) != t.dim {
		return &index.ErrDimensionMismatch{Expected: t.dim, Actual: len(embedding)}
	}

	if t.ann == nil {
		// Created lazily on first insert, or rebuilt from live records when
		// the index sidecar was missing at load time.
		t.ann = t.newIndex(t.dim)
		for _, rec := range t.records {
			if err := t.ann.Add(rec.Embedding, rec.Label); err != nil {
				return err
			}
		}
	}

	var label uint32
	if prev, ok := t.records[id]; ok {
		t.removeFromFieldIndex(prev)
		label = prev.Label
	} else {
		label = t.nextLabel
		t.nextLabel++
	}

	rec := &Record{
		Fields:    maps.Clone(fields),
		Embedding: slices.Clone(embedding),
		Label:     label,
	}

	t.records[id] = rec
	t.labelToID[label] = id
	t.addToFieldIndex(rec)

	return t.ann.Add(rec.Embedding, label)
}

// Delete removes the record for id; missing ids are a no-op. The label is
// tombstoned in the ANN index and never reissued.
func (t *Table) Delete(id string) {
	rec, ok := t.records[id]
	if !ok {
		return
	}

	// Field entries must come out before the record does.
	t.removeFromFieldIndex(rec)

	delete(t.records, id)
	delete(t.labelToID, rec.Label)

	if t.ann != nil {
		t.ann.MarkDeleted(rec.Label)
	}
}

// QueryField returns the ids of all records whose field equals value,
// sorted ascending. Unknown fields or values yield an empty result.
func (t *Table) QueryField(field, value string) []string {
	ids := []string{}

	if values, ok := t.fieldIndex[field]; ok {
		if bm, ok := values[value]; ok {
			it := bm.Iterator()
			for it.HasNext() {
				if id, ok := t.labelToID[it.Next()]; ok {
					ids = append(ids, id)
				}
			}
		}
	}

	sort.Strings(ids)

	return ids
}

// QueryEmbedding returns up to k record ids nearest to q, nearest first.
// Ghost labels returned by the ANN backend are skipped without backfill, so
// the result may be shorter than k.
func (t *Table) QueryEmbedding(q []float32, k int) ([]string, error) {
	if k <= 0 {
		return nil, index.ErrInvalidK
	}

	if t.dim > 0 && len(q) != t.dim {
		return nil, &index.ErrDimensionMismatch{Expected: t.dim, Actual: len(q)}
	}

	if t.ann == nil {
		return []string{}, nil
	}

	results, err := t.ann.KNNSearch(q, k)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		if id, ok := t.labelToID[r.Label]; ok {
			ids = append(ids, id)
		}
	}

	return ids, nil
}

// QueryHybrid intersects a field-equality match with an embedding search:
// the first k embedding candidates (overfetched by the configured factor)
// that also match the field predicate, in candidate order.
func (t *Table) QueryHybrid(field, value string, q []float32, k int) ([]string, error) {
	matches := t.QueryField(field, value)
	if len(matches) == 0 {
		return []string{}, nil
	}

	matchSet := make(map[string]struct{}, len(matches))
	for _, id := range matches {
		matchSet[id] = struct{}{}
	}

	candidates, err := t.QueryEmbedding(q, t.overfetch*k)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, min(k, len(matches)))
	for _, id := range candidates {
		if _, ok := matchSet[id]; ok {
			out = append(out, id)
			if len(out) == k {
				break
			}
		}
	}

	return out, nil
}

func (t *Table) addToFieldIndex(rec *Record) {
	for k, v := range rec.Fields {
		values, ok := t.fieldIndex[k]
		if !ok {
			values = make(map[string]*roaring.Bitmap)
			t.fieldIndex[k] = values
		}

		bm, ok := values[v]
		if !ok {
			bm = roaring.New()
			values[v] = bm
		}

		bm.Add(rec.Label)
	}
}

func (t *Table) removeFromFieldIndex(rec *Record) {
	for k, v := range rec.Fields {
		values, ok := t.fieldIndex[k]
		if !ok {
			continue
		}

		bm, ok := values[v]
		if !ok {
			continue
		}

		bm.Remove(rec.Label)

		if bm.IsEmpty() {
			delete(values, v)
			if len(values) == 0 {
				delete(t.fieldIndex, k)
			}
		}
	}
}
