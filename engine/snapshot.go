package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/PandiaJason/MidDB/persistence"
)

// A table snapshot is the pair (<name>.json, <name>.index): the codec-
// marshaled record map plus the ANN index sidecar. dim and nextLabel are
// not persisted; they are recovered from the records on load.

var indexMagic = [4]byte{'M', 'D', 'I', '1'}

const indexFormatVersion = uint8(1)

// snapshotTables snapshots every table named in dirty under the shared
// lock. Successful tables are removed from dirty and mirrored; failures are
// logged and stay dirty for the next cycle.
func (e *Engine) snapshotTables(dirty map[string]struct{}) {
	var flushed []string

	e.mu.RLock()
	for name := range dirty {
		t, ok := e.tables[name]
		if !ok {
			delete(dirty, name)
			continue
		}

		if err := e.snapshotTable(t); err != nil {
			e.logger.Error("snapshot failed",
				"table", name,
				"error", err,
			)
			continue
		}

		delete(dirty, name)
		flushed = append(flushed, name)

		e.logger.Debug("snapshot saved", "table", name, "records", t.Len())
	}
	e.mu.RUnlock()

	// Mirroring reads the freshly written files from disk, so it runs
	// outside the lock.
	e.mirrorTables(flushed)
}

// snapshotTable writes both snapshot files atomically. The caller must hold
// at least the shared lock.
func (e *Engine) snapshotTable(t *Table) error {
	dataPath := filepath.Join(e.dir, t.name+".json")

	if err := persistence.SaveToFile(dataPath, func(w io.Writer) error {
		b, err := e.opts.Codec.Marshal(t.records)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	}); err != nil {
		return fmt.Errorf("data file: %w", err)
	}

	if t.ann == nil {
		return nil
	}

	indexPath := filepath.Join(e.dir, t.name+".index")

	if err := persistence.SaveToFile(indexPath, func(w io.Writer) error {
		return e.writeIndexSidecar(w, t)
	}); err != nil {
		return fmt.Errorf("index sidecar: %w", err)
	}

	return nil
}

// writeIndexSidecar frames the gob-encoded ANN index:
// 4 bytes magic, 1 byte format version, 1 byte compression id,
// 2 bytes reserved, then the (optionally compressed) gob stream.
func (e *Engine) writeIndexSidecar(w io.Writer, t *Table) error {
	var hdr [8]byte
	copy(hdr[0:4], indexMagic[:])
	hdr[4] = indexFormatVersion
	hdr[5] = uint8(e.opts.Compression)

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}

	data, err := t.ann.GobEncode()
	if err != nil {
		return err
	}

	cw, err := persistence.NewCompressingWriter(w, e.opts.Compression)
	if err != nil {
		return err
	}

	if _, err := cw.Write(data); err != nil {
		return err
	}

	return cw.Close()
}

// readIndexSidecar parses the sidecar framing and gob-decodes the index
// into t.ann.
func (e *Engine) readIndexSidecar(r io.Reader, t *Table) error {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}

	if [4]byte(hdr[0:4]) != indexMagic {
		return fmt.Errorf("bad magic")
	}

	if hdr[4] != indexFormatVersion {
		return fmt.Errorf("unsupported sidecar format version: %d", hdr[4])
	}

	comp := persistence.Compression(hdr[5])
	if !comp.Valid() {
		return fmt.Errorf("unknown compression id: %d", hdr[5])
	}

	cr, err := persistence.NewDecompressingReader(r, comp)
	if err != nil {
		return err
	}
	defer cr.Close()

	data, err := io.ReadAll(cr)
	if err != nil {
		return err
	}

	ann := e.newIndex(t.dim)
	if err := ann.GobDecode(data); err != nil {
		return err
	}

	t.ann = ann

	return nil
}

// loadTables reconstructs every table from the storage directory. A
// missing or unreadable index sidecar leaves the table ANN-less (it is
// rebuilt from the records on the next upsert); an unreadable data file is
// fatal for boot.
func (e *Engine) loadTables() error {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return fmt.Errorf("engine: read storage directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		name := strings.TrimSuffix(entry.Name(), ".json")

		t, err := e.loadTable(name)
		if err != nil {
			return fmt.Errorf("engine: load table %q: %w", name, err)
		}

		e.tables[name] = t

		e.logger.Info("table loaded",
			"table", name,
			"records", t.Len(),
			"dim", t.Dim(),
			"ann", t.ann != nil,
		)
	}

	return nil
}

func (e *Engine) loadTable(name string) (*Table, error) {
	t := newTable(name, e.newIndex, e.opts.Overfetch)

	dataPath := filepath.Join(e.dir, name+".json")

	if err := persistence.LoadFromFile(dataPath, func(r io.Reader) error {
		b, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		return e.opts.Codec.Unmarshal(b, &t.records)
	}); err != nil {
		return nil, err
	}

	// Rebuild the derived state: bijection, field index, dim, next label.
	for id, rec := range t.records {
		if t.dim == 0 {
			t.dim = len(rec.Embedding)
		} else if len(rec.Embedding) != t.dim {
			return nil, fmt.Errorf("record %q: embedding length %d, table dim %d", id, len(rec.Embedding), t.dim)
		}

		t.labelToID[rec.Label] = id
		t.addToFieldIndex(rec)

		if rec.Label >= t.nextLabel {
			t.nextLabel = rec.Label + 1
		}
	}

	if t.dim == 0 {
		return t, nil
	}

	indexPath := filepath.Join(e.dir, name+".index")

	if err := persistence.LoadFromFile(indexPath, func(r io.Reader) error {
		return e.readIndexSidecar(r, t)
	}); err != nil {
		if !os.IsNotExist(err) {
			e.logger.Warn("index sidecar unreadable, deferring rebuild",
				"table", name,
				"error", err,
			)
		}
		t.ann = nil
	}

	return t, nil
}

// mirrorTables uploads the snapshot files of the given tables to the
// configured mirror store. Mirroring is best-effort: failures are logged
// and never affect the local snapshot.
func (e *Engine) mirrorTables(names []string) {
	if e.opts.Mirror == nil || len(names) == 0 {
		return
	}

	ctx := context.Background()

	for _, name := range names {
		for _, file := range []string{name + ".json", name + ".index"} {
			b, err := os.ReadFile(filepath.Join(e.dir, file))
			if err != nil {
				if !os.IsNotExist(err) {
					e.logger.Warn("snapshot mirror read failed", "file", file, "error", err)
				}
				continue
			}

			if err := e.opts.Mirror.Put(ctx, file, bytes.NewReader(b), int64(len(b))); err != nil {
				e.logger.Warn("snapshot mirror upload failed", "file", file, "error", err)
			}
		}
	}
}
