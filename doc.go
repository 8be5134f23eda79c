// Package middb provides an embedded hybrid database that co-locates
// structured records with dense float32 embeddings.
//
// Every record carries a map of string fields and one embedding; MidDB
// serves three query shapes over them:
//
//   - QueryField: exact structured equality lookup
//   - QueryEmbedding: approximate nearest-neighbor search (HNSW)
//   - QueryHybrid: field equality intersected with embedding proximity
//
// Writes are asynchronous: Upsert and Delete enqueue onto a bounded
// pipeline drained by a single background worker, which applies batches
// under an exclusive lock and snapshots touched tables to disk. Reads run
// concurrently under a shared lock. Use Flush for read-your-writes.
//
// # Quick Start
//
//	ctx := context.Background()
//	db, err := middb.Open("data")
//	if err != nil {
//	    panic(err)
//	}
//	defer db.Close()
//
//	_ = db.Upsert(ctx, "users", "u1",
//	    map[string]string{"name": "Alice", "email": "a@x"},
//	    []float32{0.1, 0.5, 0.2})
//	_ = db.Flush(ctx)
//
//	ids := db.QueryField("users", "name", "Alice") // ["u1"]
//	near, _ := db.QueryEmbedding("users", []float32{0.1, 0.5, 0.2}, 3)
//	both, _ := db.QueryHybrid("users", "name", "Alice", []float32{0.1, 0.5, 0.2}, 3)
//
// Durability is snapshot-only: each table persists as a JSON data file
// plus a binary index sidecar, written atomically after every applied
// batch. There is no write-ahead log; tasks still queued at a crash are
// lost.
package middb
