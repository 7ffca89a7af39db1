// Package generations implements the single-writer generations coordinator
// (spec.md §4.6): per-collection current/next generation state, the
// next-generation lock serializing writers against commit, and the
// watch-channel broadcast of committed generation boundaries. Non-manual
// collections additionally get a debounced auto-commit, coalescing a burst
// of puts into one generation the same way steveyegge-beads's
// FlushManager (cmd/bd/flush_manager.go) debounces a burst of writes into
// one flush.
package generations

// ReaderUpdate is one (reader name, target collection, gid) entry applied
// atomically alongside a generation commit (spec.md §4.6 op 3).
type ReaderUpdate struct {
	Name   string
	Target string
	GID    []byte
}

// Snapshot is the (current, next) generation pair broadcast on a
// collection's watch channel whenever a commit advances it.
type Snapshot struct {
	CurrentGID []byte
	NextGID    []byte // nil: no generation open (manual collections only)
}
