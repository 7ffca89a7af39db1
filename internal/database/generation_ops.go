package database

import (
	"context"

	"github.com/anfivewer/diffbelt-sub000/internal/generations"
)

// StartGeneration opens gid as a manual collection's next generation
// (spec.md §6's start_generation / §4.6 op 2). abortOutdated discards
// whatever a stale, uncommitted next generation already accumulated rather
// than rejecting the call.
func (db *Database) StartGeneration(ctx context.Context, collection string, gid []byte, abortOutdated bool) error {
	return db.gens.StartManualGenerationId(ctx, collection, gid, abortOutdated)
}

// ReaderUpdate is one reader to move atomically alongside a manual commit
// (spec.md §4.6 op 3's update_readers).
type ReaderUpdate = generations.ReaderUpdate

// CommitGeneration commits a manual collection's open next generation
// (spec.md §6's commit_generation). Reader updates that were part of the
// same call are applied to the in-memory readers index immediately after
// the commit persists, and any resulting minimum-GID movement is forwarded
// to the garbage collector — the same wiring a standalone UpdateReader call
// goes through, just batched here alongside the commit it was bundled with.
func (db *Database) CommitGeneration(ctx context.Context, collection string, gid []byte, updateReaders []ReaderUpdate) error {
	if err := db.gens.CommitManualGeneration(ctx, collection, gid, updateReaders); err != nil {
		return err
	}
	updates := db.readers.ApplyCommitted(collection, updateReaders)
	db.forwardMinGIDUpdates(updates)
	return nil
}

// AbortGeneration discards a manual collection's open next generation
// without advancing current_gid (spec.md §6's abort_generation).
func (db *Database) AbortGeneration(ctx context.Context, collection string, gid []byte) error {
	return db.gens.AbortManualGeneration(ctx, collection, gid)
}
