package cursor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anfivewer/diffbelt-sub000/internal/cursor"
	"github.com/anfivewer/diffbelt-sub000/internal/engine"
)

func TestDiffAdapterContinuationDoesNotAliasCurrentSlot(t *testing.T) {
	reg := cursor.NewRegistry[*engine.DiffState](cursor.DiffAdapter{}, 16)

	state := engine.NewDiffState(engine.DiffModeInMemory, []byte{0x01}, []byte{0x02}, nil)
	firstID, _, err := reg.Add(cursor.DiffAddData{State: state})
	require.NoError(t, err)

	// The database layer always clones before mutating via DiffPack; model
	// that here without actually running a pack.
	advanced := engine.CloneDiffState(state)
	advanced.NextIndex = 7

	secondID, data, err := reg.Continuation(firstID, advanced)
	require.NoError(t, err)
	assert.NotEqual(t, firstID, secondID)
	assert.Equal(t, 7, data.NextIndex)

	// firstID now names the frozen "current" slot: its NextIndex must still
	// read 0, unaffected by advancing "next" past it.
	entry, err := reg.Lookup(firstID)
	require.NoError(t, err)
	assert.Equal(t, 0, entry.Data.NextIndex, "current slot must not alias the advanced state")

	entry, err = reg.Lookup(secondID)
	require.NoError(t, err)
	assert.Equal(t, 7, entry.Data.NextIndex)
}

func TestRegistryNextIDResolvesBothSlotsToTheLiveNext(t *testing.T) {
	reg := cursor.NewRegistry[cursor.QueryCursorData](cursor.QueryAdapter{}, 16)

	firstID, _, err := reg.Add(cursor.QueryAddData{GID: []byte{0x01}})
	require.NoError(t, err)

	secondID, _, err := reg.Continuation(firstID, &engine.QueryContinuation{IteratorPositionRK: []byte{0xBB}})
	require.NoError(t, err)

	// Querying via either the now-current firstID or the live secondID
	// reports the same next id: there is only one live "next" per inner
	// cursor, regardless of which public id a replaying caller names.
	got, ok := reg.NextID(firstID)
	require.True(t, ok)
	assert.Equal(t, secondID, got)

	got, ok = reg.NextID(secondID)
	require.True(t, ok)
	assert.Equal(t, secondID, got)
}

func TestRegistryNextIDFalseOnceFinished(t *testing.T) {
	reg := cursor.NewRegistry[cursor.QueryCursorData](cursor.QueryAdapter{}, 16)

	id, _, err := reg.Add(cursor.QueryAddData{GID: []byte{0x01}})
	require.NoError(t, err)
	_, err = reg.Finish(id)
	require.NoError(t, err)

	_, ok := reg.NextID(id)
	assert.False(t, ok)
}
