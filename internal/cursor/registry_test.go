package cursor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anfivewer/diffbelt-sub000/internal/cursor"
	"github.com/anfivewer/diffbelt-sub000/internal/engine"
	"github.com/anfivewer/diffbelt-sub000/internal/errs"
)

func TestRegistryAddLookup(t *testing.T) {
	reg := cursor.NewRegistry[cursor.QueryCursorData](cursor.QueryAdapter{}, 16)

	id, data, err := reg.Add(cursor.QueryAddData{GID: []byte{0x01}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, data.GID)
	assert.Nil(t, data.Resume)

	entry, err := reg.Lookup(id)
	require.NoError(t, err)
	assert.False(t, entry.Finished)
	assert.Equal(t, []byte{0x01}, entry.Data.GID)
}

func TestRegistryLookupUnknownID(t *testing.T) {
	reg := cursor.NewRegistry[cursor.QueryCursorData](cursor.QueryAdapter{}, 16)

	_, err := reg.Lookup(12345)
	assert.ErrorIs(t, err, errs.ErrNoSuchCursor)
}

func TestRegistryContinuationShiftsSlots(t *testing.T) {
	reg := cursor.NewRegistry[cursor.QueryCursorData](cursor.QueryAdapter{}, 16)

	firstID, _, err := reg.Add(cursor.QueryAddData{GID: []byte{0x02}})
	require.NoError(t, err)

	cont := &engine.QueryContinuation{IteratorPositionRK: []byte{0xAA}}
	secondID, data, err := reg.Continuation(firstID, cont)
	require.NoError(t, err)
	assert.NotEqual(t, firstID, secondID)
	assert.Equal(t, []byte{0xAA}, data.Resume)

	// The old public id now resolves to the "current" slot, not "next".
	entry, err := reg.Lookup(firstID)
	require.NoError(t, err)
	assert.False(t, entry.Finished)

	// The new public id resolves to the fresh "next" slot.
	entry, err = reg.Lookup(secondID)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA}, entry.Data.Resume)
}

func TestRegistryFinishThenFullyFinish(t *testing.T) {
	reg := cursor.NewRegistry[cursor.QueryCursorData](cursor.QueryAdapter{}, 16)

	id, _, err := reg.Add(cursor.QueryAddData{GID: []byte{0x03}})
	require.NoError(t, err)

	finalID, err := reg.Finish(id)
	require.NoError(t, err)
	assert.NotZero(t, finalID)

	entry, err := reg.Lookup(finalID)
	require.NoError(t, err)
	assert.True(t, entry.Finished)

	// The original id no longer resolves: its next slot was cleared.
	_, err = reg.Lookup(id)
	assert.ErrorIs(t, err, errs.ErrNoSuchCursor)
}

func TestRegistryAbortRemovesAllSlots(t *testing.T) {
	reg := cursor.NewRegistry[cursor.QueryCursorData](cursor.QueryAdapter{}, 16)

	id, _, err := reg.Add(cursor.QueryAddData{GID: []byte{0x04}})
	require.NoError(t, err)

	require.NoError(t, reg.Abort(id))

	_, err = reg.Lookup(id)
	assert.ErrorIs(t, err, errs.ErrNoSuchCursor)
	assert.Equal(t, 0, reg.Len())
}

func TestRegistryEvictsLeastRecentlyUsed(t *testing.T) {
	reg := cursor.NewRegistry[cursor.QueryCursorData](cursor.QueryAdapter{}, 2)

	idA, _, err := reg.Add(cursor.QueryAddData{GID: []byte{0x01}})
	require.NoError(t, err)
	_, _, err = reg.Add(cursor.QueryAddData{GID: []byte{0x02}})
	require.NoError(t, err)

	// Touch idA so it is more recently used than the second cursor.
	_, err = reg.Lookup(idA)
	require.NoError(t, err)

	idC, _, err := reg.Add(cursor.QueryAddData{GID: []byte{0x03}})
	require.NoError(t, err)

	assert.Equal(t, 2, reg.Len())
	_, err = reg.Lookup(idA)
	assert.NoError(t, err, "recently touched cursor should survive eviction")
	_, err = reg.Lookup(idC)
	assert.NoError(t, err)
}

func TestEncodeDecodeID(t *testing.T) {
	for _, id := range []uint64{1, 61, 62, 123456789, 1<<64 - 1} {
		s := cursor.EncodeID(id)
		got, err := cursor.DecodeID(s)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}
}

func TestDecodeIDRejectsInvalidCharacters(t *testing.T) {
	_, err := cursor.DecodeID("not-base62!")
	assert.Error(t, err)
}
