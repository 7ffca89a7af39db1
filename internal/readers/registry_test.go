package readers_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anfivewer/diffbelt-sub000/internal/errs"
	"github.com/anfivewer/diffbelt-sub000/internal/generations"
	"github.com/anfivewer/diffbelt-sub000/internal/readers"
	"github.com/anfivewer/diffbelt-sub000/internal/store"
)

func openTestStore(t *testing.T, collections ...string) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	for _, c := range collections {
		require.NoError(t, s.EnsureCollectionBuckets(c))
	}
	return s
}

func TestCreateListReader(t *testing.T) {
	s := openTestStore(t, "c")
	r := readers.New(s)
	t.Cleanup(r.Shutdown)

	require.NoError(t, r.CreateReader(context.Background(), "c", "start", "", []byte{0x00, 0x01}))

	list := r.ListReaders("c")
	require.Len(t, list, 1)
	assert.Equal(t, "start", list[0].Name)
	assert.Equal(t, []byte{0x00, 0x01}, list[0].GID)
}

func TestCreateReaderRejectsDuplicateName(t *testing.T) {
	s := openTestStore(t, "c")
	r := readers.New(s)
	t.Cleanup(r.Shutdown)

	require.NoError(t, r.CreateReader(context.Background(), "c", "start", "", []byte{0x01}))
	err := r.CreateReader(context.Background(), "c", "start", "", []byte{0x02})
	assert.ErrorIs(t, err, errs.ErrReaderAlreadyExists)
}

func TestUpdateUnknownReader(t *testing.T) {
	s := openTestStore(t, "c")
	r := readers.New(s)
	t.Cleanup(r.Shutdown)

	_, err := r.UpdateReader(context.Background(), "c", "missing", []byte{0x01})
	assert.ErrorIs(t, err, errs.ErrNoSuchReader)
}

func TestUpdateReaderReturnsNewMinimum(t *testing.T) {
	s := openTestStore(t, "c")
	r := readers.New(s)
	t.Cleanup(r.Shutdown)

	require.NoError(t, r.CreateReader(context.Background(), "c", "a", "", []byte{0x00, 0x05}))
	require.NoError(t, r.CreateReader(context.Background(), "c", "b", "", []byte{0x00, 0x02}))

	update, err := r.UpdateReader(context.Background(), "c", "a", []byte{0x00, 0x09})
	require.NoError(t, err)
	assert.Equal(t, "c", update.Target)
	assert.Equal(t, []byte{0x00, 0x02}, update.MinGID) // "b" is still the minimum

	update, err = r.UpdateReader(context.Background(), "c", "b", []byte{0x00, 0x09})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x09}, update.MinGID) // now both at 0x09, min is 0x09
}

func TestDeleteReaderRemovesFromMinimum(t *testing.T) {
	s := openTestStore(t, "c")
	r := readers.New(s)
	t.Cleanup(r.Shutdown)

	require.NoError(t, r.CreateReader(context.Background(), "c", "a", "", []byte{0x01}))
	require.NoError(t, r.CreateReader(context.Background(), "c", "b", "", []byte{0x05}))

	update, err := r.DeleteReader(context.Background(), "c", "a")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05}, update.MinGID)

	update, err = r.DeleteReader(context.Background(), "c", "b")
	require.NoError(t, err)
	assert.Nil(t, update.MinGID)
}

func TestDeleteUnknownReader(t *testing.T) {
	s := openTestStore(t, "c")
	r := readers.New(s)
	t.Cleanup(r.Shutdown)

	_, err := r.DeleteReader(context.Background(), "c", "missing")
	assert.ErrorIs(t, err, errs.ErrNoSuchReader)
}

func TestUpdateReaderReportsExplicitTarget(t *testing.T) {
	s := openTestStore(t, "owner", "target")
	r := readers.New(s)
	t.Cleanup(r.Shutdown)

	require.NoError(t, r.CreateReader(context.Background(), "owner", "r1", "target", []byte{0x01}))

	update, err := r.UpdateReader(context.Background(), "owner", "r1", []byte{0x02})
	require.NoError(t, err)
	assert.Equal(t, "target", update.Target)
	assert.Equal(t, []byte{0x02}, update.MinGID)
}

func TestApplyCommittedGroupsByTarget(t *testing.T) {
	s := openTestStore(t, "c")
	r := readers.New(s)
	t.Cleanup(r.Shutdown)

	updates := r.ApplyCommitted("c", []generations.ReaderUpdate{
		{Name: "a", Target: "", GID: []byte{0x01}},
		{Name: "b", Target: "", GID: []byte{0x03}},
	})
	require.Len(t, updates, 1)
	assert.Equal(t, "c", updates[0].Target)
	assert.Equal(t, []byte{0x01}, updates[0].MinGID)

	list := r.ListReaders("c")
	assert.Len(t, list, 2)
}

func TestLoadCollectionRehydratesFromMeta(t *testing.T) {
	s := openTestStore(t, "c")
	r1 := readers.New(s)
	require.NoError(t, r1.CreateReader(context.Background(), "c", "start", "", []byte{0x07}))
	r1.Shutdown()

	r2 := readers.New(s)
	t.Cleanup(r2.Shutdown)
	require.NoError(t, r2.LoadCollection("c"))

	list := r2.ListReaders("c")
	require.Len(t, list, 1)
	assert.Equal(t, "start", list[0].Name)
	assert.Equal(t, []byte{0x07}, list[0].GID)
}

func TestDropCollectionRemovesOwnedReaders(t *testing.T) {
	s := openTestStore(t, "c")
	r := readers.New(s)
	t.Cleanup(r.Shutdown)

	require.NoError(t, r.CreateReader(context.Background(), "c", "start", "", []byte{0x01}))
	r.DropCollection("c")
	assert.Empty(t, r.ListReaders("c"))
}
