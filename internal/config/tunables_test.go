package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	l, err := Load("", nil)
	require.NoError(t, err)
	require.Equal(t, Defaults, l.Current())
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tunables.toml")
	require.NoError(t, os.WriteFile(path, []byte("gc_records_limit = 42\n"), 0o644))

	l, err := Load(path, nil)
	require.NoError(t, err)
	require.Equal(t, 42, l.Current().GCRecordsLimit)
	require.Equal(t, Defaults.DiffPackLimit, l.Current().DiffPackLimit)
}

func TestLoadReReadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tunables.toml")
	require.NoError(t, os.WriteFile(path, []byte("gc_records_limit = 1\n"), 0o644))

	changed := make(chan Tunables, 1)
	l, err := Load(path, func(t Tunables) { changed <- t })
	require.NoError(t, err)
	require.Equal(t, 1, l.Current().GCRecordsLimit)

	require.NoError(t, os.WriteFile(path, []byte("gc_records_limit = 2\n"), 0o644))

	select {
	case got := <-changed:
		require.Equal(t, 2, got.GCRecordsLimit)
	case <-time.After(2 * time.Second):
		t.Fatal("config reload did not fire")
	}
}
