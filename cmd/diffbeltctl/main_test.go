package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// runCLI drives rootCmd exactly as main() would, capturing whatever it
// printed to stdout via printResult. Tests in this file run sequentially
// (no t.Parallel) because rootCmd, its flags and the package-level db
// handle are shared global state, the same way a single real invocation
// of the binary would use them.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stdout
	os.Stdout = w

	rootCmd.SetArgs(args)
	execErr := rootCmd.Execute()

	os.Stdout = orig
	require.NoError(t, w.Close())
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out), execErr
}

func TestCLI_CollectionLifecycleAndPointOps(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "cli.db")

	out, err := runCLI(t, "--data-dir", dataDir, "--json", "create-collection", "c", "--manual")
	require.NoError(t, err)
	var created map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	require.Equal(t, "c", created["created"])
	require.Equal(t, true, created["manual"])

	out, err = runCLI(t, "--data-dir", dataDir, "--json", "list-collections")
	require.NoError(t, err)
	var names []string
	require.NoError(t, json.Unmarshal([]byte(out), &names))
	require.Contains(t, names, "c")

	_, err = runCLI(t, "--data-dir", dataDir, "start-generation", "c", "0001")
	require.NoError(t, err)

	out, err = runCLI(t, "--data-dir", dataDir, "--json", "put", "c", "key", "value", "--gid", "0001")
	require.NoError(t, err)
	var putResult struct {
		GID     []byte
		Written []bool
	}
	require.NoError(t, json.Unmarshal([]byte(out), &putResult))
	require.Equal(t, []byte("0001"), putResult.GID)
	require.Equal(t, []bool{true}, putResult.Written)

	_, err = runCLI(t, "--data-dir", dataDir, "commit-generation", "c", "0001")
	require.NoError(t, err)

	out, err = runCLI(t, "--data-dir", dataDir, "--json", "get", "c", "key", "--gid", "0001")
	require.NoError(t, err)
	var getResult struct {
		Found      bool
		Value      []byte
		FoundAtGID []byte
	}
	require.NoError(t, json.Unmarshal([]byte(out), &getResult))
	require.True(t, getResult.Found)
	require.Equal(t, []byte("value"), getResult.Value)
	require.Equal(t, []byte("0001"), getResult.FoundAtGID)
}

func TestCLI_KeysAroundAndQuery(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "cli.db")

	_, err := runCLI(t, "--data-dir", dataDir, "create-collection", "c", "--manual")
	require.NoError(t, err)
	_, err = runCLI(t, "--data-dir", dataDir, "start-generation", "c", "g")
	require.NoError(t, err)
	for _, k := range []string{"0", "1", "2", "3"} {
		_, err = runCLI(t, "--data-dir", dataDir, "put", "c", k, "v", "--gid", "g")
		require.NoError(t, err)
	}
	_, err = runCLI(t, "--data-dir", dataDir, "commit-generation", "c", "g")
	require.NoError(t, err)

	out, err := runCLI(t, "--data-dir", dataDir, "--json", "keys-around", "c", "1", "--gid", "g", "--limit", "10")
	require.NoError(t, err)
	var around struct {
		Left, Right [][]byte
	}
	require.NoError(t, json.Unmarshal([]byte(out), &around))
	require.Equal(t, [][]byte{[]byte("0")}, around.Left)
	require.Equal(t, [][]byte{[]byte("2"), []byte("3")}, around.Right)

	out, err = runCLI(t, "--data-dir", dataDir, "--json", "query", "c", "--gid", "g")
	require.NoError(t, err)
	var queryResult struct {
		Items    []map[string]any
		CursorID string
	}
	require.NoError(t, json.Unmarshal([]byte(out), &queryResult))
	require.Len(t, queryResult.Items, 4)
}

func TestCLI_DiffAndReaders(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "cli.db")

	_, err := runCLI(t, "--data-dir", dataDir, "create-collection", "c", "--manual")
	require.NoError(t, err)
	_, err = runCLI(t, "--data-dir", dataDir, "start-generation", "c", "g1")
	require.NoError(t, err)
	_, err = runCLI(t, "--data-dir", dataDir, "put", "c", "k", "v1", "--gid", "g1")
	require.NoError(t, err)
	_, err = runCLI(t, "--data-dir", dataDir, "commit-generation", "c", "g1")
	require.NoError(t, err)

	_, err = runCLI(t, "--data-dir", dataDir, "create-reader", "c", "r", "g1")
	require.NoError(t, err)

	out, err := runCLI(t, "--data-dir", dataDir, "--json", "list-readers", "c")
	require.NoError(t, err)
	require.Contains(t, out, "\"r\"")

	out, err = runCLI(t, "--data-dir", dataDir, "--json", "diff", "c", "g1")
	require.NoError(t, err)
	var diffResult struct {
		Items    []map[string]any
		ToGID    []byte
		CursorID string
	}
	require.NoError(t, json.Unmarshal([]byte(out), &diffResult))
	require.Equal(t, []byte("g1"), diffResult.ToGID)
	require.Len(t, diffResult.Items, 1)

	_, err = runCLI(t, "--data-dir", dataDir, "update-reader", "c", "r", "g1")
	require.NoError(t, err)
	_, err = runCLI(t, "--data-dir", dataDir, "delete-reader", "c", "r")
	require.NoError(t, err)

	out, err = runCLI(t, "--data-dir", dataDir, "--json", "list-readers", "c")
	require.NoError(t, err)
	var afterDelete []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &afterDelete))
	require.Empty(t, afterDelete)
}

func TestCLI_Phantom(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "cli.db")

	_, err := runCLI(t, "--data-dir", dataDir, "create-collection", "c")
	require.NoError(t, err)

	out, err := runCLI(t, "--data-dir", dataDir, "--json", "start-phantom", "c")
	require.NoError(t, err)
	var started map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &started))
	pid, _ := started["pid"].(string)
	require.NotEmpty(t, pid)

	out, err = runCLI(t, "--data-dir", dataDir, "--json", "abort-phantom", "c", pid)
	require.NoError(t, err)
	require.Contains(t, out, "\"aborted\"")
}

func TestCLI_UnknownCollectionErrors(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "cli.db")

	_, err := runCLI(t, "--data-dir", dataDir, "get", "nope", "key")
	require.Error(t, err)
}

func TestCLI_Version(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	require.Contains(t, out, "diffbeltctl")
}
