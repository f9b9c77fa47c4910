package fs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/turfarchive/zeturf-harvester/internal/harvest"
)

func testNode(location string) harvest.ResourceNode {
	return harvest.ResourceNode{
		ID:       location,
		Kind:     harvest.NodeLeaf,
		Location: location,
	}
}

func TestNewCreatesBaseDir(t *testing.T) {
	t.Parallel()

	base := filepath.Join(t.TempDir(), "archive")
	store, err := New(Config{BaseDir: base})
	require.NoError(t, err)
	require.Equal(t, base, store.BaseDir())
	require.DirExists(t, base)
}

func TestNewRejectsBadBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{BaseDir: "  "})
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "regular-file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err = New(Config{BaseDir: file})
	require.ErrorContains(t, err, "not a directory")
}

func TestWriteThenExists(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir(), MinLeafBytes: 4})
	require.NoError(t, err)
	node := testNode("2014/01/2014-01-05/R1-vincennes/R1C1-prix.html")

	require.False(t, store.Exists(node))
	require.NoError(t, store.Write(context.Background(), node, []byte("<html>result page</html>")))
	require.True(t, store.Exists(node))

	data, err := os.ReadFile(filepath.Join(store.BaseDir(), node.Location))
	require.NoError(t, err)
	require.Equal(t, "<html>result page</html>", string(data))
}

func TestExistsTreatsUndersizedFileAsAbsent(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	store, err := New(Config{BaseDir: base, MinLeafBytes: 512})
	require.NoError(t, err)
	node := testNode("2014/01/page.html")

	require.NoError(t, os.MkdirAll(filepath.Join(base, "2014/01"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(base, node.Location), []byte("short"), 0o600))
	require.False(t, store.Exists(node), "a truncated page must be re-fetched")

	require.NoError(t, os.WriteFile(filepath.Join(base, node.Location), []byte(strings.Repeat("a", 512)), 0o600))
	require.True(t, store.Exists(node))
}

func TestExistsTreatsEmptyFileAsAbsent(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	store, err := New(Config{BaseDir: base, MinLeafBytes: 1})
	require.NoError(t, err)
	node := testNode("empty.html")

	require.NoError(t, os.WriteFile(filepath.Join(base, node.Location), nil, 0o600))
	require.False(t, store.Exists(node))
}

func TestWriteOverwritesAtomically(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	store, err := New(Config{BaseDir: base})
	require.NoError(t, err)
	node := testNode("2014/01/page.html")

	require.NoError(t, store.Write(context.Background(), node, []byte("first version")))
	require.NoError(t, store.Write(context.Background(), node, []byte("second version")))

	data, err := os.ReadFile(filepath.Join(base, node.Location))
	require.NoError(t, err)
	require.Equal(t, "second version", string(data))

	// No temp files survive a completed write.
	entries, err := os.ReadDir(filepath.Join(base, "2014/01"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestWriteRejectsPathTraversal(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	err = store.Write(context.Background(), testNode("../escape.html"), []byte("x"))
	require.ErrorContains(t, err, "path traversal")
	require.False(t, store.Exists(testNode("../escape.html")))

	err = store.Write(context.Background(), testNode(""), []byte("x"))
	require.Error(t, err)
}

func TestWriteHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = store.Write(ctx, testNode("page.html"), []byte("x"))
	require.Error(t, err)
	require.False(t, store.Exists(testNode("page.html")))
}

func TestFreeReportsHeadroom(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	free, err := store.Free()
	require.NoError(t, err)
	require.Positive(t, free)
}
