package harvest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManifestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := NewManifestStore(t.TempDir())
	require.NoError(t, err)

	manifest := &Manifest{
		Partition:    "2014",
		SessionID:    "session-1",
		DiscoveredAt: time.Date(2014, 1, 5, 9, 30, 0, 0, time.UTC),
		Nodes: []ResourceNode{
			{ID: "2014-01-05", Kind: NodeRoot, Location: "2014/01/2014-01-05/2014-01-05.html", SourceURL: "https://example.com/resultats/2014-01-05"},
			{ID: "2014-01-05/R1/C1", Kind: NodeLeaf, ParentID: "2014-01-05/R1", Location: "2014/01/2014-01-05/R1-vincennes/R1C1.html", SourceURL: "https://example.com/course/1"},
		},
		Gaps: []ManifestGap{
			{NodeID: "2014-01-05/R2", URL: "https://example.com/reunion/2", Reason: "HTTP 503"},
		},
	}
	require.NoError(t, store.Save(manifest))

	loaded, err := store.Load("2014")
	require.NoError(t, err)
	require.Equal(t, manifest.Partition, loaded.Partition)
	require.Equal(t, manifest.Nodes, loaded.Nodes)
	require.Equal(t, manifest.Gaps, loaded.Gaps)
	require.True(t, manifest.DiscoveredAt.Equal(loaded.DiscoveredAt))
}

func TestManifestStoreSaveReplacesWholesale(t *testing.T) {
	t.Parallel()

	store, err := NewManifestStore(t.TempDir())
	require.NoError(t, err)

	first := &Manifest{Partition: "2014", Nodes: []ResourceNode{
		{ID: "a", Kind: NodeLeaf, Location: "a.html"},
		{ID: "b", Kind: NodeLeaf, Location: "b.html"},
	}}
	require.NoError(t, store.Save(first))

	second := &Manifest{Partition: "2014", Nodes: []ResourceNode{
		{ID: "c", Kind: NodeLeaf, Location: "c.html"},
	}}
	require.NoError(t, store.Save(second))

	loaded, err := store.Load("2014")
	require.NoError(t, err)
	require.Len(t, loaded.Nodes, 1)
	require.Equal(t, "c", loaded.Nodes[0].ID)
}

func TestManifestStoreSaveLeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewManifestStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Save(&Manifest{Partition: "2014"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.False(t, strings.HasSuffix(entries[0].Name(), ".tmp"))
}

func TestManifestStoreLoadRejectsPartitionMismatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewManifestStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Save(&Manifest{Partition: "2014"}))

	// A renamed file must not pass for another partition.
	require.NoError(t, os.Rename(store.Path("2014"), filepath.Join(dir, "2015.json")))
	_, err = store.Load("2015")
	require.ErrorContains(t, err, "partition mismatch")
}

func TestManifestStoreLoadMissing(t *testing.T) {
	t.Parallel()

	store, err := NewManifestStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.Load("2014")
	require.Error(t, err)
}

func TestManifestStoreRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	_, err := NewManifestStore("")
	require.Error(t, err)

	store, err := NewManifestStore(t.TempDir())
	require.NoError(t, err)
	require.Error(t, store.Save(nil))
	require.Error(t, store.Save(&Manifest{}))
}

func TestManifestLeavesPreserveTreeOrder(t *testing.T) {
	t.Parallel()

	m := &Manifest{Nodes: []ResourceNode{
		{ID: "root", Kind: NodeRoot},
		{ID: "g1", Kind: NodeGroup},
		{ID: "l1", Kind: NodeLeaf},
		{ID: "l2", Kind: NodeLeaf},
		{ID: "g2", Kind: NodeGroup},
		{ID: "l3", Kind: NodeLeaf},
	}}
	leaves := m.Leaves()
	require.Len(t, leaves, 3)
	require.Equal(t, "l1", leaves[0].ID)
	require.Equal(t, "l2", leaves[1].ID)
	require.Equal(t, "l3", leaves[2].ID)
}

func TestFetchReportCommittable(t *testing.T) {
	t.Parallel()

	require.True(t, FetchReport{Status: StatusComplete}.Committable())
	require.True(t, FetchReport{Status: StatusNothingToDo}.Committable())
	require.False(t, FetchReport{Status: StatusCompleteWithGaps}.Committable(), "permanent gaps block the commit")
	require.False(t, FetchReport{Status: StatusAborted}.Committable())
}
