package cmd

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/turfarchive/zeturf-harvester/internal/clock/system"
	"github.com/turfarchive/zeturf-harvester/internal/config"
	"github.com/turfarchive/zeturf-harvester/internal/harvest"
	pubmemory "github.com/turfarchive/zeturf-harvester/internal/publish/memory"
	storememory "github.com/turfarchive/zeturf-harvester/internal/store/memory"
)

// recordingCommitter counts Commit invocations per partition.
type recordingCommitter struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (c *recordingCommitter) Commit(_ context.Context, partition string, _ *harvest.Manifest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.calls = append(c.calls, partition)
	return nil
}

func (c *recordingCommitter) committed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// scriptedFetcher replays outcomes per URL, defaulting to success.
type scriptedFetcher struct {
	mu       sync.Mutex
	scripted map[string][]harvest.Outcome
	calls    map[string]int
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		scripted: make(map[string][]harvest.Outcome),
		calls:    make(map[string]int),
	}
}

func (f *scriptedFetcher) script(url string, outcomes ...harvest.Outcome) {
	f.scripted[url] = outcomes
}

func (f *scriptedFetcher) Fetch(_ context.Context, url string) harvest.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls[url]
	f.calls[url]++
	if queue := f.scripted[url]; i < len(queue) {
		return queue[i]
	}
	return harvest.Outcome{Kind: harvest.OutcomeSuccess, StatusCode: 200, Body: []byte("<html>course</html>")}
}

func harvestLeaf(id string) harvest.ResourceNode {
	return harvest.ResourceNode{
		ID:        id,
		Kind:      harvest.NodeLeaf,
		Location:  "2014/01/2014-01-05/R1-vincennes/" + id + ".html",
		SourceURL: "https://example.com/" + id,
	}
}

// newHarvestTestApp wires a minimal app around in-memory collaborators and a
// pre-discovered manifest, the shape `harvest --resume` runs in.
func newHarvestTestApp(t *testing.T, fetcher harvest.Fetcher, leaves ...harvest.ResourceNode) (*app, *recordingCommitter, *pubmemory.Publisher) {
	t.Helper()

	manifests, err := harvest.NewManifestStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, manifests.Save(&harvest.Manifest{
		Partition:    "2014",
		SessionID:    "session-test",
		DiscoveredAt: time.Now(),
		Nodes:        leaves,
	}))

	governor := harvest.NewGovernor(harvest.GovernorConfig{
		Floor: 3, Ceiling: 8, Step: 1,
		PacingMax: 50 * time.Millisecond, PacingDecrement: time.Millisecond,
		PacingSmall: time.Millisecond, PacingMedium: 2 * time.Millisecond, PacingLarge: 5 * time.Millisecond,
	}, nil)
	orchestrator := harvest.NewOrchestrator(
		harvest.OrchestratorConfig{},
		nil,
		nil,
		fetcher,
		storememory.New(1),
		manifests,
		governor,
		nil,
		system.New(),
		"session-test",
		zap.NewNop(),
	)

	committer := &recordingCommitter{}
	publisher := pubmemory.New()
	a := &app{
		cfg:          config.Config{PubSub: config.PubSubConfig{TopicName: "harvest-events"}},
		logger:       zap.NewNop(),
		sessionID:    "session-test",
		manifests:    manifests,
		orchestrator: orchestrator,
		committer:    committer,
		publisher:    publisher,
	}
	return a, committer, publisher
}

func TestHarvestCommitsExactlyOnceOnCompletion(t *testing.T) {
	t.Parallel()

	leaf1, leaf2, leaf3 := harvestLeaf("R1C1"), harvestLeaf("R1C2"), harvestLeaf("R1C3")
	fetcher := newScriptedFetcher()
	fetcher.script(leaf2.SourceURL,
		harvest.Outcome{Kind: harvest.OutcomeRateLimited, StatusCode: 429, Reason: "HTTP 429"},
		harvest.Outcome{Kind: harvest.OutcomeSuccess, StatusCode: 200, Body: []byte("second try")},
	)
	a, committer, publisher := newHarvestTestApp(t, fetcher, leaf1, leaf2, leaf3)

	require.NoError(t, harvestOne(context.Background(), a, "2014", true))

	require.Equal(t, []string{"2014"}, committer.committed(), "commit exactly once per completed partition")

	messages := publisher.Messages()
	require.Len(t, messages, 1)
	require.Equal(t, "harvest-events", messages[0].Topic)
}

func TestHarvestNeverCommitsWithPermanentGap(t *testing.T) {
	t.Parallel()

	leaf1, leaf2 := harvestLeaf("R1C1"), harvestLeaf("R1C2")
	fetcher := newScriptedFetcher()
	fetcher.script(leaf2.SourceURL,
		harvest.Outcome{Kind: harvest.OutcomePermanent, StatusCode: 404, Reason: "HTTP 404"},
	)
	a, committer, publisher := newHarvestTestApp(t, fetcher, leaf1, leaf2)

	require.NoError(t, harvestOne(context.Background(), a, "2014", true))

	require.Empty(t, committer.committed(), "a partition with a permanent gap must never be committed")
	require.Empty(t, publisher.Messages())

	// Once the remote serves the page again, the next run commits.
	require.NoError(t, harvestOne(context.Background(), a, "2014", true))
	require.Equal(t, []string{"2014"}, committer.committed())
}

func TestHarvestSkipsCommitWhenNothingOutstanding(t *testing.T) {
	t.Parallel()

	leaf := harvestLeaf("R1C1")
	a, committer, _ := newHarvestTestApp(t, newScriptedFetcher(), leaf)

	require.NoError(t, harvestOne(context.Background(), a, "2014", true))
	require.Equal(t, []string{"2014"}, committer.committed())

	// A second run finds the tree complete and re-invokes the committer,
	// which is contractually an idempotent no-op on a clean worktree.
	require.NoError(t, harvestOne(context.Background(), a, "2014", true))
	require.Equal(t, []string{"2014", "2014"}, committer.committed())
}
