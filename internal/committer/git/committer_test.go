package git

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/turfarchive/zeturf-harvester/internal/harvest"
)

// fakeRunner records git invocations and replays scripted outputs.
type fakeRunner struct {
	invocations [][]string
	outputs     map[string]string
	errs        map[string]error
}

func (f *fakeRunner) Run(_ context.Context, _ string, args ...string) (string, error) {
	f.invocations = append(f.invocations, args)
	key := args[0]
	if err := f.errs[key]; err != nil {
		return "", err
	}
	return f.outputs[key], nil
}

func (f *fakeRunner) commands() []string {
	var cmds []string
	for _, args := range f.invocations {
		cmds = append(cmds, strings.Join(args, " "))
	}
	return cmds
}

func testManifest() *harvest.Manifest {
	return &harvest.Manifest{
		Partition:    "2014",
		DiscoveredAt: time.Date(2014, 12, 31, 23, 50, 0, 0, time.UTC),
		Nodes: []harvest.ResourceNode{
			{ID: "2014-01-05", Kind: harvest.NodeRoot},
			{ID: "2014-01-05/R1/C1", Kind: harvest.NodeLeaf},
			{ID: "2014-01-05/R1/C2", Kind: harvest.NodeLeaf},
		},
	}
}

func TestCommitStagesAndCommitsPartition(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{outputs: map[string]string{"status": " M 2014/01/page.html\n"}}
	c, err := New(Config{WorkDir: "/tmp/archive", AuthorName: "bot", AuthorMail: "bot@example.com"}, runner, nil)
	require.NoError(t, err)

	require.NoError(t, c.Commit(context.Background(), "2014", testManifest()))
	require.Equal(t, []string{
		"config user.name bot",
		"config user.email bot@example.com",
		"add --all -- .",
		"status --porcelain",
		"commit -m Harvest partition 2014 (2 leaves, discovered 2014-12-31 23:50:00)",
	}, runner.commands())
}

func TestCommitIsNoOpWhenTreeIsClean(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{outputs: map[string]string{"status": "\n"}}
	c, err := New(Config{WorkDir: "/tmp/archive"}, runner, nil)
	require.NoError(t, err)

	require.NoError(t, c.Commit(context.Background(), "2014", testManifest()))
	for _, args := range runner.invocations {
		require.NotEqual(t, "commit", args[0], "clean tree must not be committed")
	}
}

func TestCommitPushesWhenConfigured(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{outputs: map[string]string{"status": "A 2014/x.html\n"}}
	c, err := New(Config{WorkDir: "/tmp/archive", Push: true}, runner, nil)
	require.NoError(t, err)

	require.NoError(t, c.Commit(context.Background(), "2014", testManifest()))
	last := runner.invocations[len(runner.invocations)-1]
	require.Equal(t, []string{"push"}, last)
}

func TestCommitSurfacesGitFailures(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{
		outputs: map[string]string{"status": "A 2014/x.html\n"},
		errs:    map[string]error{"commit": errors.New("exit status 128")},
	}
	c, err := New(Config{WorkDir: "/tmp/archive"}, runner, nil)
	require.NoError(t, err)

	err = c.Commit(context.Background(), "2014", testManifest())
	require.ErrorContains(t, err, "git commit")
}

func TestCommitValidatesInput(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, &fakeRunner{}, nil)
	require.Error(t, err)

	c, err := New(Config{WorkDir: "/tmp/archive"}, &fakeRunner{}, nil)
	require.NoError(t, err)
	require.Error(t, c.Commit(context.Background(), "2014", nil))
}

func TestCommitDefaultsAuthorIdentity(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{outputs: map[string]string{"status": ""}}
	c, err := New(Config{WorkDir: "/tmp/archive"}, runner, nil)
	require.NoError(t, err)

	require.NoError(t, c.Commit(context.Background(), "2014", testManifest()))
	require.Equal(t, []string{"config", "user.name", "harvest-bot"}, runner.invocations[0])
	require.Equal(t, []string{"config", "user.email", "harvest-bot@users.noreply.github.com"}, runner.invocations[1])
}
