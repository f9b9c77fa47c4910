// Package git commits completed partitions to the repository holding the
// harvested tree. The git CLI is driven directly so CI checkouts keep their
// credential helpers; the command runner is injected for tests.
package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/turfarchive/zeturf-harvester/internal/harvest"
)

// Runner executes one git invocation in a working directory and returns its
// combined output.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// Config controls committer behavior.
type Config struct {
	WorkDir    string `mapstructure:"work_dir"`
	AuthorName string `mapstructure:"author_name"`
	AuthorMail string `mapstructure:"author_mail"`
	Push       bool   `mapstructure:"push"`
}

// Committer stages and commits one partition directory per call. Calling it
// again for an unchanged partition is a no-op, so retried CI jobs are safe.
type Committer struct {
	cfg    Config
	runner Runner
	logger *zap.Logger
}

// New builds a Committer. runner may be nil, in which case the git CLI is
// invoked directly.
func New(cfg Config, runner Runner, logger *zap.Logger) (*Committer, error) {
	if strings.TrimSpace(cfg.WorkDir) == "" {
		return nil, fmt.Errorf("git work dir is required")
	}
	if cfg.AuthorName == "" {
		cfg.AuthorName = "harvest-bot"
	}
	if cfg.AuthorMail == "" {
		cfg.AuthorMail = "harvest-bot@users.noreply.github.com"
	}
	if runner == nil {
		runner = execRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Committer{cfg: cfg, runner: runner, logger: logger}, nil
}

// Commit stages the partition's files and the manifest, commits, and
// optionally pushes. The caller must only invoke this once a fetch pass
// reports no outstanding leaves.
func (c *Committer) Commit(ctx context.Context, partition string, manifest *harvest.Manifest) error {
	if manifest == nil {
		return fmt.Errorf("manifest is required")
	}
	steps := [][]string{
		{"config", "user.name", c.cfg.AuthorName},
		{"config", "user.email", c.cfg.AuthorMail},
		{"add", "--all", "--", "."},
	}
	for _, args := range steps {
		if _, err := c.runner.Run(ctx, c.cfg.WorkDir, args...); err != nil {
			return fmt.Errorf("git %s: %w", args[0], err)
		}
	}

	status, err := c.runner.Run(ctx, c.cfg.WorkDir, "status", "--porcelain")
	if err != nil {
		return fmt.Errorf("git status: %w", err)
	}
	if strings.TrimSpace(status) == "" {
		c.logger.Info("nothing to commit, partition already persisted",
			zap.String("partition", partition),
		)
		return nil
	}

	message := commitMessage(partition, manifest)
	if _, err := c.runner.Run(ctx, c.cfg.WorkDir, "commit", "-m", message); err != nil {
		return fmt.Errorf("git commit: %w", err)
	}
	c.logger.Info("partition committed", zap.String("partition", partition))

	if c.cfg.Push {
		if _, err := c.runner.Run(ctx, c.cfg.WorkDir, "push"); err != nil {
			return fmt.Errorf("git push: %w", err)
		}
	}
	return nil
}

func commitMessage(partition string, manifest *harvest.Manifest) string {
	return fmt.Sprintf("Harvest partition %s (%d leaves, discovered %s)",
		partition,
		len(manifest.Leaves()),
		manifest.DiscoveredAt.Format("2006-01-02 15:04:05"),
	)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
