package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/turfarchive/zeturf-harvester/internal/harvest"
)

// newHarvestCmd runs the full pipeline: discover, fetch, commit, notify.
func newHarvestCmd() *cobra.Command {
	var resume bool
	cmd := &cobra.Command{
		Use:   "harvest [partition...]",
		Short: "Discover, fetch and commit one or more years end to end",
		Long: `Runs the complete pipeline partition by partition: discovery builds a
fresh manifest (unless --resume reuses the existing one), fetch drives
adaptive batches until nothing is outstanding, and the year is committed
only when every required page is present. A budget or disk abort stops
the run cleanly; the next invocation resumes from local state.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHarvestCommand(cmd, args, resume)
		},
	}
	cmd.Flags().BoolVar(&resume, "resume", false, "reuse existing manifests instead of re-discovering")
	return cmd
}

func runHarvestCommand(cmd *cobra.Command, args []string, resume bool) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	g, ctx := errgroup.WithContext(runCtx)
	if a.server != nil {
		g.Go(func() error { return a.server.Start(ctx) })
	}
	g.Go(func() error {
		// Stop the status server once the pipeline is done.
		defer cancel()
		return harvestPartitions(ctx, a, a.partitions(args), resume)
	})
	return g.Wait()
}

func harvestPartitions(ctx context.Context, a *app, partitions []string, resume bool) error {
	for _, partition := range partitions {
		if err := harvestOne(ctx, a, partition, resume); err != nil {
			if errors.Is(err, harvest.ErrBudgetExceeded) {
				color.Yellow("budget exhausted, stopping before partition %s is half-done", partition)
				return nil
			}
			return err
		}
	}
	return nil
}

func harvestOne(ctx context.Context, a *app, partition string, resume bool) error {
	if !resume {
		if _, err := a.orchestrator.Discover(ctx, partition); err != nil {
			return fmt.Errorf("discover %s: %w", partition, err)
		}
	}

	report, err := a.orchestrator.Fetch(ctx, partition)
	logReport(a.logger, report)
	if err != nil {
		return err
	}
	if !report.Committable() {
		// Pages the remote no longer serves leave the year incomplete; it
		// stays uncommitted until a re-discovery resolves the gaps.
		color.Yellow("partition %s left uncommitted: %d permanently unavailable pages",
			partition, len(report.PermanentFailures))
		return nil
	}

	if a.committer != nil {
		manifest, err := a.manifests.Load(partition)
		if err != nil {
			return fmt.Errorf("load manifest for commit: %w", err)
		}
		if err := a.committer.Commit(ctx, partition, manifest); err != nil {
			return fmt.Errorf("commit %s: %w", partition, err)
		}
	}

	if a.publisher != nil {
		payload := map[string]any{
			"partition":          partition,
			"session_id":         a.sessionID,
			"status":             string(report.Status),
			"succeeded":          report.Succeeded,
			"permanent_failures": len(report.PermanentFailures),
			"timestamp":          time.Now().Format(time.RFC3339),
		}
		if _, err := a.publisher.Publish(ctx, a.cfg.PubSub.TopicName, payload); err != nil {
			a.logger.Warn("publish harvest event failed",
				zap.String("partition", partition),
				zap.Error(err),
			)
		}
	}

	color.Green("partition %s complete", partition)
	return nil
}
