package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/turfarchive/zeturf-harvester/internal/harvest"
)

// newFetchCmd fetches outstanding leaves from existing manifests, without
// committing.
func newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch [partition...]",
		Short: "Fetch missing pages for one or more years",
		Long: `Loads each partition's manifest, computes the pages still missing from
the local tree, and fetches them in adaptive batches. Safe to re-run at
any time; pages already present are never fetched again.`,
		RunE: runFetchCommand,
	}
}

func runFetchCommand(cmd *cobra.Command, args []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	for _, partition := range a.partitions(args) {
		report, err := a.orchestrator.Fetch(cmd.Context(), partition)
		logReport(a.logger, report)
		if err != nil {
			if errors.Is(err, harvest.ErrBudgetExceeded) || errors.Is(err, harvest.ErrDiskCritical) {
				return err
			}
			return fmt.Errorf("fetch %s: %w", partition, err)
		}
	}
	return nil
}

func logReport(logger *zap.Logger, report harvest.FetchReport) {
	logger.Info("fetch report",
		zap.String("partition", report.Partition),
		zap.String("status", string(report.Status)),
		zap.String("abort_reason", report.AbortReason),
		zap.Int("attempted", report.Attempted),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("rate_limited", report.RateLimited),
		zap.Int("transient", report.Transient),
		zap.Int("permanent_failures", len(report.PermanentFailures)),
		zap.Int("outstanding", report.Outstanding),
		zap.Int("batches", report.Batches),
		zap.Duration("elapsed", report.Elapsed),
	)
}
