package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Abort signals. These leave the partition uncommitted and fully resumable.
var (
	ErrDiskCritical   = errors.New("available disk space below critical threshold")
	ErrBudgetExceeded = errors.New("wall-clock budget would be exceeded")
)

// Planner enumerates the root nodes expected in a partition. The tree shape
// is known in advance from the archive hierarchy; nothing is discovered by
// following arbitrary links.
type Planner interface {
	Partitions() []string
	Roots(partition string) ([]ResourceNode, error)
}

// OrchestratorConfig carries the operational knobs for discovery and fetch.
type OrchestratorConfig struct {
	DiscoveryConcurrency int
	DiscoveryRPS         float64
	DiskCriticalBytes    uint64
	WallClockBudget      time.Duration
	BudgetSafetyMargin   time.Duration
	ReplicaContentType   string
}

// Orchestrator drives discovery and fetch for one partition at a time. It
// exclusively owns manifests and the outstanding-set computation; the
// Governor owns pacing state; the ResourceStore answers existence.
type Orchestrator struct {
	cfg       OrchestratorConfig
	planner   Planner
	parser    PageParser
	fetcher   Fetcher
	store     ResourceStore
	manifests *ManifestStore
	governor  *Governor
	replica   Replica
	clock     Clock
	logger    *zap.Logger
	sessionID string

	mu       sync.Mutex
	progress Progress
}

// NewOrchestrator wires the pipeline. replica may be nil.
func NewOrchestrator(
	cfg OrchestratorConfig,
	planner Planner,
	parser PageParser,
	fetcher Fetcher,
	store ResourceStore,
	manifests *ManifestStore,
	governor *Governor,
	replica Replica,
	clock Clock,
	sessionID string,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.DiscoveryConcurrency <= 0 {
		cfg.DiscoveryConcurrency = 4
	}
	if cfg.ReplicaContentType == "" {
		cfg.ReplicaContentType = "text/html; charset=utf-8"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		planner:   planner,
		parser:    parser,
		fetcher:   fetcher,
		store:     store,
		manifests: manifests,
		governor:  governor,
		replica:   replica,
		clock:     clock,
		sessionID: sessionID,
		logger:    logger,
	}
}

// Snapshot returns the current progress for the status endpoint.
func (o *Orchestrator) Snapshot() Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

func (o *Orchestrator) setProgress(update func(*Progress)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	update(&o.progress)
	o.progress.SessionID = o.sessionID
	o.progress.UpdatedAt = o.clock.Now()
}

// Discover builds the expected resource tree for a partition and persists it
// as a manifest, replacing any previous one wholesale. A root or group page
// that cannot be fetched becomes a manifest gap, not an abort; downstream
// Fetch treats missing children as nothing-to-do and a later re-discover
// picks them up.
func (o *Orchestrator) Discover(ctx context.Context, partition string) (*Manifest, error) {
	roots, err := o.planner.Roots(partition)
	if err != nil {
		return nil, fmt.Errorf("plan partition %s: %w", partition, err)
	}
	o.setProgress(func(p *Progress) {
		*p = Progress{Partition: partition, Phase: "discover"}
	})

	limit := rate.Inf
	if o.cfg.DiscoveryRPS > 0 {
		limit = rate.Limit(o.cfg.DiscoveryRPS)
	}
	limiter := rate.NewLimiter(limit, 1)

	type rootResult struct {
		nodes []ResourceNode
		gaps  []ManifestGap
	}
	results := make([]rootResult, len(roots))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.DiscoveryConcurrency)
	for i, root := range roots {
		i, root := i, root
		g.Go(func() error {
			nodes, gaps, err := o.discoverRoot(gctx, limiter, root)
			if err != nil {
				return err
			}
			results[i] = rootResult{nodes: nodes, gaps: gaps}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("discover partition %s: %w", partition, err)
	}

	manifest := &Manifest{
		Partition:    partition,
		SessionID:    o.sessionID,
		DiscoveredAt: o.clock.Now(),
	}
	for _, r := range results {
		manifest.Nodes = append(manifest.Nodes, r.nodes...)
		manifest.Gaps = append(manifest.Gaps, r.gaps...)
	}
	if err := o.manifests.Save(manifest); err != nil {
		return nil, fmt.Errorf("persist manifest for %s: %w", partition, err)
	}
	o.logger.Info("discovery complete",
		zap.String("partition", partition),
		zap.Int("nodes", len(manifest.Nodes)),
		zap.Int("leaves", len(manifest.Leaves())),
		zap.Int("gaps", len(manifest.Gaps)),
	)
	return manifest, nil
}

// discoverRoot expands one root (date page) into its groups and leaves. Only
// a store failure is an error; fetch and parse failures become gaps.
func (o *Orchestrator) discoverRoot(
	ctx context.Context,
	limiter *rate.Limiter,
	root ResourceNode,
) ([]ResourceNode, []ManifestGap, error) {
	nodes := []ResourceNode{root}
	var gaps []ManifestGap

	html, gap, err := o.discoveryPage(ctx, limiter, root)
	if err != nil {
		return nil, nil, err
	}
	if gap != nil {
		return nodes, []ManifestGap{*gap}, nil
	}

	groups, err := o.parser.ParseRootChildren(html, root)
	if err != nil {
		gaps = append(gaps, ManifestGap{NodeID: root.ID, URL: root.SourceURL, Reason: "parse: " + err.Error()})
		return nodes, gaps, nil
	}

	for _, group := range groups {
		nodes = append(nodes, group)
		groupHTML, gap, err := o.discoveryPage(ctx, limiter, group)
		if err != nil {
			return nil, nil, err
		}
		if gap != nil {
			gaps = append(gaps, *gap)
			continue
		}
		leaves, err := o.parser.ParseGroupChildren(groupHTML, group)
		if err != nil {
			gaps = append(gaps, ManifestGap{NodeID: group.ID, URL: group.SourceURL, Reason: "parse: " + err.Error()})
			continue
		}
		nodes = append(nodes, leaves...)
	}
	return nodes, gaps, nil
}

// discoveryPage fetches and persists one root or group page. Returns a gap
// instead of an error for anything short of a store failure.
func (o *Orchestrator) discoveryPage(
	ctx context.Context,
	limiter *rate.Limiter,
	node ResourceNode,
) ([]byte, *ManifestGap, error) {
	if err := limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("discovery pacing: %w", err)
	}
	outcome := o.fetcher.Fetch(ctx, node.SourceURL)
	if outcome.Kind != OutcomeSuccess {
		o.logger.Warn("discovery page unavailable, recording gap",
			zap.String("node", node.ID),
			zap.String("outcome", outcome.Kind.String()),
			zap.String("reason", outcome.Reason),
		)
		return nil, &ManifestGap{NodeID: node.ID, URL: node.SourceURL, Reason: outcome.Reason}, nil
	}
	if err := o.store.Write(ctx, node, outcome.Body); err != nil {
		return nil, nil, fmt.Errorf("store %s: %w", node.ID, err)
	}
	return outcome.Body, nil, nil
}

// Fetch walks the manifest for a partition and drives batches through the
// executor and governor until no leaf is outstanding or an abort condition
// fires. Rate-limited and transient tasks return to the front of the queue;
// no leaf is ever silently dropped for a transient condition.
func (o *Orchestrator) Fetch(ctx context.Context, partition string) (FetchReport, error) {
	report := FetchReport{Partition: partition}
	manifest, err := o.manifests.Load(partition)
	if err != nil {
		report.Status = StatusAborted
		report.AbortReason = err.Error()
		return report, err
	}

	outstanding := o.outstanding(manifest)
	report.Outstanding = len(outstanding)
	o.setProgress(func(p *Progress) {
		*p = Progress{Partition: partition, Phase: "fetch", Outstanding: len(outstanding)}
	})
	if len(outstanding) == 0 {
		report.Status = StatusNothingToDo
		return report, nil
	}

	start := o.clock.Now()
	permanents := map[string]struct{}{}

	for len(outstanding) > 0 {
		if err := o.checkAbort(start, len(outstanding), report.Succeeded); err != nil {
			return o.abort(report, outstanding, err)
		}
		if err := ctx.Err(); err != nil {
			return o.abort(report, outstanding, err)
		}

		size := o.governor.BatchSize()
		if size > len(outstanding) {
			size = len(outstanding)
		}
		batch := outstanding[:size]
		outstanding = outstanding[size:]

		outcomes, err := o.runBatch(ctx, batch)
		if err != nil {
			// A store failure aborts the pass without marking the leaf done;
			// the drained batch stays part of the outstanding work.
			remaining := make([]*FetchTask, 0, len(batch)+len(outstanding))
			remaining = append(remaining, batch...)
			remaining = append(remaining, outstanding...)
			return o.abort(report, remaining, err)
		}

		var retry []*FetchTask
		rateLimited := 0
		for i, outcome := range outcomes {
			task := batch[i]
			report.Attempted++
			switch outcome.Kind {
			case OutcomeSuccess:
				report.Succeeded++
			case OutcomeRateLimited:
				rateLimited++
				report.RateLimited++
				retry = append(retry, task)
			case OutcomeTransient:
				report.Transient++
				retry = append(retry, task)
			case OutcomePermanent:
				permanents[task.Node.ID] = struct{}{}
				o.logger.Warn("permanent failure, excluding leaf",
					zap.String("node", task.Node.ID),
					zap.String("reason", outcome.Reason),
				)
			}
		}
		outstanding = append(retry, outstanding...)
		report.Batches++
		o.governor.Observe(size, rateLimited)

		metricOutstanding.Set(float64(len(outstanding)))
		snapshot := o.governor.Snapshot()
		o.setProgress(func(p *Progress) {
			p.Outstanding = len(outstanding)
			p.Succeeded = report.Succeeded
			p.Failed = len(permanents)
			p.Batches = report.Batches
			p.Concurrency = snapshot.Current
			p.PacingMs = snapshot.Pacing.Milliseconds()
		})

		if len(outstanding) > 0 {
			if err := o.pause(ctx, o.governor.Pacing()); err != nil {
				return o.abort(report, outstanding, err)
			}
		}
	}

	report.Elapsed = o.clock.Now().Sub(start)
	report.Outstanding = 0
	for id := range permanents {
		report.PermanentFailures = append(report.PermanentFailures, id)
	}
	if len(report.PermanentFailures) > 0 {
		report.Status = StatusCompleteWithGaps
	} else {
		report.Status = StatusComplete
	}
	o.logger.Info("fetch pass complete",
		zap.String("partition", partition),
		zap.String("status", string(report.Status)),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("permanent_failures", len(report.PermanentFailures)),
		zap.Int("batches", report.Batches),
	)
	return report, nil
}

// outstanding computes the leaves not yet materialized, in manifest tree
// order so partial progress is always a contiguous prefix.
func (o *Orchestrator) outstanding(manifest *Manifest) []*FetchTask {
	var tasks []*FetchTask
	for _, leaf := range manifest.Leaves() {
		if !o.store.Exists(leaf) {
			tasks = append(tasks, &FetchTask{Node: leaf})
		}
	}
	return tasks
}

// runBatch submits one batch concurrently and collects a complete outcome
// sample for the governor. Only store failures return an error.
func (o *Orchestrator) runBatch(ctx context.Context, batch []*FetchTask) ([]Outcome, error) {
	outcomes := make([]Outcome, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	for i, task := range batch {
		i, task := i, task
		g.Go(func() error {
			task.Attempt++
			outcome := o.fetcher.Fetch(gctx, task.Node.SourceURL)
			if outcome.Kind == OutcomeSuccess {
				if err := o.store.Write(gctx, task.Node, outcome.Body); err != nil {
					return fmt.Errorf("store %s: %w", task.Node.ID, err)
				}
				metricLeavesStored.Inc()
				o.mirror(gctx, task.Node, outcome.Body)
			}
			outcome.Body = nil
			task.LastOutcome = &outcome
			outcomes[i] = outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (o *Orchestrator) mirror(ctx context.Context, node ResourceNode, body []byte) {
	if o.replica == nil {
		return
	}
	if _, err := o.replica.PutObject(ctx, node.Location, o.cfg.ReplicaContentType, body); err != nil {
		o.logger.Warn("replica mirror failed",
			zap.String("node", node.ID),
			zap.Error(err),
		)
	}
}

// checkAbort evaluates the pre-batch abort conditions: disk headroom and the
// optional wall-clock budget.
func (o *Orchestrator) checkAbort(start time.Time, outstanding, succeeded int) error {
	if o.cfg.DiskCriticalBytes > 0 {
		free, err := o.store.Free()
		if err == nil && free < o.cfg.DiskCriticalBytes {
			return fmt.Errorf("%w: %d bytes free", ErrDiskCritical, free)
		}
	}
	if o.cfg.WallClockBudget > 0 && succeeded > 0 {
		elapsed := o.clock.Now().Sub(start)
		throughput := float64(succeeded) / elapsed.Seconds()
		if throughput > 0 {
			estimated := time.Duration(float64(outstanding) / throughput * float64(time.Second))
			if elapsed+estimated > o.cfg.WallClockBudget-o.cfg.BudgetSafetyMargin {
				return fmt.Errorf("%w: elapsed %s, estimated remaining %s",
					ErrBudgetExceeded, elapsed.Round(time.Second), estimated.Round(time.Second))
			}
		}
	}
	return nil
}

// abort finalizes a pass without committing; the in-flight batch has already
// drained, so the partition is left cleanly resumable.
func (o *Orchestrator) abort(report FetchReport, outstanding []*FetchTask, cause error) (FetchReport, error) {
	report.Status = StatusAborted
	report.AbortReason = cause.Error()
	report.Outstanding = len(outstanding)
	o.logger.Warn("fetch pass aborted",
		zap.String("partition", report.Partition),
		zap.String("reason", report.AbortReason),
		zap.Int("outstanding", report.Outstanding),
		zap.Int("succeeded", report.Succeeded),
	)
	return report, cause
}

func (o *Orchestrator) pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Audit compares a partition's manifest against the store, counting every
// node kind, for the verify command.
func (o *Orchestrator) Audit(partition string) (AuditReport, error) {
	manifest, err := o.manifests.Load(partition)
	if err != nil {
		return AuditReport{}, err
	}
	report := AuditReport{Partition: partition, Total: len(manifest.Nodes)}
	for _, node := range manifest.Nodes {
		if o.store.Exists(node) {
			report.Present++
		} else {
			report.Missing = append(report.Missing, node)
		}
	}
	return report, nil
}
