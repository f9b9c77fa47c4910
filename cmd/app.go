package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/turfarchive/zeturf-harvester/internal/api"
	gitcommitter "github.com/turfarchive/zeturf-harvester/internal/committer/git"
	"github.com/turfarchive/zeturf-harvester/internal/clock/system"
	"github.com/turfarchive/zeturf-harvester/internal/config"
	collytransport "github.com/turfarchive/zeturf-harvester/internal/fetch/colly"
	"github.com/turfarchive/zeturf-harvester/internal/harvest"
	"github.com/turfarchive/zeturf-harvester/internal/logging"
	"github.com/turfarchive/zeturf-harvester/internal/parser/zeturf"
	"github.com/turfarchive/zeturf-harvester/internal/publish/pubsub"
	fsstore "github.com/turfarchive/zeturf-harvester/internal/store/fs"
	gcsstore "github.com/turfarchive/zeturf-harvester/internal/store/gcs"
)

// app holds the wired pipeline for one CLI invocation.
type app struct {
	cfg          config.Config
	logger       *zap.Logger
	sessionID    string
	site         *zeturf.Site
	store        *fsstore.Store
	manifests    *harvest.ManifestStore
	orchestrator *harvest.Orchestrator
	committer    harvest.Committer
	publisher    harvest.Publisher
	server       *api.Server

	closers []func()
}

// newApp loads config and wires every component the commands need.
func newApp(ctx context.Context, cfgFile string) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		sessionID: uuid.NewString(),
	}

	a.site, err = zeturf.New(zeturf.Config{
		BaseURL:   cfg.Source.BaseURL,
		StartDate: cfg.Harvest.StartDate,
		EndDate:   cfg.Harvest.EndDate,
	})
	if err != nil {
		return nil, fmt.Errorf("init site: %w", err)
	}

	a.store, err = fsstore.New(fsstore.Config{
		BaseDir:      cfg.Harvest.RootDir,
		MinLeafBytes: cfg.Harvest.MinLeafBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	manifestDir := cfg.Harvest.ManifestDir
	if !filepath.IsAbs(manifestDir) {
		manifestDir = filepath.Join(cfg.Harvest.RootDir, manifestDir)
	}
	a.manifests, err = harvest.NewManifestStore(manifestDir)
	if err != nil {
		return nil, fmt.Errorf("init manifest store: %w", err)
	}

	transport := collytransport.New(collytransport.Config{
		UserAgent:      cfg.Source.UserAgent,
		AcceptLanguage: cfg.Source.AcceptLanguage,
		Timeout:        time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
	})
	executor := harvest.NewExecutor(transport, harvest.ExecutorConfig{
		MaxAttempts: cfg.Fetch.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Fetch.BackoffInitialMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Fetch.BackoffMaxMs) * time.Millisecond,
	}, logger)

	governor := harvest.NewGovernor(harvest.GovernorConfig{
		Floor:           cfg.Fetch.Floor,
		Ceiling:         cfg.Fetch.Ceiling,
		Step:            cfg.Fetch.Step,
		PacingMax:       time.Duration(cfg.Fetch.PacingMaxSec) * time.Second,
		PacingDecrement: time.Duration(cfg.Fetch.PacingDecaySec) * time.Second,
		PacingSmall:     time.Duration(cfg.Fetch.PacingSmallSec) * time.Second,
		PacingMedium:    time.Duration(cfg.Fetch.PacingMediumSec) * time.Second,
		PacingLarge:     time.Duration(cfg.Fetch.PacingLargeSec) * time.Second,
	}, logger)

	var replica harvest.Replica
	if cfg.Replica.Bucket != "" {
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		replica, err = gcsstore.New(client, gcsstore.Config{
			Bucket: cfg.Replica.Bucket,
			Prefix: cfg.Replica.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("init replica: %w", err)
		}
	}

	a.orchestrator = harvest.NewOrchestrator(
		harvest.OrchestratorConfig{
			DiscoveryConcurrency: cfg.Discovery.Concurrency,
			DiscoveryRPS:         cfg.Discovery.RPS,
			DiskCriticalBytes:    cfg.Disk.CriticalFreeBytes,
			WallClockBudget:      cfg.WallClockBudget(),
			BudgetSafetyMargin:   cfg.SafetyMargin(),
		},
		a.site,
		a.site,
		executor,
		a.store,
		a.manifests,
		governor,
		replica,
		system.New(),
		a.sessionID,
		logger,
	)

	if cfg.Git.Enabled {
		a.committer, err = gitcommitter.New(gitcommitter.Config{
			WorkDir:    cfg.Harvest.RootDir,
			AuthorName: cfg.Git.AuthorName,
			AuthorMail: cfg.Git.AuthorMail,
			Push:       cfg.Git.Push,
		}, nil, logger)
		if err != nil {
			return nil, fmt.Errorf("init committer: %w", err)
		}
	}

	if cfg.PubSub.TopicName != "" {
		client, err := gpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.publisher = pubsub.New(client)
	}

	if cfg.Server.Addr != "" {
		a.server = api.NewServer(cfg.Server.Addr, a.orchestrator, logger)
	}

	return a, nil
}

// partitions resolves the partition keys to operate on: explicit args or
// every year in the configured range.
func (a *app) partitions(args []string) []string {
	if len(args) > 0 {
		return args
	}
	return a.site.Partitions()
}

func (a *app) close() {
	for _, closeFn := range a.closers {
		closeFn()
	}
	_ = a.logger.Sync()
}
