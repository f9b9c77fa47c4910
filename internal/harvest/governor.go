package harvest

import (
	"time"

	"go.uber.org/zap"
)

// GovernorConfig holds the operational knobs for adaptive pacing.
type GovernorConfig struct {
	Floor           int
	Ceiling         int
	Step            int
	PacingInitial   time.Duration
	PacingMax       time.Duration
	PacingDecrement time.Duration
	PacingSmall     time.Duration
	PacingMedium    time.Duration
	PacingLarge     time.Duration
}

// DefaultGovernorConfig returns the stock pacing policy.
func DefaultGovernorConfig() GovernorConfig {
	return GovernorConfig{
		Floor:           2,
		Ceiling:         16,
		Step:            2,
		PacingInitial:   0,
		PacingMax:       60 * time.Second,
		PacingDecrement: 1 * time.Second,
		PacingSmall:     2 * time.Second,
		PacingMedium:    5 * time.Second,
		PacingLarge:     15 * time.Second,
	}
}

// ConcurrencyState is the Governor's view of safe parallelism. LastLimited is
// the most recent concurrency level that triggered rate limiting; the
// Governor never knowingly returns to it.
type ConcurrencyState struct {
	Current     int
	Floor       int
	Ceiling     int
	Step        int
	Pacing      time.Duration
	LastLimited int
}

// Governor owns the adaptive parallelism policy. It is driven once per
// completed batch, synchronously, never concurrently with an in-flight
// batch, so no locking is required. State is scoped to one crawl session;
// parallel sessions each carry their own Governor.
//
// The policy is a congestion-control analog: additive climb, unconditional
// drop to the last known-safe level on any rate-limit signal. One more
// rate-limit event costs far more than slightly under-using capacity.
type Governor struct {
	cfg    GovernorConfig
	state  ConcurrencyState
	logger *zap.Logger
}

// NewGovernor builds a Governor starting at the configured floor.
func NewGovernor(cfg GovernorConfig, logger *zap.Logger) *Governor {
	if cfg.Floor < 1 {
		cfg.Floor = 1
	}
	if cfg.Ceiling < cfg.Floor {
		cfg.Ceiling = cfg.Floor
	}
	if cfg.Step < 1 {
		cfg.Step = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Governor{
		cfg: cfg,
		state: ConcurrencyState{
			Current: cfg.Floor,
			Floor:   cfg.Floor,
			Ceiling: cfg.Ceiling,
			Step:    cfg.Step,
			Pacing:  cfg.PacingInitial,
		},
		logger: logger,
	}
}

// BatchSize returns the concurrency level for the next batch.
func (g *Governor) BatchSize() int {
	return g.state.Current
}

// Pacing returns the delay to observe before the next batch.
func (g *Governor) Pacing() time.Duration {
	return g.state.Pacing
}

// Snapshot returns a copy of the current state.
func (g *Governor) Snapshot() ConcurrencyState {
	return g.state
}

// Observe feeds one completed batch's outcome mix into the policy.
// batchSize is the number of tasks submitted; rateLimited the number of
// RateLimited outcomes among them.
func (g *Governor) Observe(batchSize, rateLimited int) {
	if batchSize <= 0 {
		return
	}
	if rateLimited > 0 {
		g.observeLimited(batchSize, rateLimited)
	} else {
		g.observeClean(batchSize)
	}
	metricBatchConcurrency.Set(float64(g.state.Current))
	metricPacingSeconds.Set(g.state.Pacing.Seconds())
}

func (g *Governor) observeLimited(batchSize, rateLimited int) {
	g.state.LastLimited = batchSize
	safeCap := g.safeCap()
	if g.state.Floor > safeCap {
		g.state.Floor = safeCap
	}
	previous := g.state.Current
	g.state.Current = g.state.Floor

	fraction := float64(rateLimited) / float64(batchSize)
	var bump time.Duration
	switch {
	case fraction <= 0.25:
		bump = g.cfg.PacingSmall
	case fraction <= 0.5:
		bump = g.cfg.PacingMedium
	default:
		bump = g.cfg.PacingLarge
	}
	g.state.Pacing += bump
	if g.state.Pacing > g.cfg.PacingMax {
		g.state.Pacing = g.cfg.PacingMax
	}

	g.logger.Warn("batch rate limited, dropping to floor",
		zap.Int("batch_size", batchSize),
		zap.Int("rate_limited", rateLimited),
		zap.Int("previous", previous),
		zap.Int("current", g.state.Current),
		zap.Duration("pacing", g.state.Pacing),
	)
}

func (g *Governor) observeClean(batchSize int) {
	// A clean batch proves the level that was actually in flight safe; the
	// floor learns it, capped so we never re-learn a level that previously
	// triggered limiting. The short final batch of a pass proves only its
	// own size, not the current level.
	proven := batchSize
	if limit := g.safeCap(); proven > limit {
		proven = limit
	}
	if proven > g.state.Floor {
		g.state.Floor = proven
		g.logger.Info("raised concurrency floor", zap.Int("floor", g.state.Floor))
	}

	next := g.state.Current + g.state.Step
	if next > g.state.Ceiling {
		next = g.state.Ceiling
	}
	if limit := g.safeCap(); next > limit {
		next = limit
	}
	g.state.Current = next

	// Decay, never an instant reset; a single clean batch is not proof the
	// remote has relaxed.
	g.state.Pacing -= g.cfg.PacingDecrement
	if g.state.Pacing < 0 {
		g.state.Pacing = 0
	}
}

// safeCap is the highest level the Governor may occupy given the last
// limiting event, never below 1.
func (g *Governor) safeCap() int {
	if g.state.LastLimited == 0 {
		return g.state.Ceiling
	}
	limit := g.state.LastLimited - g.state.Step
	if limit < 1 {
		limit = 1
	}
	return limit
}
