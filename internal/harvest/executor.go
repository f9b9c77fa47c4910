package harvest

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// ExecutorConfig controls transport-level retry behavior.
type ExecutorConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultExecutorConfig returns sane retry defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Executor performs one network retrieval with bounded retries and exposes a
// classified Outcome. Transport-level failures are retried here with jittered
// backoff; rate-limit responses are never retried locally so the Governor can
// react at the batch level instead.
type Executor struct {
	transport Transport
	cfg       ExecutorConfig
	logger    *zap.Logger
}

// NewExecutor builds an Executor around a Transport.
func NewExecutor(transport Transport, cfg ExecutorConfig, logger *zap.Logger) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 250 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{transport: transport, cfg: cfg, logger: logger}
}

// Fetch retrieves url and classifies the result. It persists nothing; storage
// is the orchestrator's responsibility.
func (e *Executor) Fetch(ctx context.Context, url string) Outcome {
	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, e.backoff(attempt)); err != nil {
				return Outcome{Kind: OutcomeTransient, Reason: err.Error()}
			}
		}

		metricRequests.Inc()
		result, err := e.transport.Get(ctx, url)
		if err != nil {
			metricRequestErrors.Inc()
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return Outcome{Kind: OutcomeTransient, Reason: err.Error()}
			}
			lastErr = err
			e.logger.Debug("transport error, retrying",
				zap.String("url", url),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}
		return e.classify(url, result)
	}
	reason := "transport retries exhausted"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	return Outcome{Kind: OutcomeTransient, Reason: reason}
}

func (e *Executor) classify(url string, result TransportResult) Outcome {
	switch {
	case result.StatusCode >= 200 && result.StatusCode < 300:
		return Outcome{Kind: OutcomeSuccess, StatusCode: result.StatusCode, Body: result.Body}
	case result.StatusCode == http.StatusTooManyRequests:
		metricRateLimitHits.Inc()
		e.logger.Warn("rate limited", zap.String("url", url))
		return Outcome{
			Kind:       OutcomeRateLimited,
			StatusCode: result.StatusCode,
			RetryAfter: retryAfterHint(result),
			Reason:     "HTTP 429",
		}
	case result.StatusCode == http.StatusUnauthorized,
		result.StatusCode == http.StatusForbidden,
		result.StatusCode == http.StatusNotFound,
		result.StatusCode == http.StatusGone:
		return Outcome{
			Kind:       OutcomePermanent,
			StatusCode: result.StatusCode,
			Reason:     "HTTP " + strconv.Itoa(result.StatusCode),
		}
	default:
		metricRequestErrors.Inc()
		return Outcome{
			Kind:       OutcomeTransient,
			StatusCode: result.StatusCode,
			Reason:     "HTTP " + strconv.Itoa(result.StatusCode),
		}
	}
}

func retryAfterHint(result TransportResult) time.Duration {
	if result.Headers == nil {
		return 0
	}
	raw := result.Headers.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func (e *Executor) backoff(attempt int) time.Duration {
	delay := float64(e.cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(e.cfg.MaxDelay) {
		delay = float64(e.cfg.MaxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
