// Package collytransport implements the harvest Transport using gocolly.
package collytransport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/turfarchive/zeturf-harvester/internal/harvest"
)

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	AcceptLanguage string
	Timeout        time.Duration
}

// Transport performs single HTTP retrievals with a cloned Colly collector
// per request. It carries no retry or classification logic; that belongs to
// the executor.
type Transport struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Transport with a pooled HTTP transport.
func New(cfg Config) *Transport {
	// colly v2.1.0's Async option ignores its argument and always enables
	// async mode, so a synchronous collector must rely on the false default.
	c := colly.NewCollector()
	c.WithTransport(newHTTPTransport())
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Transport{cfg: cfg, baseCollector: c}
}

// Get executes a single HTTP GET. HTTP-level failures, including 429 and
// 404, come back in the result with a nil error; only transport-level
// failures return an error.
func (t *Transport) Get(ctx context.Context, url string) (harvest.TransportResult, error) {
	collector := t.baseCollector.Clone()
	if t.cfg.UserAgent != "" {
		collector.UserAgent = t.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	// Re-fetching a URL is routine here: truncated pages are re-requested on
	// a later pass and clones share the visited-URL store.
	collector.AllowURLRevisit = true
	collector.SetRequestTimeout(t.cfg.Timeout)

	var (
		result   harvest.TransportResult
		fetchErr error
		start    = time.Now()
	)
	collector.OnRequest(func(r *colly.Request) {
		if t.cfg.AcceptLanguage != "" {
			r.Headers.Set("Accept-Language", t.cfg.AcceptLanguage)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		result = resultOf(r, start)
	})
	collector.OnError(func(r *colly.Response, err error) {
		// Colly reports non-2xx statuses through OnError; those are still
		// HTTP responses, not transport failures.
		if r != nil && r.StatusCode != 0 {
			result = resultOf(r, start)
			return
		}
		fetchErr = err
	})

	visitErr := t.runCollector(ctx, collector, url)
	if ctx.Err() != nil {
		// The visit goroutine may still be running; do not touch result.
		if visitErr == nil {
			visitErr = fmt.Errorf("fetch canceled: %w", ctx.Err())
		}
		return harvest.TransportResult{}, visitErr
	}
	// Any HTTP response, success or failure status, wins over the Visit
	// error colly raises for non-2xx codes.
	if result.StatusCode != 0 {
		return result, nil
	}
	if fetchErr != nil {
		return harvest.TransportResult{}, fmt.Errorf("fetch %s: %w", url, fetchErr)
	}
	if visitErr != nil {
		return harvest.TransportResult{}, visitErr
	}
	return harvest.TransportResult{}, fmt.Errorf("fetch %s: no response received", url)
}

func (t *Transport) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit %s: %w", url, err)
		}
		return nil
	}
}

func resultOf(r *colly.Response, start time.Time) harvest.TransportResult {
	headers := http.Header{}
	if r.Headers != nil {
		headers = *r.Headers
	}
	return harvest.TransportResult{
		StatusCode: r.StatusCode,
		Headers:    headers,
		Body:       r.Body,
		Duration:   time.Since(start),
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
