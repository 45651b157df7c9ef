// Package probe checks whether previously resolved tile URLs still answer.
//
// A probe is a HEAD request against one sample tile of the URL template.
// Classification is deliberately asymmetric: an explicit not-found/denied
// response means the token expired, while a timeout or transport failure
// means we simply do not know yet and should try again next cycle.
package probe

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/canopywatch/alert-engine/internal/domain"
	"github.com/canopywatch/alert-engine/internal/observability"
)

// SampleTile addresses one concrete z/x/y tile substituted into a URL
// template for probing.
type SampleTile struct {
	Z, X, Y int
}

// Config holds prober settings.
type Config struct {
	Timeout       time.Duration // per-probe deadline
	MaxConcurrent int
	Sample        SampleTile
}

// Prober issues liveness checks against resolved tile URLs.
type Prober struct {
	httpClient *http.Client
	cfg        Config
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// New creates a Prober. Probes are read-only and idempotent against the
// provider, so callers may run them concurrently across refs.
func New(cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Prober {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	return &Prober{
		// The client timeout is deliberately unset: each probe carries its
		// own context deadline so one slow URL cannot stall the batch.
		httpClient: &http.Client{},
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
	}
}

// Probe checks one URL template. Never returns an error: a failed probe is
// an unknown, not a failure of the check cycle.
func (p *Prober) Probe(ctx context.Context, urlTemplate string) domain.Liveness {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	liveness := p.classify(ctx, SampleTileURL(urlTemplate, p.cfg.Sample))
	p.metrics.ProbeDuration.Observe(time.Since(start).Seconds())
	p.metrics.ProbeResults.WithLabelValues(string(liveness)).Inc()
	return liveness
}

func (p *Prober) classify(ctx context.Context, url string) domain.Liveness {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		p.logger.Warn("invalid probe url", "url", url, "error", err)
		return domain.LivenessUnknown
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		// Timeout or transport failure: retry next cycle.
		return domain.LivenessUnknown
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return domain.LivenessLive
	case resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusGone,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		// The provider explicitly rejected the URL: the token is gone.
		return domain.LivenessExpired
	default:
		// Provider hiccup (5xx, rate limit): not evidence of expiry.
		return domain.LivenessUnknown
	}
}

// ProbeAll probes a set of URLs concurrently, keyed by ref id. Probes are
// independent; a slow or failing one only affects its own entry. The result
// map is complete once ProbeAll returns.
func (p *Prober) ProbeAll(ctx context.Context, urls map[string]string) map[string]domain.Liveness {
	results := make(map[string]domain.Liveness, len(urls))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	sem := make(chan struct{}, p.cfg.MaxConcurrent)

	for refID, url := range urls {
		wg.Add(1)
		go func(refID, url string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			liveness := p.Probe(ctx, url)
			mu.Lock()
			results[refID] = liveness
			mu.Unlock()
		}(refID, url)
	}
	wg.Wait()
	return results
}

// SampleTileURL substitutes the {z}/{x}/{y} placeholders of a tile URL
// template with a concrete sample tile. Templates without placeholders
// (static resources) are returned unchanged.
func SampleTileURL(template string, s SampleTile) string {
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(s.Z),
		"{x}", strconv.Itoa(s.X),
		"{y}", strconv.Itoa(s.Y),
	)
	return r.Replace(template)
}
