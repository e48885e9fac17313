// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	RunsStarted    prometheus.Counter
	RunsSucceeded  prometheus.Counter
	RunsFailed     prometheus.Counter
	TokenRefreshes prometheus.Counter
	RefreshFailures prometheus.Counter
	HelixRequests  prometheus.Counter
	HelixRetries   prometheus.Counter
	OBSCommands    prometheus.Counter

	// Histograms (seconds)
	RunDuration prometheus.Observer
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		RunsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "golive_runs_started_total", Help: "Number of go-live runs started"})
		RunsSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "golive_runs_succeeded_total", Help: "Number of go-live runs succeeded"})
		RunsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "golive_runs_failed_total", Help: "Number of go-live runs failed"})
		TokenRefreshes = promauto.NewCounter(prometheus.CounterOpts{Name: "golive_token_refreshes_total", Help: "Number of OAuth refresh-token exchanges performed"})
		RefreshFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "golive_token_refresh_failures_total", Help: "Number of OAuth refresh exchanges rejected by the provider"})
		HelixRequests = promauto.NewCounter(prometheus.CounterOpts{Name: "golive_helix_requests_total", Help: "Number of Helix API requests issued"})
		HelixRetries = promauto.NewCounter(prometheus.CounterOpts{Name: "golive_helix_retries_total", Help: "Number of single 401-triggered Helix retries"})
		OBSCommands = promauto.NewCounter(prometheus.CounterOpts{Name: "golive_obs_commands_total", Help: "Number of OBS WebSocket requests issued"})
		RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "golive_run_duration_seconds", Help: "Go-live run duration seconds", Buckets: prometheus.DefBuckets})
	})
}

// Inc increments a counter if metrics are initialized.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
