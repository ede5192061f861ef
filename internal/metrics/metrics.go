package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/FranksOps/keyhound/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyhound_pages_total",
			Help: "Total number of search pages requested",
		},
		[]string{"status", "reason"},
	)

	PageDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "keyhound_page_duration_seconds",
			Help:    "Duration of search page requests in seconds, excluding the pre-request delay",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	ItemsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "keyhound_items_total",
			Help: "Total number of search result items received",
		},
	)

	FindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyhound_findings_total",
			Help: "Total number of findings emitted",
		},
		[]string{"language", "new_container"},
	)

	EmptyPageStreak = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "keyhound_empty_page_streak",
			Help: "Number of consecutive pages that produced no items",
		},
	)

	RateLimitRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "keyhound_ratelimit_remaining",
			Help: "Last X-RateLimit-Remaining value reported by the search API",
		},
	)

	SaveFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "keyhound_save_failures_total",
			Help: "Total number of findings the storage backend failed to persist",
		},
	)

	ProxyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keyhound_proxy_failures_total",
			Help: "Total number of proxy failures during page requests",
		},
		[]string{"proxy_url"},
	)
)

// RecordPage updates the page metrics. status is the HTTP status code, or 0
// when the request never got a response.
func RecordPage(status int, reason string, items int, d time.Duration) {
	statusStr := "error"
	if status > 0 {
		statusStr = strconv.Itoa(status)
	}
	PagesTotal.WithLabelValues(statusStr, reason).Inc()
	PageDuration.Observe(d.Seconds())
	ItemsTotal.Add(float64(items))
}

// RecordFinding counts an emitted finding.
func RecordFinding(f *storage.Finding) {
	if f == nil {
		return
	}
	FindingsTotal.WithLabelValues(f.Language, strconv.FormatBool(f.NewContainer)).Inc()
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// Start begins listening on the specified port and exposes /metrics.
func Start(port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		// Suppress the error from intentional shutdown
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", srv.Addr, "err", err)
		}
	}()

	return &Server{srv: srv, logger: logger}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
