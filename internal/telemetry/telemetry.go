// Package telemetry exposes trial-dispatch counters as Prometheus
// metrics. Grounded on the example pack's prometheus.NewCounterVec /
// MustRegister idiom (chidi150c-coinbase/metrics.go), adapted from a
// package-level default-registry init() to an explicit
// *prometheus.Registry instance so a run without --metrics-addr never
// touches the global registry.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Recorder tracks trial dispatch outcomes for one run.
type Recorder struct {
	registry      *prometheus.Registry
	trialsTotal   prometheus.Counter
	trialsFailed  prometheus.Counter
	trialDuration prometheus.Histogram
}

// New constructs a Recorder with its own registry, never the package
// default, so multiple runs in one process (as in tests) never
// collide on metric registration.
func New() *Recorder {
	registry := prometheus.NewRegistry()

	r := &Recorder{
		registry: registry,
		trialsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trials_total",
			Help: "Total number of trials dispatched.",
		}),
		trialsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trials_failed_total",
			Help: "Total number of trials that returned an error.",
		}),
		trialDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trial_duration_seconds",
			Help:    "Wall-clock duration of one trial's Run call.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	registry.MustRegister(r.trialsTotal, r.trialsFailed, r.trialDuration)
	return r
}

// Observe records one completed trial's outcome and duration.
func (r *Recorder) Observe(duration time.Duration, err error) {
	r.trialsTotal.Inc()
	if err != nil {
		r.trialsFailed.Inc()
	}
	r.trialDuration.Observe(duration.Seconds())
}

// Serve starts a bare introspection endpoint at addr, serving the
// registry at /metrics. It blocks until ctx is cancelled (then shuts the
// server down and returns nil) or the server fails (then returns that
// error); a shutdown error is logged, not returned.
func (r *Recorder) Serve(ctx context.Context, logger *zap.Logger, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && logger != nil {
			logger.Warn("telemetry server shutdown error", zap.Error(err))
		}
		return nil
	}
}
