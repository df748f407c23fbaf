// Package metrics exposes Prometheus collectors for the bridge and an optional
// HTTP listener serving them.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns a private registry so tests and multiple bridges never collide.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	backendCalls    *prometheus.CounterVec
	backendDuration prometheus.Histogram
	sanitized       prometheus.Counter
	writeErrors     prometheus.Counter
}

// New creates a Recorder with all collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tbbridge_requests_total",
				Help: "Inbound front-protocol messages by dispatch route",
			},
			[]string{"route"},
		),
		backendCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tbbridge_backend_calls_total",
				Help: "Outbound back-end calls by outcome",
			},
			[]string{"outcome"},
		),
		backendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tbbridge_backend_call_duration_seconds",
				Help:    "Back-end call latency",
				Buckets: prometheus.DefBuckets,
			},
		),
		sanitized: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tbbridge_sanitized_responses_total",
				Help: "Back-end responses that only parsed after control-character repair",
			},
		),
		writeErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tbbridge_write_errors_total",
				Help: "Responses that could not be written to stdout",
			},
		),
	}
	r.registry.MustRegister(r.requests, r.backendCalls, r.backendDuration, r.sanitized, r.writeErrors)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveRequest counts one inbound message.
func (r *Recorder) ObserveRequest(route string) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(route).Inc()
}

// ObserveBackendCall records one outbound call.
func (r *Recorder) ObserveBackendCall(outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.backendCalls.WithLabelValues(outcome).Inc()
	r.backendDuration.Observe(d.Seconds())
}

// ObserveSanitized counts a response recovered by the sanitizer.
func (r *Recorder) ObserveSanitized() {
	if r == nil {
		return
	}
	r.sanitized.Inc()
}

// ObserveWriteError counts a failed stdout write.
func (r *Recorder) ObserveWriteError() {
	if r == nil {
		return
	}
	r.writeErrors.Inc()
}

// Handler serves /metrics and /healthz.
func (r *Recorder) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	if r != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	}
	return mux
}

// Serve runs an HTTP listener for h on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
