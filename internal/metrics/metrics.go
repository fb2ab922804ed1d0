// Package metrics exposes the sync engine's Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the sync engine.
//
// All methods are safe on a nil *Metrics, so the engine can run without
// metrics configured.
type Metrics struct {
	registry *prometheus.Registry

	FlushesTotal        *prometheus.CounterVec // label: outcome
	FlushDuration       prometheus.Histogram
	EntriesSentTotal    prometheus.Counter
	DeletesSentTotal    prometheus.Counter
	DeletesDroppedTotal prometheus.Counter
	EntriesParkedTotal  prometheus.Counter
	WritesTotal         *prometheus.CounterVec // label: path (queued, pushed)
	PendingEntries      prometheus.Gauge
	Online              prometheus.Gauge
}

const namespace = "stowaway"

// New creates the metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		FlushesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "flushes_total",
			Help:      "Flush passes by outcome (success, failure, skipped, empty)",
		}, []string{"outcome"}),
		FlushDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "flush_duration_seconds",
			Help:      "Histogram of flush pass durations",
			Buckets:   prometheus.DefBuckets,
		}),
		EntriesSentTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "entries_sent_total",
			Help:      "Update entries accepted by the remote",
		}),
		DeletesSentTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "deletes_sent_total",
			Help:      "Delete entries accepted by the remote",
		}),
		DeletesDroppedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "deletes_dropped_total",
			Help:      "Delete entries cleared without transmission",
		}),
		EntriesParkedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "entries_parked_total",
			Help:      "Entries that exhausted their retries",
		}),
		WritesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "writes_total",
			Help:      "Local writes and removes by delivery path",
		}, []string{"path"}),
		PendingEntries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pending_entries",
			Help:      "Queue entries waiting to be sent",
		}),
		Online: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connectivity",
			Name:      "online",
			Help:      "1 if the remote is considered reachable",
		}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// FlushCompleted records the outcome of one flush pass.
func (m *Metrics) FlushCompleted(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.FlushesTotal.WithLabelValues(outcome).Inc()
	m.FlushDuration.Observe(d.Seconds())
}

// Sent records entries accepted by the remote.
func (m *Metrics) Sent(updates, deletes int) {
	if m == nil {
		return
	}
	m.EntriesSentTotal.Add(float64(updates))
	m.DeletesSentTotal.Add(float64(deletes))
}

// DeletesDropped records delete entries cleared without transmission.
func (m *Metrics) DeletesDropped(n int) {
	if m == nil {
		return
	}
	m.DeletesDroppedTotal.Add(float64(n))
}

// Parked records entries moved out of the retry loop.
func (m *Metrics) Parked(n int) {
	if m == nil {
		return
	}
	m.EntriesParkedTotal.Add(float64(n))
}

// Write records a local mutation and how it reached (or will reach) the remote.
func (m *Metrics) Write(path string) {
	if m == nil {
		return
	}
	m.WritesTotal.WithLabelValues(path).Inc()
}

// SetPending updates the pending gauge.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingEntries.Set(float64(n))
}

// SetOnline updates the online gauge.
func (m *Metrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.Online.Set(1)
	} else {
		m.Online.Set(0)
	}
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return ctx.Err()
	}
}
