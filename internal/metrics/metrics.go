// Package metrics exposes Prometheus counters and gauges for verification,
// repair, subscription probing and collection usage.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lockss-go/internal/lockss"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	filesVerified   *prometheus.CounterVec
	mismatches      *prometheus.CounterVec
	repairsEnqueued *prometheus.CounterVec
	runBytes        prometheus.Counter
	runOverruns     prometheus.Counter
	probes          *prometheus.CounterVec
	collectionUsage *prometheus.GaugeVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		filesVerified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lockss_files_verified_total",
			Help: "Versions whose content was re-hashed, by result",
		}, []string{"result"}),
		mismatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lockss_checksum_mismatches_total",
			Help: "Checksum mismatches detected, by archival unit",
		}, []string{"au"}),
		repairsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lockss_repair_polls_enqueued_total",
			Help: "Repair poll requests, by outcome",
		}, []string{"outcome"}),
		runBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lockss_hash_bytes_total",
			Help: "Bytes hashed by scheduled verification runs",
		}),
		runOverruns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lockss_hash_run_overruns_total",
			Help: "Scheduled verification runs that finished after their deadline",
		}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lockss_subscription_probes_total",
			Help: "Subscription probe outcomes, by resulting status",
		}, []string{"status"}),
		collectionUsage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lockss_collection_percent_used",
			Help: "Percent of storage used, by collection",
		}, []string{"collection"}),
	}
	m.registry.MustRegister(
		m.filesVerified,
		m.mismatches,
		m.repairsEnqueued,
		m.runBytes,
		m.runOverruns,
		m.probes,
		m.collectionUsage,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// FileVerified counts one re-hashed version.
func (m *Metrics) FileVerified(auID string, match bool) {
	if match {
		m.filesVerified.WithLabelValues("match").Inc()
		return
	}
	m.filesVerified.WithLabelValues("mismatch").Inc()
	m.mismatches.WithLabelValues(auID).Inc()
}

// RepairEnqueued counts a repair poll request and whether it was accepted.
func (m *Metrics) RepairEnqueued(auID string, err error) {
	outcome := "accepted"
	switch {
	case errors.Is(err, lockss.ErrQueueFull):
		outcome = "queue_full"
	case err != nil:
		outcome = "failed"
	}
	m.repairsEnqueued.WithLabelValues(outcome).Inc()
}

// RunFinished records a completed scheduled verification run.
func (m *Metrics) RunFinished(auID string, bytes int64, overrun bool) {
	m.runBytes.Add(float64(bytes))
	if overrun {
		m.runOverruns.Inc()
	}
}

// ProbeFinished records the subscription status a probe left behind.
func (m *Metrics) ProbeFinished(auID string, status lockss.SubscriptionStatus) {
	m.probes.WithLabelValues(status.String()).Inc()
}

// SetCollectionUsage records a collection's percent used.
func (m *Metrics) SetCollectionUsage(collection string, percent float64) {
	m.collectionUsage.WithLabelValues(collection).Set(percent)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs a /metrics endpoint on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
