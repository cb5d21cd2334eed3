// Package metrics exposes Prometheus gauges and counters for the bus
// queue depth, integrity triggers, and operating mode, plus the
// promhttp exporter.
//
// Grounded on the teacher's risk_state.go/feed_handler.go: package-level
// prometheus.NewGaugeVec/NewCounterVec declarations registered in init(),
// a Set/Inc call site near the event that changes them, and an
// http.Handle("/metrics", promhttp.Handler()) exporter goroutine.
package metrics

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vectra-player/core/internal/bus"
	"github.com/vectra-player/core/internal/feed"
	"github.com/vectra-player/core/internal/live"
)

var (
	busQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vectra_bus_queue_depth",
		Help: "Current number of buffered events awaiting dispatch on the event bus.",
	})

	busEventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vectra_bus_events_dropped_total",
		Help: "Total events dropped because the bus queue was full.",
	})

	busEventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vectra_bus_events_published_total",
		Help: "Total events published onto the event bus, by type.",
	}, []string{"event_type"})

	integrityTriggers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vectra_integrity_triggers_total",
		Help: "Total data integrity anomalies detected, by kind.",
	}, []string{"kind"})

	operatingMode = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vectra_operating_mode",
		Help: "1 for the currently active operating mode, 0 otherwise.",
	}, []string{"mode"})

	feedCounters = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vectra_feed_counters",
		Help: "Cumulative Feed Ingestor counters.",
	}, []string{"counter"})

	operatingModes = []string{"NORMAL", "DEGRADED", "MINIMAL", "OFFLINE"}
)

func init() {
	prometheus.MustRegister(
		busQueueDepth,
		busEventsDropped,
		busEventsPublished,
		integrityTriggers,
		operatingMode,
		feedCounters,
	)
}

// Handler returns the promhttp handler to mount at /metrics.
func Handler() http.Handler { return promhttp.Handler() }

// Serve starts a dedicated metrics HTTP server bound to addr and blocks
// until ctx is canceled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// lastDropped is the bus.Stats.Dropped value seen by the previous
// RecordBusStats call, so only new drops are added to the counter.
var lastDropped atomic.Uint64

// RecordBusStats copies an internal/bus.Stats snapshot onto the gauges.
func RecordBusStats(stats bus.Stats) {
	busQueueDepth.Set(float64(stats.QueueDepth))
	if prev := lastDropped.Swap(stats.Dropped); stats.Dropped > prev {
		busEventsDropped.Add(float64(stats.Dropped - prev))
	}
}

// RecordPublish increments the per-event-type publish counter. The host
// installs it with bus.Bus.SetPublishHook, so it runs on every
// successful Publish.
func RecordPublish(evtType bus.EventType) {
	busEventsPublished.WithLabelValues(string(evtType)).Inc()
}

// RecordIntegrityTrigger increments the integrity counter for kind (an
// integrity.TriggerKind: "TICK_GAP", "UNCLEAN_GAMES" or "CONNECTION_LOST").
func RecordIntegrityTrigger(kind string) {
	integrityTriggers.WithLabelValues(kind).Inc()
}

// RecordOperatingMode sets the single-active-mode gauge set.
func RecordOperatingMode(mode live.OperatingMode) {
	for _, m := range operatingModes {
		v := 0.0
		if m == string(mode) {
			v = 1.0
		}
		operatingMode.WithLabelValues(m).Set(v)
	}
}

// RecordFeedCounters copies an internal/feed.Counters snapshot onto
// labeled gauges so each counter is queryable individually.
func RecordFeedCounters(c feed.Counters) {
	feedCounters.WithLabelValues("total_signals").Set(float64(c.TotalSignals))
	feedCounters.WithLabelValues("ticks").Set(float64(c.Ticks))
	feedCounters.WithLabelValues("games").Set(float64(c.Games))
	feedCounters.WithLabelValues("rate_limited").Set(float64(c.RateLimited))
	feedCounters.WithLabelValues("latency_spikes").Set(float64(c.LatencySpikes))
	feedCounters.WithLabelValues("errors").Set(float64(c.Errors))
	feedCounters.WithLabelValues("phase_transitions").Set(float64(c.PhaseTransitions))
	feedCounters.WithLabelValues("anomalies").Set(float64(c.Anomalies))
}
