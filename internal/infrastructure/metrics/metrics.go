package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/741g/vperfetto/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "vperfetto"

// Metrics holds every Prometheus collector of the host and guest processes.
type Metrics struct {
	// Guest clock sync
	ClockSyncTicksTotal prometheus.Counter
	ReportsTotal        *prometheus.CounterVec
	ReportErrorsTotal   *prometheus.CounterVec
	GuestSamplesTotal   *prometheus.CounterVec

	// Host tracer and saves
	TracingTransitionsTotal *prometheus.CounterVec
	TracingEnabled          prometheus.Gauge
	PacketsWritten          prometheus.Histogram
	SavesTotal              *prometheus.CounterVec

	// Merges
	MergesTotal          *prometheus.CounterVec
	MergeErrorsTotal     prometheus.Counter
	MergeDurationSeconds prometheus.Histogram

	// Notifications
	NotifyPublishesTotal  *prometheus.CounterVec
	NotifyErrorsTotal     *prometheus.CounterVec
	NotifyDurationSeconds prometheus.Histogram

	registry *prometheus.Registry
	pusher   *push.Pusher
}

// NewMetrics registers every collector on a private registry. A push gateway
// is used only when both pushgatewayURL and jobName are set.
func NewMetrics(pushgatewayURL, jobName string) *Metrics {
	m := &Metrics{
		ClockSyncTicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clock_sync_ticks_total",
			Help:      "Total number of guest_clock_sync slices emitted",
		}),
		ReportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guest_time_reports_total",
			Help:      "Total number of guest clock samples sent to the host",
		}, []string{"reporter"}),
		ReportErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guest_time_report_errors_total",
			Help:      "Total number of failed guest clock sample reports",
		}, []string{"reporter"}),
		GuestSamplesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guest_samples_received_total",
			Help:      "Guest clock samples received by the host, by outcome",
		}, []string{"outcome"}),

		TracingTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracing_transitions_total",
			Help:      "Tracing enable and disable transitions",
		}, []string{"state"}),
		TracingEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracing_enabled",
			Help:      "1 while host tracing is enabled",
		}),
		PacketsWritten: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trace_packets_written",
			Help:      "Packets written per host tracing session",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 10),
		}),
		SavesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trace_saves_total",
			Help:      "Host trace saves by outcome",
		}, []string{"outcome"}),

		MergesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merges_total",
			Help:      "Combined traces written, by time diff mode",
		}, []string{"mode"}),
		MergeErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_errors_total",
			Help:      "Total number of failed merges",
		}),
		MergeDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "merge_duration_seconds",
			Help:      "Duration of guest and host trace merges in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}),

		NotifyPublishesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_publishes_total",
			Help:      "Successful foreground notification posts",
		}, []string{"poster"}),
		NotifyErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_errors_total",
			Help:      "Failed foreground notification post attempts",
		}, []string{"poster"}),
		NotifyDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notify_duration_seconds",
			Help:      "Duration of notification post attempts in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10},
		}),
	}

	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(
		m.ClockSyncTicksTotal,
		m.ReportsTotal,
		m.ReportErrorsTotal,
		m.GuestSamplesTotal,
		m.TracingTransitionsTotal,
		m.TracingEnabled,
		m.PacketsWritten,
		m.SavesTotal,
		m.MergesTotal,
		m.MergeErrorsTotal,
		m.MergeDurationSeconds,
		m.NotifyPublishesTotal,
		m.NotifyErrorsTotal,
		m.NotifyDurationSeconds,
	)

	if pushgatewayURL != "" && jobName != "" {
		m.pusher = push.New(pushgatewayURL, jobName).Gatherer(m.registry)
	}
	return m
}

// FromConfig builds Metrics from cfg, grouping pushes by host name.
func FromConfig(cfg config.Metrics) *Metrics {
	if cfg.PushgatewayURL == "" {
		return NewMetrics("", "")
	}
	m := NewMetrics(cfg.PushgatewayURL, cfg.JobName)
	if m.pusher == nil {
		return m
	}
	if host, _ := os.Hostname(); host != "" {
		m.pusher = m.pusher.Grouping("instance", host)
	}
	slog.Info("metrics push enabled", "url", cfg.PushgatewayURL, "job", cfg.JobName)
	return m
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordClockSync() {
	if m == nil {
		return
	}
	m.ClockSyncTicksTotal.Inc()
}

func (m *Metrics) RecordReport(reporter string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ReportErrorsTotal.WithLabelValues(reporter).Inc()
		return
	}
	m.ReportsTotal.WithLabelValues(reporter).Inc()
}

// RecordGuestSample counts a sample received by the host. Outcome is
// "applied" or "ignored".
func (m *Metrics) RecordGuestSample(outcome string) {
	if m == nil {
		return
	}
	m.GuestSamplesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordTracing(state string) {
	if m == nil {
		return
	}
	m.TracingTransitionsTotal.WithLabelValues(state).Inc()
	if state == "enabled" {
		m.TracingEnabled.Set(1)
	} else {
		m.TracingEnabled.Set(0)
	}
}

func (m *Metrics) RecordPackets(n uint64) {
	if m == nil {
		return
	}
	m.PacketsWritten.Observe(float64(n))
}

func (m *Metrics) RecordSave(outcome string) {
	if m == nil {
		return
	}
	m.SavesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordMerge(mode string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.MergeDurationSeconds.Observe(d.Seconds())
	if err != nil {
		m.MergeErrorsTotal.Inc()
		return
	}
	m.MergesTotal.WithLabelValues(mode).Inc()
}

func (m *Metrics) RecordNotify(poster string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.NotifyDurationSeconds.Observe(d.Seconds())
	if err != nil {
		m.NotifyErrorsTotal.WithLabelValues(poster).Inc()
		return
	}
	m.NotifyPublishesTotal.WithLabelValues(poster).Inc()
}

// Push sends every metric to the Pushgateway. It is a no-op without one.
func (m *Metrics) Push(ctx context.Context) error {
	if m == nil || m.pusher == nil {
		return nil
	}
	if err := m.pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

// PushEvery pushes on every interval until ctx ends, then pushes once more.
func (m *Metrics) PushEvery(ctx context.Context, interval time.Duration) {
	if m == nil || m.pusher == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := m.Push(final); err != nil {
				slog.Warn("final metrics push failed", "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := m.Push(ctx); err != nil {
				slog.Warn("metrics push failed", "error", err)
			}
		}
	}
}
