package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder collects engine metrics. A nil *Recorder is valid and records nothing.
type Recorder struct {
	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	refreshes   *prometheus.CounterVec
	detections  *prometheus.CounterVec
	transitions *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
	activeGauge prometheus.Gauge
	lastPrice   *prometheus.GaugeVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		jobRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_job_runs_total",
				Help: "Scheduled job executions by outcome",
			},
			[]string{"job", "outcome"},
		),
		jobDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentinel_job_duration_seconds",
				Help:    "Duration of scheduled jobs in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		),
		refreshes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_snapshot_refresh_total",
				Help: "Snapshot refreshes by outcome",
			},
			[]string{"outcome"},
		),
		detections: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_detections_total",
				Help: "Triggered detections by strategy",
			},
			[]string{"strategy"},
		),
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_opportunity_events_total",
				Help: "Opportunity lifecycle events by type and strategy",
			},
			[]string{"event", "strategy"},
		),
		deliveries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_deliveries_total",
				Help: "Notification deliveries by outcome",
			},
			[]string{"event", "outcome"},
		),
		activeGauge: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "sentinel_active_opportunities",
				Help: "Active opportunities seen by the last tracking tick",
			},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sentinel_last_price",
				Help: "Latest close per symbol",
			},
			[]string{"symbol"},
		),
	}
}

// RecordJob records one job execution.
func (r *Recorder) RecordJob(job string, took time.Duration, err error) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.jobRuns.WithLabelValues(job, outcome).Inc()
	r.jobDuration.WithLabelValues(job).Observe(took.Seconds())
}

// RecordSkippedJob records a run skipped because the previous one was still running.
func (r *Recorder) RecordSkippedJob(job string) {
	if r == nil {
		return
	}
	r.jobRuns.WithLabelValues(job, "skipped").Inc()
}

// RecordRefresh records a snapshot refresh and the latest close on success.
func (r *Recorder) RecordRefresh(symbol string, lastClose float64, err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.refreshes.WithLabelValues("error").Inc()
		return
	}
	r.refreshes.WithLabelValues("ok").Inc()
	r.lastPrice.WithLabelValues(symbol).Set(lastClose)
}

// RecordDetection records a triggered detection.
func (r *Recorder) RecordDetection(strategy string) {
	if r == nil {
		return
	}
	r.detections.WithLabelValues(strategy).Inc()
}

// RecordEvent records a lifecycle event.
func (r *Recorder) RecordEvent(event, strategy string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(event, strategy).Inc()
}

// RecordDelivery records the outcome of one tenant delivery.
func (r *Recorder) RecordDelivery(event, outcome string) {
	if r == nil {
		return
	}
	r.deliveries.WithLabelValues(event, outcome).Inc()
}

// SetActive sets the active opportunity gauge.
func (r *Recorder) SetActive(n int) {
	if r == nil {
		return
	}
	r.activeGauge.Set(float64(n))
}
