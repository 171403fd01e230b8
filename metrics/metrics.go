// Package metrics exposes submission, validation and recording counters in
// Prometheus format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Registry *prometheus.Registry

	Submissions        *prometheus.CounterVec
	SubmissionDuration *prometheus.HistogramVec
	Rejections         *prometheus.CounterVec
	Recordings         prometheus.Counter
	RecordingSeconds   prometheus.Histogram
	ActiveRecordings   prometheus.Gauge
}

// New registers every collector on a fresh registry along with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speakscore_submissions_total",
			Help: "Finished prediction submissions by flow and outcome",
		}, []string{"flow", "outcome"}),
		SubmissionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "speakscore_submission_duration_seconds",
			Help:    "Time from submit to response",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		}, []string{"flow"}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speakscore_validation_rejections_total",
			Help: "Audio files rejected before upload",
		}, []string{"reason"}),
		Recordings: f.NewCounter(prometheus.CounterOpts{
			Name: "speakscore_recordings_total",
			Help: "Recordings started",
		}),
		RecordingSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "speakscore_recording_seconds",
			Help:    "Elapsed recording time at stop",
			Buckets: prometheus.ExponentialBuckets(1, 2, 9), // 1s to ~4 minutes
		}),
		ActiveRecordings: f.NewGauge(prometheus.GaugeOpts{
			Name: "speakscore_recording_active",
			Help: "1 while a recording is in progress",
		}),
	}
}

func (m *Metrics) SubmissionFinished(flow, outcome string, d time.Duration) {
	m.Submissions.WithLabelValues(flow, outcome).Inc()
	m.SubmissionDuration.WithLabelValues(flow).Observe(d.Seconds())
}

func (m *Metrics) ValidationRejected(reason string) {
	m.Rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordingStarted() {
	m.Recordings.Inc()
	m.ActiveRecordings.Set(1)
}

func (m *Metrics) RecordingStopped(seconds float64) {
	m.ActiveRecordings.Set(0)
	m.RecordingSeconds.Observe(seconds)
}
