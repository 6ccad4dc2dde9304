// Package metrics exposes the orchestrator's Prometheus metrics: submission
// throughput by terminal status, active-runner occupancy, and the latency of
// each grading phase, plus an HTTP handler for /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autograder_submissions_total",
			Help: "Total number of submissions that reached a terminal status, by status",
		},
		[]string{"status"},
	)

	RunnersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "autograder_runners_active",
			Help: "Number of worker slots currently grading a submission",
		},
	)

	DispatchPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autograder_dispatch_polls_total",
			Help: "Total number of dispatcher poll attempts, by outcome (assigned, empty, error)",
		},
		[]string{"outcome"},
	)

	BuildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autograder_build_duration_seconds",
			Help:    "Duration of the containerized build phase, by outcome",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"outcome"},
	)

	TestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autograder_test_duration_seconds",
			Help:    "Duration of one executed test case, by outcome",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"outcome"},
	)

	GradingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "autograder_grading_duration_seconds",
			Help:    "Total wall-clock time from dispatch to published result for one submission",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
	)

	ShadowPublishFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autograder_shadow_publish_failures_total",
			Help: "Total number of submissions whose shadow-repository publish step failed",
		},
	)
)

func init() {
	prometheus.MustRegister(SubmissionsTotal)
	prometheus.MustRegister(RunnersActive)
	prometheus.MustRegister(DispatchPollsTotal)
	prometheus.MustRegister(BuildDuration)
	prometheus.MustRegister(TestDuration)
	prometheus.MustRegister(GradingDuration)
	prometheus.MustRegister(ShadowPublishFailuresTotal)
}

// Handler returns the Prometheus scrape handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation's duration for later recording to a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to one series of a vector.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
