/*
Package metrics provides Prometheus metrics collection and exposition for the
autograder.

It defines and registers every orchestrator metric using the Prometheus
client library, giving observability into submission throughput, worker
occupancy, and the latency of each grading phase. Metrics are exposed via an
HTTP handler for scraping by a Prometheus server.

# Metrics

	autograder_submissions_total{status}        Counter. Submissions that reached a terminal
	                                             status, labeled by that status code.
	autograder_runners_active                   Gauge. Worker slots currently grading a
	                                             submission.
	autograder_dispatch_polls_total{outcome}     Counter. Dispatcher poll attempts, labeled
	                                             "assigned", "empty", or "error".
	autograder_build_duration_seconds{outcome}   Histogram. Containerized build phase duration,
	                                             labeled by build outcome.
	autograder_test_duration_seconds{outcome}    Histogram. One executed test case's duration,
	                                             labeled by test outcome.
	autograder_grading_duration_seconds          Histogram. Wall-clock time from dispatch to
	                                             published result for one submission.
	autograder_shadow_publish_failures_total     Counter. Submissions whose shadow-repository
	                                             publish step failed.

Every metric is registered against the default Prometheus registry at
package init, alongside the Go runtime collectors Prometheus registers
automatically.

# Usage

Call sites time an operation with NewTimer, run it, then record the elapsed
duration against the metric once the outcome is known:

	timer := metrics.NewTimer()
	result := runBuildCommandTimed(ctx, tag)
	timer.ObserveDurationVec(metrics.BuildDuration, string(result.Outcome))

Handler returns the scrape endpoint, normally mounted at /metrics by the
process supervisor's diagnostic listener.
*/
package metrics
