// Package worker implements the worker supervisor (component C8): orphan
// recovery on start-up, dispatcher polling (woken early by the notification
// bus), driving one active grader to completion via non-blocking Step calls,
// and publishing results on completion. The main loop's two branches — idle
// poll-or-wait, and active-grader step-driving — are mutually exclusive, so
// one worker process runs at most one Runner at a time.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kth-id2202/autograder/pkg/config"
	"github.com/kth-id2202/autograder/pkg/container"
	"github.com/kth-id2202/autograder/pkg/grader"
	graderlog "github.com/kth-id2202/autograder/pkg/log"
	"github.com/kth-id2202/autograder/pkg/metrics"
	"github.com/kth-id2202/autograder/pkg/notifier"
	"github.com/kth-id2202/autograder/pkg/notify"
	"github.com/kth-id2202/autograder/pkg/store"
	"github.com/kth-id2202/autograder/pkg/testconfig"
	"github.com/kth-id2202/autograder/pkg/types"
)

// Worker drives submissions assigned to one runner slot from dispatch
// through published result, one at a time, for the lifetime of the process.
type Worker struct {
	id         int
	store      *store.Store
	testConfig *testconfig.TestConfig
	container  *container.Driver
	notifier   *notifier.Client
	settings   config.RunnerSettings

	pollInterval time.Duration
	notifyPath   string
	notifyWindow time.Duration

	stopCh   chan struct{}
	doneCh   chan struct{}
	notifyCh chan struct{}

	log zerolog.Logger
}

// New constructs a Worker for runner slot id. It does not start the loop;
// call Start for that.
func New(
	id int,
	st *store.Store,
	tc *testconfig.TestConfig,
	drv *container.Driver,
	nc *notifier.Client,
	settings *config.Settings,
) *Worker {
	return &Worker{
		id:           id,
		store:        st,
		testConfig:   tc,
		container:    drv,
		notifier:     nc,
		settings:     settings.Runner,
		pollInterval: time.Duration(settings.Runner.DatabasePollIntervalSecond) * time.Second,
		notifyPath:   settings.Notify.Path,
		notifyWindow: time.Duration(settings.Notify.PollTimeoutMillisec) * time.Millisecond,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		notifyCh:     make(chan struct{}, 1),
		log:          graderlog.WithRunner(id),
	}
}

// Start runs orphan recovery, then launches the notification listener and
// the main loop in background goroutines. Returns once recovery has run;
// Stop blocks until the main loop has exited.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.recoverOrphans(ctx); err != nil {
		return fmt.Errorf("worker %d: orphan recovery: %w", w.id, err)
	}

	listener, err := notify.NewListener(w.notifyPath, w.notifyWindow)
	if err != nil {
		return fmt.Errorf("worker %d: starting notification listener: %w", w.id, err)
	}

	go w.listenLoop(listener)
	go w.runLoop(ctx)

	return nil
}

// Stop signals the main loop to finish its current unit of work and return,
// and blocks until it has.
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

// recoverOrphans marks every submission this runner slot still owned but
// never finished (meaning the previous process died mid-grade) as an
// autograder failure, so it is never left permanently "running".
func (w *Worker) recoverOrphans(ctx context.Context) error {
	orphans, err := w.store.RunnerOwnedUnfinished(ctx, w.id)
	if err != nil {
		return err
	}
	for _, sub := range orphans {
		w.log.Warn().Int64("submission_id", sub.ID).Msg("recovering orphaned submission from previous run")
		if err := w.store.SetFinished(ctx, sub.ID, types.StatusAutograderFailure, grader.OrphanRecoveryMessage, time.Now()); err != nil {
			return fmt.Errorf("marking submission %d recovered: %w", sub.ID, err)
		}
	}
	return nil
}

// listenLoop forwards non-timeout wakeups from the notification file onto
// notifyCh, running on its own goroutine exactly as the design's "parallel
// OS threads... communicating via single-producer-single-consumer channels"
// calls for. It exits once the listener errors or the worker is stopped.
func (w *Worker) listenLoop(listener *notify.Listener) {
	defer listener.Close()
	for {
		res, err := listener.Listen()
		if err != nil {
			w.log.Error().Err(err).Msg("notification listener failed; no further early wakeups")
			return
		}
		if !res.TimedOut {
			select {
			case w.notifyCh <- struct{}{}:
			default:
			}
		}
		select {
		case <-w.stopCh:
			return
		default:
		}
	}
}

// runLoop is the main loop: idle poll-or-wait when nothing is active, or
// drive the active grader one step at a time, never blocking longer than one
// step or one wait window so shutdown is always observed promptly.
func (w *Worker) runLoop(ctx context.Context) {
	defer close(w.doneCh)

	var active *grader.Runner
	var startedAt time.Time

	for {
		select {
		case <-w.stopCh:
			if active != nil {
				active.Cleanup(ctx)
				metrics.RunnersActive.Dec()
			}
			return
		default:
		}

		if active == nil {
			sub, err := w.store.TryAssign(ctx, w.id)
			if err != nil {
				metrics.DispatchPollsTotal.WithLabelValues("error").Inc()
				w.log.Error().Err(err).Msg("dispatch poll failed; retrying next cycle")
				w.wait()
				continue
			}
			if sub == nil {
				metrics.DispatchPollsTotal.WithLabelValues("empty").Inc()
				w.wait()
				continue
			}
			metrics.DispatchPollsTotal.WithLabelValues("assigned").Inc()

			runner, admitErr := grader.NewRunner(ctx, w.id, sub, w.testConfig, w.container, w.settings)
			if admitErr != nil {
				w.log.Error().Err(admitErr).Int64("submission_id", sub.ID).Msg("submission admission failed")
				w.failAdmission(ctx, sub, admitErr)
				continue
			}
			startedAt = time.Now()
			if err := w.store.SetStarted(ctx, sub.ID, startedAt); err != nil {
				w.log.Error().Err(err).Int64("submission_id", sub.ID).Msg("recording start failed")
			}
			if w.notifier != nil {
				if err := w.notifier.SetStatus(ctx, sub.GitHubOrg, sub.GitHubRepo, sub.GitHubCommit, notifier.StatePending, "grading started"); err != nil {
					w.log.Error().Err(err).Int64("submission_id", sub.ID).Msg("setting pending commit status failed")
				}
			}
			active = runner
			metrics.RunnersActive.Inc()
			continue
		}

		active.Step(ctx)

		// Notifications are irrelevant mid-grade; drain without blocking so
		// the channel never backs up while this runner is busy.
		select {
		case <-w.notifyCh:
		default:
		}

		if active.Finished() {
			metrics.GradingDuration.Observe(time.Since(startedAt).Seconds())
			w.publish(ctx, active)
			metrics.RunnersActive.Dec()
			active = nil
		}
	}
}

// wait blocks until the poll interval elapses or an early notification
// arrives, whichever is first, or until stop is requested.
func (w *Worker) wait() {
	select {
	case <-w.stopCh:
	case <-w.notifyCh:
	case <-time.After(w.pollInterval):
	}
}

// failAdmission records an admission-time failure directly, since no Runner
// (and therefore no workspace to clean up) was ever created.
func (w *Worker) failAdmission(ctx context.Context, sub *types.Submission, admitErr *grader.AdmissionError) {
	msg := admitErr.Markdown
	if msg == "" {
		msg = admitErr.Error()
	}
	if err := w.store.SetFinished(ctx, sub.ID, types.StatusSubmissionError, msg, time.Now()); err != nil {
		w.log.Error().Err(err).Int64("submission_id", sub.ID).Msg("recording admission failure failed")
	}
	metrics.SubmissionsTotal.WithLabelValues(types.StatusSubmissionError.String()).Inc()
	if w.notifier != nil {
		_ = w.notifier.PostComment(ctx, sub.GitHubOrg, sub.GitHubRepo, sub.GitHubCommit, msg)
		_ = w.notifier.SetStatus(ctx, sub.GitHubOrg, sub.GitHubRepo, sub.GitHubCommit, notifier.StateError, msg)
	}
}

// publish collects a finished runner's results, publishes the shadow commit
// and the final comment+status, and records completion. Cleanup always runs,
// regardless of how publishing went.
func (w *Worker) publish(ctx context.Context, r *grader.Runner) {
	defer r.Cleanup(ctx)

	results := r.CollectResults(w.settings.MDSettings)
	statusCode := r.FinalStatus(results)
	statusText := results.Markdown

	if w.notifier != nil {
		if err := r.PublishShadow(ctx, w.notifier, results); err != nil {
			w.log.Error().Err(err).Int64("submission_id", r.Submission.ID).Msg("shadow publish failed")
			metrics.ShadowPublishFailuresTotal.Inc()
			statusCode = types.StatusAutograderFailure
			statusText = grader.OpaqueRunnerFatalMessage
		}

		if err := w.notifier.PostComment(ctx, r.Submission.GitHubOrg, r.Submission.GitHubRepo, r.Submission.GitHubCommit, statusText); err != nil {
			w.log.Error().Err(err).Int64("submission_id", r.Submission.ID).Msg("posting result comment failed")
		}
		if err := w.notifier.SetStatus(ctx, r.Submission.GitHubOrg, r.Submission.GitHubRepo, r.Submission.GitHubCommit, commitState(statusCode), statusText); err != nil {
			w.log.Error().Err(err).Int64("submission_id", r.Submission.ID).Msg("setting commit status failed")
		}
	}

	if err := w.store.SetFinished(ctx, r.Submission.ID, statusCode, statusText, time.Now()); err != nil {
		w.log.Error().Err(err).Int64("submission_id", r.Submission.ID).Msg("recording completion failed")
	}
	metrics.SubmissionsTotal.WithLabelValues(statusCode.String()).Inc()
}

func commitState(code types.StatusCode) notifier.CommitState {
	switch code {
	case types.StatusSuccess:
		return notifier.StateSuccess
	case types.StatusAutograderFailure:
		return notifier.StateError
	default:
		return notifier.StateFailure
	}
}
