package worker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kth-id2202/autograder/pkg/config"
	"github.com/kth-id2202/autograder/pkg/grader"
	"github.com/kth-id2202/autograder/pkg/notifier"
	"github.com/kth-id2202/autograder/pkg/store"
	"github.com/kth-id2202/autograder/pkg/testconfig"
	"github.com/kth-id2202/autograder/pkg/types"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "submissions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	return &config.Settings{
		Runner: config.RunnerSettings{
			DatabasePollIntervalSecond: 5,
		},
		Notify: config.NotifySettings{
			Path:                filepath.Join(t.TempDir(), "notify"),
			PollTimeoutMillisec: 50,
		},
	}
}

func newSubmission(repo string) *types.Submission {
	return &types.Submission{
		DateSubmitted: time.Now(),
		GradingTags:   []string{"lab1"},
		GitHubAddress: "https://github.example.com/org/" + repo,
		GitHubOrg:     "org",
		GitHubRepo:    repo,
		GitHubUser:    "student",
		GitHubCommit:  "deadbeef",
	}
}

func TestNewWorkerWiresSettings(t *testing.T) {
	st := openTestStore(t)
	settings := testSettings(t)
	w := New(7, st, &testconfig.TestConfig{}, nil, nil, settings)

	assert.Equal(t, 7, w.id)
	assert.Equal(t, 5*time.Second, w.pollInterval)
	assert.Equal(t, 50*time.Millisecond, w.notifyWindow)
	assert.Equal(t, settings.Notify.Path, w.notifyPath)
}

func TestRecoverOrphansMarksOwnedUnfinishedSubmissions(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	id, err := st.Insert(ctx, newSubmission("repo-a"))
	require.NoError(t, err)
	_, err = st.TryAssign(ctx, 3)
	require.NoError(t, err)

	w := New(3, st, &testconfig.TestConfig{}, nil, nil, testSettings(t))
	require.NoError(t, w.recoverOrphans(ctx))

	sub, err := st.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, sub.ExecFinished)
	assert.Equal(t, types.StatusAutograderFailure, sub.ExecStatusCode)
}

func TestRecoverOrphansLeavesOtherRunnersAlone(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	id, err := st.Insert(ctx, newSubmission("repo-b"))
	require.NoError(t, err)
	_, err = st.TryAssign(ctx, 1)
	require.NoError(t, err)

	w := New(2, st, &testconfig.TestConfig{}, nil, nil, testSettings(t))
	require.NoError(t, w.recoverOrphans(ctx))

	sub, err := st.GetByID(ctx, id)
	require.NoError(t, err)
	assert.False(t, sub.ExecFinished)
}

func TestRecoverOrphansNoopWhenNothingOwned(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	w := New(1, st, &testconfig.TestConfig{}, nil, nil, testSettings(t))
	require.NoError(t, w.recoverOrphans(ctx))
}

func TestCommitStateMapping(t *testing.T) {
	assert.Equal(t, notifier.StateSuccess, commitState(types.StatusSuccess))
	assert.Equal(t, notifier.StateError, commitState(types.StatusAutograderFailure))
	assert.Equal(t, notifier.StateFailure, commitState(types.StatusTestCasesFailed))
	assert.Equal(t, notifier.StateFailure, commitState(types.StatusBuildTimedOut))
}

func TestFailAdmissionRecordsSubmissionErrorWithoutNotifier(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	sub := newSubmission("repo-c")
	id, err := st.Insert(ctx, sub)
	require.NoError(t, err)
	sub.ID = id

	w := New(1, st, &testconfig.TestConfig{}, nil, nil, testSettings(t))
	admitErr := &grader.AdmissionError{Markdown: "unknown tag `nope`", Err: errors.New("unknown tag")}
	w.failAdmission(ctx, sub, admitErr)

	got, err := st.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.ExecFinished)
	assert.Equal(t, types.StatusSubmissionError, got.ExecStatusCode)
	assert.Equal(t, "unknown tag `nope`", got.ExecStatusText)
}
