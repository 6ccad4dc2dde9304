package grader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kth-id2202/autograder/pkg/config"
	"github.com/kth-id2202/autograder/pkg/container"
	"github.com/kth-id2202/autograder/pkg/executor"
	graderlog "github.com/kth-id2202/autograder/pkg/log"
	"github.com/kth-id2202/autograder/pkg/testconfig"
	"github.com/kth-id2202/autograder/pkg/types"
)

const (
	graderSolutionPath = "/root/graded_solution"
	pollAttempts       = 10
	pollInterval       = 500 * time.Millisecond
)

// tagState tracks one tag's progress through build and test phases. flatTests
// is the tag's test tree flattened depth-first (tests before subgroups,
// recursively) once at admission so Step can resume with a plain integer
// cursor instead of a path into the recursive tree; results is keyed by test
// pointer identity, which is stable because TestConfig.Resolve only ever
// shallow-copies *types.Tag, leaving every *types.TestGroup/*types.Test it
// points at shared across the resolved tag and its source.
type tagState struct {
	tag       *types.Tag
	flatTests []*types.Test
	testIdx   int
	results   map[*types.Test]types.TestResult
	build     *types.BuildResult
	done      bool
}

func flattenTests(groups []*types.TestGroup) []*types.Test {
	var out []*types.Test
	for _, g := range groups {
		out = append(out, g.Tests...)
		out = append(out, flattenTests(g.Subgroups)...)
	}
	return out
}

// phase identifies where in one tag's lifecycle Step currently is.
type phase int

const (
	phasePrepare phase = iota
	phaseBuild
	phaseTest
	phaseDone
)

// Runner drives one admitted submission through build and test for every
// requested tag via repeated Step calls. See doc.go.
type Runner struct {
	RunnerID   int
	Submission *types.Submission
	Container  *container.Driver

	defaults testconfig.Defaults

	WorkspaceDir string
	RepoDir      string
	BuildDir     string
	TestsDir     string

	containerName string
	networkName   string
	mountRepo     string
	mountTests    string
	podmanImage   string

	tags         []*tagState
	tagIdx       int
	phase        phase
	networkReady bool

	deadline     time.Time
	failureCause types.FailureCause
	finished     bool

	testsFailed   int
	testsMaxShown int
	maxOutput     int

	log zerolog.Logger
}

// Finished reports whether every tag has been built/tested (or abandoned)
// and the runner is ready to have its results collected.
func (r *Runner) Finished() bool { return r.finished }

// FailureCause returns the reason the run was abandoned early, if any.
func (r *Runner) FailureCause() types.FailureCause { return r.failureCause }

func knownTagsMarkdown(cfg *testconfig.TestConfig) string {
	names := make([]string, 0, len(cfg.Tags)+len(cfg.TagGroups))
	for n := range cfg.Tags {
		names = append(names, n)
	}
	for n := range cfg.TagGroups {
		names = append(names, n+" (group)")
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Unknown grading tag requested. Known tags:\n\n")
	for _, n := range names {
		fmt.Fprintf(&b, "- `%s`\n", n)
	}
	return b.String()
}

// resolveRequestedTags validates and expands every tag name in names,
// deduplicating the result by tag name while preserving first-seen order and
// merging DerivedFrom aliases.
func resolveRequestedTags(cfg *testconfig.TestConfig, names []string) ([]*types.Tag, error) {
	order := make([]string, 0, len(names))
	byName := make(map[string]*types.Tag, len(names))

	for _, n := range names {
		resolved, err := cfg.Resolve(n)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTag, n)
		}
		for _, tag := range resolved {
			if existing, ok := byName[tag.Name]; ok {
				existing.DerivedFrom = append(existing.DerivedFrom, tag.DerivedFrom...)
				continue
			}
			byName[tag.Name] = tag
			order = append(order, tag.Name)
		}
	}

	out := make([]*types.Tag, 0, len(order))
	for _, n := range order {
		out = append(out, byName[n])
	}
	return out, nil
}

func allocateWorkspace(root string, runnerID int) (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		dir := filepath.Join(root, fmt.Sprintf("runner%d_%s", runnerID, uuid.NewString()[:8]))
		if err := os.Mkdir(dir, 0o755); err != nil {
			if os.IsExist(err) {
				continue
			}
			return "", fmt.Errorf("%w: %v", ErrRunnerFatal, err)
		}
		return dir, nil
	}
	return "", ErrWorkspaceCollision
}

// gitRun runs one git subcommand inside dir with a short fatal-on-failure
// timeout, matching the admission sequence's all-or-nothing clone.
func gitRun(ctx context.Context, dir string, args ...string) error {
	code := 0
	_, err := executor.Run(ctx, append([]string{"git"}, args...), executor.Options{
		Timeout:      2 * time.Minute,
		Dir:          dir,
		ExpectedCode: &code,
		MaxStdout:    1 << 20,
		MaxStderr:    1 << 20,
	})
	if err != nil {
		return fmt.Errorf("%w: git %v: %v", ErrRunnerFatal, args, err)
	}
	return nil
}

// NewRunner admits a submission: it validates the requested tags, clones the
// commit into a fresh workspace, and computes the run's total deadline. Any
// failure after the workspace is created removes it before returning.
func NewRunner(
	ctx context.Context,
	runnerID int,
	sub *types.Submission,
	cfg *testconfig.TestConfig,
	drv *container.Driver,
	settings config.RunnerSettings,
) (*Runner, *AdmissionError) {
	log := graderlog.WithRunner(runnerID).With().Int64("submission_id", sub.ID).Logger()

	tags, err := resolveRequestedTags(cfg, sub.GradingTags)
	if err != nil {
		return nil, &AdmissionError{Markdown: knownTagsMarkdown(cfg), Err: err}
	}

	wsDir, err := allocateWorkspace(settings.WorkspaceDir, runnerID)
	if err != nil {
		return nil, &AdmissionError{Markdown: OpaqueRunnerFatalMessage, Err: err}
	}

	repoDir := filepath.Join(wsDir, "repo")
	if err := os.MkdirAll(repoDir, 0o755); err != nil {
		_ = os.RemoveAll(wsDir)
		return nil, &AdmissionError{Markdown: OpaqueRunnerFatalMessage, Err: fmt.Errorf("%w: %v", ErrRunnerFatal, err)}
	}

	admitSteps := [][]string{
		{"init"},
		{"remote", "add", "origin", sub.GitHubAddress},
		{"fetch", "--depth", "1", "origin", sub.GitHubCommit},
		{"checkout", "FETCH_HEAD"},
	}
	for _, args := range admitSteps {
		if err := gitRun(ctx, repoDir, args...); err != nil {
			_ = os.RemoveAll(wsDir)
			return nil, &AdmissionError{Markdown: OpaqueRunnerFatalMessage, Err: err}
		}
	}

	states := make([]*tagState, 0, len(tags))
	for _, tag := range tags {
		states = append(states, &tagState{
			tag:       tag,
			flatTests: flattenTests(tag.Roots),
			results:   make(map[*types.Test]types.TestResult),
		})
	}

	r := &Runner{
		RunnerID:      runnerID,
		Submission:    sub,
		Container:     drv,
		defaults:      cfg.Defaults,
		WorkspaceDir:  wsDir,
		RepoDir:       repoDir,
		BuildDir:      filepath.Join(wsDir, "build"),
		TestsDir:      filepath.Join(wsDir, "tests"),
		containerName: fmt.Sprintf("%s-runner-%d", settings.PodmanNetworkPrefix, runnerID),
		networkName:   fmt.Sprintf("%s-net-%d", settings.PodmanNetworkPrefix, runnerID),
		mountRepo:     settings.MountRepo,
		mountTests:    settings.MountTests,
		podmanImage:   settings.PodmanImage,
		tags:          states,
		deadline:      time.Now().Add(cfg.Defaults.TimeoutTotal),
		testsMaxShown: cfg.Defaults.ShownFailures,
		maxOutput:     cfg.Defaults.MaxOutput,
		log:           log,
	}

	if len(states) == 0 {
		r.finished = true
	}

	return r, nil
}

// Cleanup removes the runner's container and workspace. It is safe to call
// more than once and safe to call on a partially admitted runner.
func (r *Runner) Cleanup(ctx context.Context) {
	if r.containerName != "" && r.Container != nil {
		_ = r.Container.ForceRemove(ctx, r.containerName)
	}
	if r.WorkspaceDir != "" {
		_ = os.RemoveAll(r.WorkspaceDir)
	}
}

// Step performs at most one unit of work (one build or one test-case
// execution) and returns. Callers drive a runner to completion by calling
// Step repeatedly until Finished reports true.
func (r *Runner) Step(ctx context.Context) {
	if r.finished {
		return
	}
	if time.Now().After(r.deadline) {
		r.failureCause = types.FailureTotalTimeout
		r.finished = true
		return
	}
	if r.tagIdx >= len(r.tags) {
		r.finished = true
		return
	}

	ts := r.tags[r.tagIdx]
	if ts.done {
		r.tagIdx++
		r.phase = phasePrepare
		return
	}

	switch r.phase {
	case phasePrepare:
		r.stepPrepareAndBuild(ctx, ts)
	case phaseBuild:
		r.phase = phaseTest
	case phaseTest:
		r.stepTest(ctx, ts)
	case phaseDone:
		ts.done = true
		r.phase = phasePrepare
	}

	if r.failureCause != "" {
		ts.done = true
		r.finished = true
	}
}
