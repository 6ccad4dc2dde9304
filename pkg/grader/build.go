package grader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/kth-id2202/autograder/pkg/container"
	"github.com/kth-id2202/autograder/pkg/executor"
	"github.com/kth-id2202/autograder/pkg/metrics"
	"github.com/kth-id2202/autograder/pkg/types"
)

// copyTree recursively copies src onto dst, which must not yet exist.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode())
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		info, err := d.Info()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, in)
		return err
	})
}

// stepPrepareAndBuild carries one tag through the build phase named in the
// component's design: dangling-container cleanup, solution staging, the
// optional binary-file scan, container start, and the build command itself.
// It always transitions the tag forward by exactly one phase.
func (r *Runner) stepPrepareAndBuild(ctx context.Context, ts *tagState) {
	tag := ts.tag

	_ = r.Container.ForceRemove(ctx, r.containerName)

	_ = os.RemoveAll(r.BuildDir)
	_ = os.RemoveAll(r.TestsDir)
	if err := os.MkdirAll(r.TestsDir, 0o755); err != nil {
		r.abortRunnerFatal(ts, err)
		return
	}

	srcDir := filepath.Join(r.RepoDir, tag.Build.SrcDir)
	if info, err := os.Stat(srcDir); err != nil || !info.IsDir() {
		ts.build = &types.BuildResult{Outcome: types.BuildSourceNotFound, Reason: tag.Build.SrcDir}
		ts.done = true
		return
	}
	if err := copyTree(srcDir, r.BuildDir); err != nil {
		r.abortRunnerFatal(ts, err)
		return
	}

	if tag.Build.ProhibitBinaryFiles {
		prohibited, err := scanProhibitedFiles(ctx, r.BuildDir, tag.Build.AllowedBinaryFiles, tag.Build.AllowedBinaryMimetype)
		if err != nil {
			r.abortRunnerFatal(ts, err)
			return
		}
		if len(prohibited) > 0 {
			ts.build = &types.BuildResult{Outcome: types.BuildProhibitedFiles, Files: prohibited}
			ts.done = true
			return
		}
	}

	if !r.networkReady {
		if err := r.Container.CreateNetwork(ctx, r.networkName); err != nil {
			r.abortRunnerFatal(ts, err)
			return
		}
		r.networkReady = true
	}

	if err := r.Container.StartDetached(ctx, container.StartDetachedSpec{
		Image:   r.podmanImage,
		Name:    r.containerName,
		Network: r.networkName,
		Mounts: []container.Mount{
			{Host: r.BuildDir, Mount: r.mountRepo, Flags: "ro"},
			{Host: r.TestsDir, Mount: r.mountTests, Flags: "rw"},
		},
	}); err != nil {
		r.abortRunnerFatal(ts, err)
		return
	}

	running, err := r.Container.PollRunning(ctx, r.containerName, pollAttempts, pollInterval)
	if err != nil {
		r.abortRunnerFatal(ts, err)
		return
	}
	if !running {
		r.abortRunnerFatal(ts, fmt.Errorf("container %s never reached running state", r.containerName))
		return
	}

	ts.build = r.runBuildCommand(ctx, tag)

	_ = r.Container.DisconnectNetwork(ctx, r.networkName, r.containerName)

	if ts.build.Outcome == types.BuildOK {
		r.phase = phaseTest
	} else {
		ts.done = true
	}
}

// runBuildCommand stages the mounted repo into /root/graded_solution and runs
// the tag's build command there, classifying the outcome.
func (r *Runner) runBuildCommand(ctx context.Context, tag *types.Tag) *types.BuildResult {
	timer := metrics.NewTimer()
	result := r.runBuildCommandTimed(ctx, tag)
	timer.ObserveDurationVec(metrics.BuildDuration, string(result.Outcome))
	return result
}

func (r *Runner) runBuildCommandTimed(ctx context.Context, tag *types.Tag) *types.BuildResult {
	presenceCode := 0
	_, err := r.Container.Exec(ctx, r.containerName, "", []string{"test", "!", "-d", graderSolutionPath}, executor.Options{
		Timeout:      10 * time.Second,
		ExpectedCode: &presenceCode,
		MaxStdout:    4096,
		MaxStderr:    4096,
	})
	if err != nil {
		return &types.BuildResult{Outcome: types.BuildFailed, Reason: "graded_solution directory already present"}
	}

	cpCode := 0
	if _, err := r.Container.Exec(ctx, r.containerName, "", []string{"cp", "-r", r.mountRepo, graderSolutionPath}, executor.Options{
		Timeout:      30 * time.Second,
		ExpectedCode: &cpCode,
		MaxStdout:    1 << 20,
		MaxStderr:    1 << 20,
	}); err != nil {
		return &types.BuildResult{Outcome: types.BuildFailed, Reason: "could not stage solution into " + graderSolutionPath}
	}

	timeout := tag.Build.Timeout
	if timeout <= 0 {
		timeout = r.defaults.TimeoutBuild
	}

	res, err := r.Container.Exec(ctx, r.containerName, graderSolutionPath, tag.Build.Cmd, executor.Options{
		Timeout:   timeout,
		MaxStdout: r.maxOutput,
		MaxStderr: r.maxOutput,
	})

	var timeoutErr *executor.TimeoutError
	var limitErr *executor.OutputLimitError
	switch {
	case errors.As(err, &timeoutErr):
		r.failureCause = types.FailureBuildTimeout
		return &types.BuildResult{Outcome: types.BuildTimeout, Stdout: string(timeoutErr.Stdout), Stderr: string(timeoutErr.Stderr)}
	case errors.As(err, &limitErr):
		r.failureCause = types.FailureOutputLimit
		return &types.BuildResult{Outcome: types.BuildOutputLimitReached}
	case err != nil:
		return &types.BuildResult{Outcome: types.BuildFailed, Reason: err.Error()}
	case res.Code != 0:
		return &types.BuildResult{Outcome: types.BuildFailed, Stdout: string(res.Stdout), Stderr: string(res.Stderr), Code: res.Code}
	default:
		return &types.BuildResult{Outcome: types.BuildOK, Stdout: string(res.Stdout), Stderr: string(res.Stderr), Code: res.Code}
	}
}

func (r *Runner) abortRunnerFatal(ts *tagState, err error) {
	r.log.Error().Err(err).Str("tag", ts.tag.Name).Msg("runner-fatal failure during build phase")
	ts.build = &types.BuildResult{Outcome: types.BuildFailed, Reason: OpaqueRunnerFatalMessage}
	ts.done = true
}
