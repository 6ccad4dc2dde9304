package grader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kth-id2202/autograder/pkg/notifier"
)

// PublishShadow performs the post-grading shadow-repository publish: ensure
// "<repo>-shadow" exists, shallow-clone it into a scratch directory, drop a
// timestamped directory of per-tag JSON result files, replace its snapshot/
// with a copy of the graded repository minus .git, and commit+push. Any
// failure here is fatal for the submission (the caller reports
// types.FailureInterrupted/AutograderFailure), matching the design's
// ordering: external side effects happen only after local results exist.
func (r *Runner) PublishShadow(ctx context.Context, nc *notifier.Client, results *CollectedResults) error {
	shadowRepo := r.Submission.GitHubRepo + "-shadow"

	exists, err := nc.RepoExists(ctx, r.Submission.GitHubOrg, shadowRepo)
	if err != nil {
		return fmt.Errorf("shadow: checking %s/%s: %w", r.Submission.GitHubOrg, shadowRepo, err)
	}
	if !exists {
		if err := nc.CreateRepo(ctx, r.Submission.GitHubOrg, shadowRepo, true); err != nil {
			return fmt.Errorf("shadow: creating %s/%s: %w", r.Submission.GitHubOrg, shadowRepo, err)
		}
	}

	shadowDir := filepath.Join(r.WorkspaceDir, "shadow")
	if err := os.RemoveAll(shadowDir); err != nil {
		return fmt.Errorf("shadow: clearing scratch directory: %w", err)
	}
	if err := nc.Clone(ctx, r.Submission.GitHubOrg, shadowRepo, shadowDir); err != nil {
		return fmt.Errorf("shadow: cloning %s/%s: %w", r.Submission.GitHubOrg, shadowRepo, err)
	}

	stamp := r.shadowTimestamp()
	resultsDir := filepath.Join(shadowDir, stamp)
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return fmt.Errorf("shadow: creating results directory: %w", err)
	}
	for _, doc := range results.Tags {
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("shadow: encoding result for tag %s: %w", doc.TagName, err)
		}
		path := filepath.Join(resultsDir, doc.TagName+".json")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("shadow: writing %s: %w", path, err)
		}
	}

	snapshotDir := filepath.Join(shadowDir, "snapshot")
	if err := os.RemoveAll(snapshotDir); err != nil {
		return fmt.Errorf("shadow: clearing snapshot directory: %w", err)
	}
	if err := copyTree(r.RepoDir, snapshotDir); err != nil {
		return fmt.Errorf("shadow: copying graded repository into snapshot: %w", err)
	}
	if err := os.RemoveAll(filepath.Join(snapshotDir, ".git")); err != nil {
		return fmt.Errorf("shadow: removing snapshot .git: %w", err)
	}

	msg := fmt.Sprintf("Results for submission %d", r.Submission.ID)
	if err := nc.Commit(ctx, shadowDir, msg); err != nil {
		return fmt.Errorf("shadow: committing: %w", err)
	}
	if err := nc.Push(ctx, shadowDir); err != nil {
		return fmt.Errorf("shadow: pushing: %w", err)
	}

	return nil
}

// shadowTimestamp names the per-submission results directory; the submission
// id is included so two submissions landing in the same second never clash.
func (r *Runner) shadowTimestamp() string {
	return fmt.Sprintf("%s_%d", time.Now().UTC().Format("20060102T150405Z"), r.Submission.ID)
}
