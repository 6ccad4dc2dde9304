// Package notifier is the boundary to the version-control hosting service:
// posting grading comments and commit statuses, and the handful of git/REST
// operations shadow-repository publishing needs (repo_exists, create_repo,
// clone, commit, push). The service itself is an external collaborator, not
// part of this module's core; Client is deliberately thin.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kth-id2202/autograder/pkg/executor"
)

// CommitState is the small enum GitHub's commit-status API accepts.
type CommitState string

const (
	StateError   CommitState = "error"
	StateFailure CommitState = "failure"
	StatePending CommitState = "pending"
	StateSuccess CommitState = "success"
)

// Config addresses and authenticates against one version-control hosting
// instance (a GitHub Enterprise Server instance, in the upstream deployment
// this design is grounded on).
type Config struct {
	Address          string // host, e.g. "github.kth.se"
	AuthToken        string
	CommentSignature string
	HTTPTimeout       time.Duration
}

// Client implements the external-notifier operations named in the design:
// post_comment, set_status, repo_exists, create_repo, clone, commit, push.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New returns a Client bound to cfg. A zero HTTPTimeout defaults to 30s.
func New(cfg Config) *Client {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
}

func (c *Client) apiURL(format string, a ...any) string {
	return "https://" + c.cfg.Address + "/api/v3/" + fmt.Sprintf(format, a...)
}

func (c *Client) do(ctx context.Context, method, url string, body any) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("notifier: encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("notifier: building request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("notifier: %s %s: %w", method, url, err)
	}
	return resp, nil
}

func drainAndClassify(resp *http.Response, action string) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var body bytes.Buffer
	body.ReadFrom(resp.Body)
	return fmt.Errorf("notifier: non-2xx response %d when %s: %s", resp.StatusCode, action, body.String())
}

// PostComment appends the configured signature and posts a commit comment.
func (c *Client) PostComment(ctx context.Context, org, repo, commit, message string) error {
	url := c.apiURL("repos/%s/%s/commits/%s/comments", org, repo, commit)
	body := struct {
		Body string `json:"body"`
	}{Body: message + "\n\n" + c.cfg.CommentSignature}

	resp, err := c.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	return drainAndClassify(resp, "posting commit comment")
}

// SetStatus creates a commit status in the given state.
func (c *Client) SetStatus(ctx context.Context, org, repo, commit string, state CommitState, description string) error {
	url := c.apiURL("repos/%s/%s/statuses/%s", org, repo, commit)
	body := struct {
		State       string `json:"state"`
		Description string `json:"description,omitempty"`
	}{State: string(state), Description: description}

	resp, err := c.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	return drainAndClassify(resp, "setting commit status")
}

// RepoExists reports whether org/repo exists on the hosting instance.
func (c *Client) RepoExists(ctx context.Context, org, repo string) (bool, error) {
	url := c.apiURL("repos/%s/%s", org, repo)
	resp, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

// CreateRepo creates a blank repository in org, private when private is true;
// used to provision shadow repositories on first publish.
func (c *Client) CreateRepo(ctx context.Context, org, repo string, private bool) error {
	url := c.apiURL("orgs/%s/repos", org)
	body := struct {
		Name    string `json:"name"`
		Private bool   `json:"private"`
	}{Name: repo, Private: private}

	resp, err := c.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	return drainAndClassify(resp, "creating repository")
}

// CloneURL builds the authenticated remote address for a shallow clone of
// org/repo over HTTPS.
func (c *Client) CloneURL(org, repo string) string {
	return fmt.Sprintf("https://x-access-token:%s@%s/%s/%s.git", c.cfg.AuthToken, c.cfg.Address, org, repo)
}

func gitRun(ctx context.Context, dir string, timeout time.Duration, args ...string) error {
	code := 0
	_, err := executor.Run(ctx, append([]string{"git"}, args...), executor.Options{
		Timeout:      timeout,
		Dir:          dir,
		ExpectedCode: &code,
		MaxStdout:    1 << 20,
		MaxStderr:    1 << 20,
	})
	if err != nil {
		return fmt.Errorf("notifier: git %v: %w", args, err)
	}
	return nil
}

// Clone performs a shallow single-branch clone of org/repo into dir, which
// must not yet exist.
func (c *Client) Clone(ctx context.Context, org, repo, dir string) error {
	code := 0
	_, err := executor.Run(ctx, []string{"git", "clone", "--depth", "1", c.CloneURL(org, repo), dir}, executor.Options{
		Timeout:      2 * time.Minute,
		ExpectedCode: &code,
		MaxStdout:    1 << 20,
		MaxStderr:    1 << 20,
	})
	if err != nil {
		return fmt.Errorf("notifier: cloning %s/%s: %w", org, repo, err)
	}
	return nil
}

// Commit sets a local committer identity (the shadow repository never
// carries a student-attributable identity) and commits every pending change
// in dir with message.
func (c *Client) Commit(ctx context.Context, dir, message string) error {
	if err := gitRun(ctx, dir, 30*time.Second, "config", "user.name", "autograder"); err != nil {
		return err
	}
	if err := gitRun(ctx, dir, 30*time.Second, "config", "user.email", "autograder@localhost"); err != nil {
		return err
	}
	if err := gitRun(ctx, dir, 30*time.Second, "add", "-A"); err != nil {
		return err
	}
	return gitRun(ctx, dir, 30*time.Second, "commit", "-m", message)
}

// Push pushes dir's current branch to its configured remote.
func (c *Client) Push(ctx context.Context, dir string) error {
	return gitRun(ctx, dir, 2*time.Minute, "push")
}
