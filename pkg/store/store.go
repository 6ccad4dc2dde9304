package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kth-id2202/autograder/pkg/types"
)

// ErrNotFound is returned when a submission id does not exist.
var ErrNotFound = errors.New("store: submission not found")

const schema = `
CREATE TABLE IF NOT EXISTS submissions (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	date_submitted     TEXT NOT NULL,
	assigned_runner    INTEGER,
	grading_tags       TEXT NOT NULL,
	exec_finished      INTEGER NOT NULL DEFAULT 0,
	exec_status_code   INTEGER NOT NULL DEFAULT 0,
	exec_status_text   TEXT,
	exec_date_started  TEXT,
	exec_date_finished TEXT,
	github_address     TEXT NOT NULL,
	github_org         TEXT NOT NULL,
	github_repo        TEXT NOT NULL,
	github_user        TEXT NOT NULL,
	github_commit      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_submissions_dispatch
	ON submissions (exec_finished, assigned_runner, date_submitted);
`

// Store wraps a SQLite-backed submissions table.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and migrates
// its schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: opening %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY storms

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// JoinTags renders an ordered tag-name list as the semicolon-joined string
// the schema persists.
func JoinTags(tags []string) string {
	return strings.Join(tags, ";")
}

// SplitTags is the inverse of JoinTags; an empty string yields no tags.
func SplitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ";")
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

// Insert creates a new, not-yet-started submission row and returns its id.
func (s *Store) Insert(ctx context.Context, sub *types.Submission) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions
			(date_submitted, grading_tags, exec_finished, exec_status_code,
			 github_address, github_org, github_repo, github_user, github_commit)
		VALUES (?, ?, 0, ?, ?, ?, ?, ?, ?)`,
		formatTime(sub.DateSubmitted), JoinTags(sub.GradingTags), int(types.StatusNotStarted),
		sub.GitHubAddress, sub.GitHubOrg, sub.GitHubRepo, sub.GitHubUser, sub.GitHubCommit,
	)
	if err != nil {
		return 0, fmt.Errorf("store: inserting submission: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: reading inserted id: %w", err)
	}
	return id, nil
}

func scanSubmission(row interface {
	Scan(dest ...any) error
}) (*types.Submission, error) {
	var (
		sub                                   types.Submission
		dateSubmitted                         string
		assignedRunner                        sql.NullInt64
		tags, statusText, started, finishedAt sql.NullString
		code                                  int
	)

	if err := row.Scan(
		&sub.ID, &dateSubmitted, &assignedRunner, &tags, &sub.ExecFinished,
		&code, &statusText, &started, &finishedAt,
		&sub.GitHubAddress, &sub.GitHubOrg, &sub.GitHubRepo, &sub.GitHubUser, &sub.GitHubCommit,
	); err != nil {
		return nil, err
	}

	var err error
	if sub.DateSubmitted, err = parseTime(dateSubmitted); err != nil {
		return nil, fmt.Errorf("store: parsing date_submitted: %w", err)
	}
	if assignedRunner.Valid {
		v := int(assignedRunner.Int64)
		sub.AssignedRunner = &v
	}
	sub.GradingTags = SplitTags(tags.String)
	sub.ExecStatusCode = types.StatusCode(code)
	sub.ExecStatusText = statusText.String
	if started.Valid {
		t, err := parseTime(started.String)
		if err != nil {
			return nil, fmt.Errorf("store: parsing exec_date_started: %w", err)
		}
		sub.ExecStarted = &t
	}
	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("store: parsing exec_date_finished: %w", err)
		}
		sub.ExecFinishedAt = &t
	}

	return &sub, nil
}

const selectColumns = `
	id, date_submitted, assigned_runner, grading_tags, exec_finished,
	exec_status_code, exec_status_text, exec_date_started, exec_date_finished,
	github_address, github_org, github_repo, github_user, github_commit`

// GetByID returns one submission by id, or ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id int64) (*types.Submission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM submissions WHERE id = ?`, id)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: reading submission %d: %w", id, err)
	}
	return sub, nil
}

// ListNewestFirst returns up to limit submissions ordered by date_submitted descending.
func (s *Store) ListNewestFirst(ctx context.Context, limit int) ([]*types.Submission, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM submissions ORDER BY date_submitted DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: listing submissions: %w", err)
	}
	defer rows.Close()

	var out []*types.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scanning submission row: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// SetStarted records that grading has begun.
func (s *Store) SetStarted(ctx context.Context, id int64, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE submissions SET exec_status_code = ?, exec_date_started = ? WHERE id = ?`,
		int(types.StatusRunning), formatTime(startedAt), id)
	if err != nil {
		return fmt.Errorf("store: marking submission %d started: %w", id, err)
	}
	return nil
}

// SetFinished records the terminal status and finish time of a submission.
func (s *Store) SetFinished(ctx context.Context, id int64, code types.StatusCode, text string, finishedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE submissions
		SET exec_finished = 1, exec_status_code = ?, exec_status_text = ?, exec_date_finished = ?
		WHERE id = ?`,
		int(code), text, formatTime(finishedAt), id)
	if err != nil {
		return fmt.Errorf("store: marking submission %d finished: %w", id, err)
	}
	return nil
}

// RunnerOwnedUnfinished returns every row still assigned to runnerID that
// never finished — the set the worker supervisor's start-up recovery pass
// (component C8) must mark as AutograderFailure.
func (s *Store) RunnerOwnedUnfinished(ctx context.Context, runnerID int) ([]*types.Submission, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+`
		FROM submissions WHERE assigned_runner = ? AND exec_finished = 0`, runnerID)
	if err != nil {
		return nil, fmt.Errorf("store: listing orphaned submissions for runner %d: %w", runnerID, err)
	}
	defer rows.Close()

	var out []*types.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scanning orphaned submission row: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// TryAssign atomically picks the single oldest queued submission such that
// no other in-flight submission shares its github_repo, assigns it to
// runnerID, and returns it. Returns (nil, nil) when no submission qualifies.
func (s *Store) TryAssign(ctx context.Context, runnerID int) (*types.Submission, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: beginning dispatch transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM submissions s1
		WHERE s1.exec_finished = 0 AND s1.assigned_runner IS NULL
		  AND NOT EXISTS (
		      SELECT 1 FROM submissions s2
		      WHERE s2.github_repo = s1.github_repo
		        AND s2.assigned_runner IS NOT NULL
		        AND s2.exec_finished = 0
		  )
		ORDER BY s1.date_submitted ASC
		LIMIT 1`)

	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: selecting dispatch candidate: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE submissions SET assigned_runner = ? WHERE id = ?`, runnerID, sub.ID); err != nil {
		return nil, fmt.Errorf("store: assigning submission %d: %w", sub.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: committing dispatch: %w", err)
	}

	v := runnerID
	sub.AssignedRunner = &v
	return sub, nil
}
