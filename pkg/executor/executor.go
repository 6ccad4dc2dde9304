package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Options configures one captured subprocess invocation.
type Options struct {
	Timeout      time.Duration
	ExpectedCode *int
	Stdin        []byte
	MaxStdout    int // 0 means the stream is not captured at all
	MaxStderr    int
	Dir          string // working directory; empty means the caller's cwd
}

// Result is the outcome of a run that finished within its deadline and output
// caps; a timeout or cap breach yields an error and no Result.
type Result struct {
	Code   int
	Stdout []byte
	Stderr []byte
}

// TimeoutError is returned when the child did not exit before the deadline.
// Whatever was captured before the kill is still available.
type TimeoutError struct {
	Stdout []byte
	Stderr []byte
}

func (e *TimeoutError) Error() string { return "executor: command timed out" }

// OutputLimitError is returned when a captured stream exceeded its cap.
type OutputLimitError struct {
	Stream string // "stdout" or "stderr"
	Cap    int
}

func (e *OutputLimitError) Error() string {
	return fmt.Sprintf("executor: %s exceeded output limit of %d bytes", e.Stream, e.Cap)
}

// UnexpectedCodeError is returned when ExpectedCode was set and didn't match.
type UnexpectedCodeError struct {
	Expected int
	Got      int
}

func (e *UnexpectedCodeError) Error() string {
	return fmt.Sprintf("executor: expected exit code %d, got %d", e.Expected, e.Got)
}

// SignaledError is returned when the child was killed by a signal other than
// our own deadline/limit kill (e.g. an external OOM kill).
type SignaledError struct {
	Detail string
}

func (e *SignaledError) Error() string { return "executor: process signaled: " + e.Detail }

// cappedWriter collects bytes up to a cap, then signals and refuses more.
type cappedWriter struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	cap      int
	exceeded bool
	stream   string
	notify   chan<- *OutputLimitError
}

func newCappedWriter(cap int, stream string, notify chan<- *OutputLimitError) *cappedWriter {
	return &cappedWriter{cap: cap, stream: stream, notify: notify}
}

func (w *cappedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.exceeded {
		return 0, fmt.Errorf("executor: %s output limit already exceeded", w.stream)
	}

	remaining := w.cap - w.buf.Len()
	if len(p) <= remaining {
		w.buf.Write(p)
		return len(p), nil
	}

	w.buf.Write(p[:remaining])
	w.exceeded = true
	err := &OutputLimitError{Stream: w.stream, Cap: w.cap}
	select {
	case w.notify <- err:
	default:
	}
	return 0, err
}

func (w *cappedWriter) Bytes() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]byte(nil), w.buf.Bytes()...)
}

// Run spawns argv, feeding opts.Stdin (if any) via a temporary file, and
// enforces opts.Timeout and the output caps. The child is always killed and
// reaped before Run returns on any error path; the stdin temp file is always
// removed.
func Run(ctx context.Context, argv []string, opts Options) (*Result, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("executor: empty argv")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = opts.Dir

	if opts.Stdin != nil {
		f, err := os.CreateTemp("", "autograder-stdin-*")
		if err != nil {
			return nil, fmt.Errorf("executor: creating stdin temp file: %w", err)
		}
		defer os.Remove(f.Name())
		defer f.Close()

		if _, err := f.Write(opts.Stdin); err != nil {
			return nil, fmt.Errorf("executor: writing stdin temp file: %w", err)
		}
		if _, err := f.Seek(0, 0); err != nil {
			return nil, fmt.Errorf("executor: rewinding stdin temp file: %w", err)
		}
		cmd.Stdin = f
	}

	limitCh := make(chan *OutputLimitError, 2)

	var stdoutW, stderrW *cappedWriter
	if opts.MaxStdout > 0 {
		stdoutW = newCappedWriter(opts.MaxStdout, "stdout", limitCh)
		cmd.Stdout = stdoutW
	}
	if opts.MaxStderr > 0 {
		stderrW = newCappedWriter(opts.MaxStderr, "stderr", limitCh)
		cmd.Stderr = stderrW
	}

	deadline := time.Now().Add(opts.Timeout)
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("executor: starting %s: %w", argv[0], err)
	}

	var (
		waitErr     error
		timedOut    bool
		limitErr    *OutputLimitError
		done        = make(chan struct{})
	)

	var g errgroup.Group
	g.Go(func() error {
		waitErr = cmd.Wait()
		close(done)
		return nil
	})
	g.Go(func() error {
		select {
		case <-runCtx.Done():
			timedOut = true
			_ = cmd.Process.Kill()
		case err := <-limitCh:
			limitErr = err
			_ = cmd.Process.Kill()
		case <-done:
		}
		return nil
	})
	_ = g.Wait()

	stdout, stderr := []byte(nil), []byte(nil)
	if stdoutW != nil {
		stdout = stdoutW.Bytes()
	}
	if stderrW != nil {
		stderr = stderrW.Bytes()
	}

	if limitErr != nil {
		return nil, &OutputLimitError{Stream: limitErr.Stream, Cap: limitErr.Cap}
	}
	if timedOut {
		return nil, &TimeoutError{Stdout: stdout, Stderr: stderr}
	}

	code := cmd.ProcessState.ExitCode()
	if code == -1 {
		return nil, &SignaledError{Detail: waitErr.Error()}
	}

	if opts.ExpectedCode != nil && code != *opts.ExpectedCode {
		return &Result{Code: code, Stdout: stdout, Stderr: stderr}, &UnexpectedCodeError{
			Expected: *opts.ExpectedCode,
			Got:      code,
		}
	}

	return &Result{Code: code, Stdout: stdout, Stderr: stderr}, nil
}
