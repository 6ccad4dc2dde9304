package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/kth-id2202/autograder/pkg/notify"
)

const (
	// RoleEnv names the environment variable a re-exec'd child reads to learn
	// which role to run: RoleIngress or RoleWorker.
	RoleEnv = "AUTOGRADER_ROLE"
	// WorkerIDEnv carries a worker child's runner slot id.
	WorkerIDEnv = "AUTOGRADER_WORKER_ID"

	RoleIngress = "ingress"
	RoleWorker  = "worker"
)

// child tracks one supervised process: its role, its current *exec.Cmd, and
// the channel its watcher goroutine reports exit on.
type child struct {
	role   string
	id     int // -1 for the ingress child
	cmd    *exec.Cmd
	exited chan struct{}
}

// Supervisor launches and restarts one ingress child and n_runners worker
// children, all re-execs of execPath with role environment variables set.
type Supervisor struct {
	execPath     string
	settingsPath string
	nRunners     int
	notifyPath   string
	pollInterval time.Duration
	log          zerolog.Logger
}

// New constructs a Supervisor. execPath is normally os.Executable(); settingsPath
// is forwarded to every child via --settings.
func New(execPath, settingsPath string, nRunners int, notifyPath string, pollInterval time.Duration, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		execPath:     execPath,
		settingsPath: settingsPath,
		nRunners:     nRunners,
		notifyPath:   notifyPath,
		pollInterval: pollInterval,
		log:          log,
	}
}

func (s *Supervisor) spawn(role string, id int) (*child, error) {
	cmd := exec.Command(s.execPath, "start", "--settings", s.settingsPath)
	cmd.Env = append(os.Environ(), RoleEnv+"="+role)
	if role == RoleWorker {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%d", WorkerIDEnv, id))
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("supervisor: starting %s child: %w", role, err)
	}
	s.log.Info().Str("role", role).Int("id", id).Int("pid", cmd.Process.Pid).Msg("child started")
	return &child{role: role, id: id, cmd: cmd, exited: make(chan struct{})}, nil
}

// Run spawns every child, restarts any that exits while the supervisor is
// running, and blocks until ctx is cancelled or a termination signal
// arrives, at which point it stops every child and pings the notification
// bus so any blocked Listener wakes promptly.
func (s *Supervisor) Run(ctx context.Context) error {
	children := make([]*child, 0, s.nRunners+1)

	ingress, err := s.spawn(RoleIngress, -1)
	if err != nil {
		return err
	}
	children = append(children, ingress)

	for id := 0; id < s.nRunners; id++ {
		w, err := s.spawn(RoleWorker, id)
		if err != nil {
			s.stopAll(children)
			return err
		}
		children = append(children, w)
	}

	exitCh := make(chan int, len(children))
	for i, c := range children {
		i, c := i, c
		go func() {
			_ = c.cmd.Wait()
			close(c.exited)
			exitCh <- i
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	stopping := false
	for {
		select {
		case <-ctx.Done():
			stopping = true
		case <-sigCh:
			s.log.Info().Msg("supervisor received termination signal")
			stopping = true
		case i := <-exitCh:
			if stopping {
				continue
			}
			c := children[i]
			s.log.Warn().Str("role", c.role).Int("id", c.id).Msg("child exited unexpectedly; restarting")
			replacement, err := s.spawn(c.role, c.id)
			if err != nil {
				s.log.Error().Err(err).Str("role", c.role).Int("id", c.id).Msg("restart failed")
				continue
			}
			children[i] = replacement
			go func(idx int, rc *child) {
				_ = rc.cmd.Wait()
				close(rc.exited)
				exitCh <- idx
			}(i, replacement)
		}

		if stopping {
			s.stopAll(children)
			if err := notify.Ping(s.notifyPath); err != nil {
				s.log.Error().Err(err).Msg("pinging notification bus during shutdown failed")
			}
			return nil
		}
	}
}

// stopAll sends SIGTERM to every still-running child, then SIGKILL to any
// that have not exited after a short grace period.
func (s *Supervisor) stopAll(children []*child) {
	for _, c := range children {
		if c.cmd.Process == nil {
			continue
		}
		_ = c.cmd.Process.Signal(syscall.SIGTERM)
	}

	grace := 5 * time.Second
	for _, c := range children {
		if c.cmd.Process == nil {
			continue
		}
		select {
		case <-c.exited:
		case <-time.After(grace):
			_ = c.cmd.Process.Kill()
		}
	}
}
