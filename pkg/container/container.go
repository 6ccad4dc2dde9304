package container

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kth-id2202/autograder/pkg/executor"
)

// PullTimeout is generously long since image pulls cross the network.
const PullTimeout = 20 * time.Minute

const defaultCapBytes = 4 << 20 // 4 MiB, generous for CLI JSON listings

// Mount describes one bind mount passed to `podman run -v`.
type Mount struct {
	Host  string
	Mount string
	Flags string // e.g. "ro", "rw"
}

// StartDetachedSpec is the input to StartDetached.
type StartDetachedSpec struct {
	Image   string
	Name    string
	Network string
	Mounts  []Mount
}

// PSEntry is one row of `podman ps --format json`.
type PSEntry struct {
	Names      []string `json:"Names"`
	State      string   `json:"State"`
	Status     string   `json:"Status"`
	AutoRemove bool     `json:"AutoRemove"`
	Exited     bool     `json:"Exited"`
}

type podmanImage struct {
	Names []string `json:"Names"`
}

type podmanNetwork struct {
	Name string `json:"Name"`
}

// Driver runs podman commands through the captured-process executor.
type Driver struct {
	Binary string // usually "podman"
}

// New returns a Driver that shells out to the named binary ("podman" by default).
func New(binary string) *Driver {
	if binary == "" {
		binary = "podman"
	}
	return &Driver{Binary: binary}
}

func (d *Driver) run(ctx context.Context, timeout time.Duration, args ...string) (*executor.Result, error) {
	argv := append([]string{d.Binary}, args...)
	code := 0
	res, err := executor.Run(ctx, argv, executor.Options{
		Timeout:      timeout,
		ExpectedCode: &code,
		MaxStdout:    defaultCapBytes,
		MaxStderr:    defaultCapBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("container: %s %v: %w", d.Binary, args, err)
	}
	return res, nil
}

// Images returns the set of locally present image names.
func (d *Driver) Images(ctx context.Context) (map[string]bool, error) {
	res, err := d.run(ctx, 30*time.Second, "images", "--format", "json")
	if err != nil {
		return nil, err
	}
	return parseImages(res.Stdout)
}

func parseImages(data []byte) (map[string]bool, error) {
	var rows []podmanImage
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("container: parsing images json: %w", err)
	}
	out := make(map[string]bool)
	for _, r := range rows {
		for _, n := range r.Names {
			out[n] = true
		}
	}
	return out, nil
}

// Networks returns the set of defined network names.
func (d *Driver) Networks(ctx context.Context) (map[string]bool, error) {
	res, err := d.run(ctx, 30*time.Second, "network", "ls", "--format", "json")
	if err != nil {
		return nil, err
	}
	return parseNetworks(res.Stdout)
}

func parseNetworks(data []byte) (map[string]bool, error) {
	var rows []podmanNetwork
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("container: parsing networks json: %w", err)
	}
	out := make(map[string]bool)
	for _, r := range rows {
		out[r.Name] = true
	}
	return out, nil
}

// PS lists all containers (running and stopped).
func (d *Driver) PS(ctx context.Context) ([]PSEntry, error) {
	res, err := d.run(ctx, 30*time.Second, "ps", "-a", "--format", "json")
	if err != nil {
		return nil, err
	}
	return parsePS(res.Stdout)
}

func parsePS(data []byte) ([]PSEntry, error) {
	var rows []PSEntry
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("container: parsing ps json: %w", err)
	}
	return rows, nil
}

// PSNames is PS projected down to the first name of each container.
func (d *Driver) PSNames(ctx context.Context) (map[string]bool, error) {
	rows, err := d.PS(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for _, r := range rows {
		if len(r.Names) > 0 {
			out[r.Names[0]] = true
		}
	}
	return out, nil
}

// Pull fetches an image, allowing a long timeout for slow registries.
func (d *Driver) Pull(ctx context.Context, image string) error {
	_, err := d.run(ctx, PullTimeout, "pull", image)
	return err
}

// CreateNetwork creates a network with DNS resolution disabled between
// its members, so graded containers cannot resolve each other by name.
func (d *Driver) CreateNetwork(ctx context.Context, name string) error {
	_, err := d.run(ctx, 30*time.Second, "network", "create", "--disable-dns", name)
	return err
}

// StartDetached starts a long-lived, idling container that tests are later
// exec'd into. The keep-alive command is a no-op loop, matching the upstream
// autograder this driver's shape was grounded on.
func (d *Driver) StartDetached(ctx context.Context, spec StartDetachedSpec) error {
	_, err := d.run(ctx, 60*time.Second, startDetachedArgs(spec)...)
	return err
}

func startDetachedArgs(spec StartDetachedSpec) []string {
	args := []string{
		"run", "--detach", "--rm",
		"--name", spec.Name,
		"--hostname", spec.Name,
		"--uts", "private",
		"--network", spec.Network,
	}
	for _, m := range spec.Mounts {
		args = append(args, "-v", fmt.Sprintf("%s:%s:%s", m.Host, m.Mount, m.Flags))
	}
	args = append(args, spec.Image, "bash", "-c", "while true; do sleep 1; done")
	return args
}

// Exec runs argv inside the named container with the given caps/timeout and
// returns its captured result; timeouts and cap breaches bubble up as the
// executor's own error types. An empty workdir leaves the container's
// default working directory in effect.
func (d *Driver) Exec(ctx context.Context, name, workdir string, argv []string, opts executor.Options) (*executor.Result, error) {
	full := []string{d.Binary, "exec"}
	if opts.Stdin != nil {
		full = append(full, "-i")
	}
	if workdir != "" {
		full = append(full, "--workdir", workdir)
	}
	full = append(full, name)
	full = append(full, argv...)
	// Exec runs on the host; Dir here would change the podman CLI's own cwd,
	// not the container's, so it is always cleared for this call.
	opts.Dir = ""
	return executor.Run(ctx, full, opts)
}

// DisconnectNetwork detaches a container from a network so it can no longer
// reach other containers or the outside world.
func (d *Driver) DisconnectNetwork(ctx context.Context, network, container string) error {
	_, err := d.run(ctx, 30*time.Second, "network", "disconnect", network, container)
	return err
}

// ForceRemove kills and removes a container immediately, ignoring whether it
// exists; callers treat "already gone" as success.
func (d *Driver) ForceRemove(ctx context.Context, name string) error {
	_, err := d.run(ctx, 30*time.Second, "rm", "-f", "-t", "0", name)
	return err
}

// PollRunning polls PS up to attempts times, waiting interval between each,
// until the named container reports state "running".
func (d *Driver) PollRunning(ctx context.Context, name string, attempts int, interval time.Duration) (bool, error) {
	for i := 0; i < attempts; i++ {
		rows, err := d.PS(ctx)
		if err != nil {
			return false, err
		}
		for _, r := range rows {
			for _, n := range r.Names {
				if n == name && r.State == "running" {
					return true, nil
				}
			}
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(interval):
		}
	}
	return false, nil
}
