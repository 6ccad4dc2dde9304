package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleTOML = `
database_url = "postgres://localhost/autograder"

[runner]
n_runners = 4
database_poll_interval_seconds = 10
podman_image = "autograder-base:latest"
podman_network_prefix = "ag-net-"
mount_repo = "/mnt/repo"
mount_tests = "/mnt/tests"
workspace_dir = "workspaces"
test_config = "tests/config.toml"

[runner.md_settings]
truncate_len = 2000

[notify]
path = "run/notify.signal"
poll_timeout_millisec = 1500

[monitor]
poll_interval_seconds = 30

[log]
level = "debug"
json_output = true
`

func writeSettings(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "settings.toml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := writeSettings(t, dir, sampleTOML)

	s, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, filepath.Join(dir, "workspaces"), s.Runner.WorkspaceDir)
	require.Equal(t, filepath.Join(dir, "tests/config.toml"), s.Runner.TestConfig)
	require.Equal(t, filepath.Join(dir, "run/notify.signal"), s.Notify.Path)
	require.Equal(t, "/mnt/repo", s.Runner.MountRepo, "in-container paths are left untouched")
	require.Equal(t, 2000, s.Runner.MDSettings.TruncateLen)
}

func TestLoadAppliesEnvironmentOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeSettings(t, dir, sampleTOML)

	t.Setenv("AUTOGRADER_RUNNER_N_RUNNERS", "9")
	t.Setenv("AUTOGRADER_DATABASE_URL", "postgres://override/db")

	s, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9, s.Runner.NRunners)
	require.Equal(t, "postgres://override/db", s.DatabaseURL)
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	dir := t.TempDir()
	path := writeSettings(t, dir, `database_url = "x"`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	body := `
database_url = "postgres://localhost/autograder"
[runner]
n_runners = 1
podman_image = "img"
podman_network_prefix = "net-"
mount_repo = "/r"
mount_tests = "/t"
workspace_dir = "ws"
test_config = "cfg.toml"
[notify]
path = "notify.signal"
`
	path := writeSettings(t, dir, body)

	s, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5, s.Runner.DatabasePollIntervalSecond)
	require.Equal(t, 5000, s.Notify.PollTimeoutMillisec)
	require.Equal(t, 4000, s.Runner.MDSettings.TruncateLen)
}
