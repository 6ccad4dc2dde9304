package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// MDSettings controls markdown rendering of grading results.
type MDSettings struct {
	TruncateLen      int    `toml:"truncate_len"`
	SymbolOK         string `toml:"symbol_ok"`
	SymbolSkipped    string `toml:"symbol_skipped"`
	SymbolFailed     string `toml:"symbol_failed"`
	SymbolBuild      string `toml:"symbol_build"`
	SymbolTagSuccess string `toml:"symbol_tagsuccess"`
}

// RunnerSettings is the `[runner]` table.
type RunnerSettings struct {
	NRunners                   int        `toml:"n_runners"`
	DatabasePollIntervalSecond int        `toml:"database_poll_interval_seconds"`
	PodmanImage                string     `toml:"podman_image"`
	PodmanNetworkPrefix        string     `toml:"podman_network_prefix"`
	MountRepo                  string     `toml:"mount_repo"`
	MountTests                 string     `toml:"mount_tests"`
	WorkspaceDir               string     `toml:"workspace_dir"`
	TestConfig                 string     `toml:"test_config"`
	MDSettings                 MDSettings `toml:"md_settings"`
}

// NotifySettings is the `[notify]` table.
type NotifySettings struct {
	Path               string `toml:"path"`
	PollTimeoutMillisec int   `toml:"poll_timeout_millisec"`
}

// GitHubSettings is the `[github]` table: addressing and authentication for
// the external version-control notifier (comments, statuses, shadow repo).
type GitHubSettings struct {
	Address          string `toml:"address"`
	AuthToken        string `toml:"auth_token"`
	CommentSignature string `toml:"comment_signature"`
}

// MonitorSettings is the `[monitor]` table.
type MonitorSettings struct {
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
}

// LogSettings is the `[log]` table.
type LogSettings struct {
	Level      string `toml:"level"`
	JSONOutput bool   `toml:"json_output"`
	File       string `toml:"file"`
}

// Settings is the root of the TOML settings document.
type Settings struct {
	DatabaseURL string          `toml:"database_url"`
	Runner      RunnerSettings  `toml:"runner"`
	Notify      NotifySettings  `toml:"notify"`
	GitHub      GitHubSettings  `toml:"github"`
	Monitor     MonitorSettings `toml:"monitor"`
	Log         LogSettings     `toml:"log"`

	// baseDir is the directory the settings file lives in; every relative
	// path field above is resolved against it before Load returns.
	baseDir string
}

// BaseDir returns the directory the settings file was loaded from.
func (s *Settings) BaseDir() string {
	return s.baseDir
}

// Load reads and validates the settings file at path, applying
// AUTOGRADER_<SECTION>_<KEY> environment overrides and resolving every
// relative path against the file's directory.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading settings file %q: %w", path, err)
	}

	var s Settings
	if err := toml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing settings file %q: %w", path, err)
	}

	s.baseDir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolving settings directory: %w", err)
	}

	applyEnvOverrides(&s)
	resolvePaths(&s)

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return &s, nil
}

func (s *Settings) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.baseDir, p)
}

func resolvePaths(s *Settings) {
	// MountRepo/MountTests are in-container paths and are never resolved
	// against the host settings directory.
	s.Runner.WorkspaceDir = s.resolve(s.Runner.WorkspaceDir)
	s.Runner.TestConfig = s.resolve(s.Runner.TestConfig)
	s.Notify.Path = s.resolve(s.Notify.Path)
	s.Log.File = s.resolve(s.Log.File)
}

// envOverride applies AUTOGRADER_<SECTION>_<KEY> if set (AUTOGRADER_<KEY>
// for a top-level key, i.e. an empty section).
func envOverride(section, key string, dst *string) {
	name := "AUTOGRADER_" + strings.ToUpper(key)
	if section != "" {
		name = "AUTOGRADER_" + strings.ToUpper(section) + "_" + strings.ToUpper(key)
	}
	if v, ok := os.LookupEnv(name); ok {
		*dst = v
	}
}

func envOverrideInt(section, key string, dst *int) {
	name := "AUTOGRADER_" + strings.ToUpper(section) + "_" + strings.ToUpper(key)
	if v, ok := os.LookupEnv(name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func applyEnvOverrides(s *Settings) {
	envOverride("", "database_url", &s.DatabaseURL)
	envOverride("runner", "podman_image", &s.Runner.PodmanImage)
	envOverride("runner", "podman_network_prefix", &s.Runner.PodmanNetworkPrefix)
	envOverride("runner", "workspace_dir", &s.Runner.WorkspaceDir)
	envOverride("runner", "test_config", &s.Runner.TestConfig)
	envOverrideInt("runner", "n_runners", &s.Runner.NRunners)
	envOverrideInt("runner", "database_poll_interval_seconds", &s.Runner.DatabasePollIntervalSecond)
	envOverride("notify", "path", &s.Notify.Path)
	envOverrideInt("notify", "poll_timeout_millisec", &s.Notify.PollTimeoutMillisec)
	envOverride("github", "address", &s.GitHub.Address)
	envOverride("github", "auth_token", &s.GitHub.AuthToken)
	envOverrideInt("monitor", "poll_interval_seconds", &s.Monitor.PollIntervalSeconds)
	envOverride("log", "level", &s.Log.Level)
}

// Validate checks that the fields the core pipeline depends on are present.
func (s *Settings) Validate() error {
	if s.DatabaseURL == "" {
		return fmt.Errorf("config: database_url is required")
	}
	if s.Runner.NRunners <= 0 {
		return fmt.Errorf("config: runner.n_runners must be positive")
	}
	if s.Runner.TestConfig == "" {
		return fmt.Errorf("config: runner.test_config is required")
	}
	if s.Notify.Path == "" {
		return fmt.Errorf("config: notify.path is required")
	}
	if s.Notify.PollTimeoutMillisec <= 0 {
		s.Notify.PollTimeoutMillisec = 5000
	}
	if s.Runner.DatabasePollIntervalSecond <= 0 {
		s.Runner.DatabasePollIntervalSecond = 5
	}
	if s.Runner.MDSettings.TruncateLen <= 0 {
		s.Runner.MDSettings.TruncateLen = 4000
	}
	if s.Runner.MDSettings.SymbolOK == "" {
		s.Runner.MDSettings.SymbolOK = "✅"
	}
	if s.Runner.MDSettings.SymbolSkipped == "" {
		s.Runner.MDSettings.SymbolSkipped = "⏭️"
	}
	if s.Runner.MDSettings.SymbolFailed == "" {
		s.Runner.MDSettings.SymbolFailed = "❌"
	}
	if s.Runner.MDSettings.SymbolBuild == "" {
		s.Runner.MDSettings.SymbolBuild = "🔨"
	}
	if s.Runner.MDSettings.SymbolTagSuccess == "" {
		s.Runner.MDSettings.SymbolTagSuccess = "🎉"
	}
	return nil
}
