package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kth-id2202/autograder/pkg/config"
	"github.com/kth-id2202/autograder/pkg/container"
	"github.com/kth-id2202/autograder/pkg/executor"
	"github.com/kth-id2202/autograder/pkg/log"
	"github.com/kth-id2202/autograder/pkg/metrics"
	"github.com/kth-id2202/autograder/pkg/notifier"
	"github.com/kth-id2202/autograder/pkg/notify"
	"github.com/kth-id2202/autograder/pkg/store"
	"github.com/kth-id2202/autograder/pkg/supervisor"
	"github.com/kth-id2202/autograder/pkg/testconfig"
	"github.com/kth-id2202/autograder/pkg/worker"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var settingsPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "autograder",
	Short:   "Multi-worker autograding orchestrator",
	Long:    `autograder grades submissions pushed to a version-control host inside isolated containers and reports results back to the submitter.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"autograder version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "settings.toml", "path to the TOML settings file")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(validateSettingsCmd)
	rootCmd.AddCommand(checkDatabaseCmd)
	rootCmd.AddCommand(testNotifyCmd)
	rootCmd.AddCommand(testPodmanCmd)
	rootCmd.AddCommand(testSyscommandCmd)
}

func initLogging(settings *config.Settings) {
	jsonOutput := settings.Log.JSONOutput
	level := log.Level(settings.Log.Level)
	if level == "" {
		level = log.InfoLevel
	}

	var output *os.File
	if settings.Log.File != "" {
		f, err := os.OpenFile(settings.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			output = f
		}
	}
	if output != nil {
		log.Init(log.Config{Level: level, JSONOutput: jsonOutput, Output: output})
	} else {
		log.Init(log.Config{Level: level, JSONOutput: jsonOutput})
	}
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the orchestrator",
	Long: `start runs one of three roles, chosen by the AUTOGRADER_ROLE environment
variable set by the process supervisor on re-exec:

  (unset)  the supervisor itself: spawns and restarts an ingress child and
           n_runners worker children, and exposes Prometheus metrics.
  ingress  the webhook-ingress child's process slot; its HTTP handling is an
           external collaborator and is not implemented here.
  worker   one grading worker, identified by AUTOGRADER_WORKER_ID.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		switch os.Getenv(supervisor.RoleEnv) {
		case supervisor.RoleWorker:
			return runWorkerRole()
		case supervisor.RoleIngress:
			return runIngressRole()
		default:
			return runSupervisorRole()
		}
	},
}

func waitForSignal(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}

func runSupervisorRole() error {
	settings, err := config.Load(settingsPath)
	if err != nil {
		return err
	}
	initLogging(settings)

	go serveMetrics()

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving own executable path: %w", err)
	}

	sup := supervisor.New(
		exe,
		settingsPath,
		settings.Runner.NRunners,
		settings.Notify.Path,
		time.Duration(settings.Runner.DatabasePollIntervalSecond)*time.Second,
		log.Logger,
	)

	ctx := waitForSignal(context.Background())
	return sup.Run(ctx)
}

// serveMetrics exposes /metrics on a fixed diagnostic port; failures are
// logged but never fatal, since grading must proceed without monitoring.
func serveMetrics() {
	const addr = "127.0.0.1:9090"
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	log.Logger.Info().Str("addr", addr).Msg("serving /metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Logger.Error().Err(err).Msg("metrics server stopped")
	}
}

func runIngressRole() error {
	settings, err := config.Load(settingsPath)
	if err != nil {
		return err
	}
	initLogging(settings)

	log.Logger.Warn().Msg("ingress role holds its process slot but has no webhook handler; see pkg/supervisor/doc.go")
	<-waitForSignal(context.Background()).Done()
	return nil
}

func runWorkerRole() error {
	settings, err := config.Load(settingsPath)
	if err != nil {
		return err
	}
	initLogging(settings)

	id, err := strconv.Atoi(os.Getenv(supervisor.WorkerIDEnv))
	if err != nil {
		return fmt.Errorf("reading %s: %w", supervisor.WorkerIDEnv, err)
	}

	st, err := store.Open(settings.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()

	tc, err := testconfig.Load(settings.Runner.TestConfig)
	if err != nil {
		return fmt.Errorf("loading test configuration: %w", err)
	}

	drv := container.New("podman")
	nc := notifier.New(notifier.Config{
		Address:          settings.GitHub.Address,
		AuthToken:        settings.GitHub.AuthToken,
		CommentSignature: settings.GitHub.CommentSignature,
	})

	w := worker.New(id, st, tc, drv, nc, settings)

	ctx := waitForSignal(context.Background())
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("starting worker %d: %w", id, err)
	}

	<-ctx.Done()
	w.Stop()
	return nil
}

var validateSettingsCmd = &cobra.Command{
	Use:   "validate-settings",
	Short: "Load and validate the settings file without starting anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(settingsPath); err != nil {
			return err
		}
		fmt.Println("settings OK")
		return nil
	},
}

var checkDatabaseCmd = &cobra.Command{
	Use:   "check-database",
	Short: "Open the submissions database and report whether it is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Load(settingsPath)
		if err != nil {
			return err
		}
		st, err := store.Open(settings.DatabaseURL)
		if err != nil {
			return err
		}
		defer st.Close()
		fmt.Println("database OK")
		return nil
	},
}

var testNotifyCmd = &cobra.Command{
	Use:   "test-notify",
	Short: "Ping the notification bus and report whether the file is writable",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Load(settingsPath)
		if err != nil {
			return err
		}
		if err := notify.VerifyPath(settings.Notify.Path); err != nil {
			return err
		}
		fmt.Println("notify OK")
		return nil
	},
}

var testPodmanCmd = &cobra.Command{
	Use:   "test-podman",
	Short: "List podman images and report whether the grading image is present",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Load(settingsPath)
		if err != nil {
			return err
		}
		drv := container.New("podman")
		images, err := drv.Images(context.Background())
		if err != nil {
			return err
		}
		if !images[settings.Runner.PodmanImage] {
			return fmt.Errorf("test-podman: image %q not present locally (run `podman pull %s`)", settings.Runner.PodmanImage, settings.Runner.PodmanImage)
		}
		fmt.Println("podman OK")
		return nil
	},
}

var testSyscommandCmd = &cobra.Command{
	Use:   "test-syscommand",
	Short: "Run a trivial captured command through the executor and report its output",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := executor.Run(context.Background(), []string{"echo", "autograder"}, executor.Options{
			Timeout:   5 * time.Second,
			MaxStdout: 1024,
			MaxStderr: 1024,
		})
		if err != nil {
			return err
		}
		fmt.Printf("syscommand OK: %s", res.Stdout)
		return nil
	},
}
