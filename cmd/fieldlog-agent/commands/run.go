package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hydrangeas/fieldlog-agent/internal/config"
	"github.com/hydrangeas/fieldlog-agent/internal/supervisor"
	"github.com/hydrangeas/fieldlog-agent/internal/telemetry"
)

var logLevel string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent in the foreground until terminated",
	Long: `Run loads configuration (FIELDLOG_ environment variables override the
--config file, which overrides built-in defaults), then starts the watcher,
batch processor, uploader, and health server. It blocks until SIGINT or
SIGTERM, then runs the graceful drain sequence before exiting.`,
	RunE: runAgent,
}

func init() {
	runCmd.Flags().StringVar(&logLevel, "log-level", "info", "trace|debug|info|warn|error")
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile(), cmd.Flags())
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(supervisor.ExitConfigError)
	}

	logger := telemetry.NewStdLogger(os.Stderr, parseLevel(logLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup, err := supervisor.New(ctx, cfg, telemetry.SystemClock{}, logger)
	if err != nil {
		logger.Error("failed to initialize agent", map[string]any{"error": err.Error()})
		os.Exit(supervisor.ExitFatalInit)
	}

	logger.Info("fieldlog-agent starting", map[string]any{
		"monitoring_paths": cfg.MonitoringPaths,
		"health_addr":      cfg.HealthAddr,
	})

	code := sup.Run(ctx)
	logger.Info("fieldlog-agent stopped", map[string]any{"exit_code": code})
	os.Exit(code)
	return nil
}

func parseLevel(s string) telemetry.Level {
	switch s {
	case "trace":
		return telemetry.LevelTrace
	case "debug":
		return telemetry.LevelDebug
	case "warn":
		return telemetry.LevelWarn
	case "error":
		return telemetry.LevelError
	default:
		return telemetry.LevelInfo
	}
}
