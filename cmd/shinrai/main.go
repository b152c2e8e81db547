// Command shinrai serves the accountability engine and runs its batch jobs
// from the command line.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configFile string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "shinrai",
		Short:         "Accountability scoring and flag detection for grant programs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			// Load .env file if present (non-fatal; production won't have one).
			_ = godotenv.Load()
			if g.configFile != "" {
				return os.Setenv("SHINRAI_CONFIG", g.configFile)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&g.configFile, "config", "", "YAML config file (overrides SHINRAI_CONFIG)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error (default SHINRAI_LOG_LEVEL or info)")

	root.AddCommand(
		serveCmd(&g),
		detectCmd(&g),
		recalculateCmd(&g),
		publishCmd(&g),
		migrateCmd(&g),
		tokenCmd(),
		keygenCmd(),
		versionCmd(),
	)
	return root
}

// logger builds the JSON slog logger. Batch commands log to stderr so their
// stdout stays machine readable.
func (g *globalFlags) logger(w io.Writer) *slog.Logger {
	level := g.logLevel
	if level == "" {
		level = os.Getenv("SHINRAI_LOG_LEVEL")
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
