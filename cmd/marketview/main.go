// Command marketview serves resilient CoinGecko market views. It loads
// configuration, validates it, wires dependencies, sets up signal handling,
// and runs the requested subcommand.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blockclass/marketview/internal/app"
	"github.com/blockclass/marketview/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "marketview",
	Short:        "Crypto market views that survive a flaky upstream.",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, websocket hub and background refresh.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.Serve(ctx)
		})
	},
}

var coinCmd = &cobra.Command{
	Use:   "coin <id>",
	Short: "Load one asset and print its resolved view as JSON.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.Coin(ctx, strings.TrimSpace(args[0]), cmd.OutOrStdout())
		})
	},
}

var marketsCmd = &cobra.Command{
	Use:   "markets",
	Short: "Print the top market list.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.Markets(ctx, cmd.OutOrStdout())
		})
	},
}

var snapshotPrefix string

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List stored snapshot keys.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.Snapshots(ctx, snapshotPrefix, cmd.OutOrStdout())
		})
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Copy the current snapshots to object storage once.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.Archive(ctx, cmd.OutOrStdout())
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a TOML configuration file")
	snapshotsCmd.Flags().StringVarP(&snapshotPrefix, "prefix", "p", "cg_", "only list keys with this prefix")

	rootCmd.AddCommand(serveCmd, coinCmd, marketsCmd, snapshotsCmd, archiveCmd)
}

// withApp loads and validates the configuration, builds the logger and runs
// fn with an App bound to a signal-aware context.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Commands that print results keep stdout clean; logs go to stderr.
	out := os.Stdout
	if cmd.Name() != "serve" {
		out = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Debug("configuration loaded",
		slog.String("config", configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := app.New(cfg, logger)
	defer a.Close()

	return fn(ctx, a)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
