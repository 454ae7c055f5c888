package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshp123/gohome-electra/internal/config"
	"github.com/joshp123/gohome-electra/internal/core"
	"github.com/joshp123/gohome-electra/internal/entry"
	"github.com/joshp123/gohome-electra/internal/flow"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "gohome",
	Short:         "GoHome daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", envOrDefault("GOHOME_CONFIG", config.DefaultPath), "path to config.yaml")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(setupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// newHost builds the entry store (with the optional S3 mirror) and the
// flow manager shared by all plugins.
func newHost(cfg *config.Config, logger *slog.Logger) (core.Host, error) {
	var blob entry.BlobStore
	if cfg.Entries.BlobEnabled() {
		store, err := entry.NewS3Store(cfg.Entries)
		if err != nil {
			return core.Host{}, fmt.Errorf("entry mirror: %w", err)
		}
		blob = store
	}

	entries := entry.NewStore(cfg.Entries.Dir, blob)
	return core.Host{
		Entries: entries,
		Flows:   flow.NewManager(entries),
		Logger:  logger,
	}, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
