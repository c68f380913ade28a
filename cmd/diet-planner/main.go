// Command diet-planner serves the plan generation API and exposes
// maintenance commands.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ai-diet-planner/internal/app"
	"ai-diet-planner/internal/config"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	envFile  string
	logLevel string
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:           "diet-planner",
		Short:         "Personalised diet plan generation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "Path to a .env file")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		serveCmd(g),
		seedPromptsCmd(g),
		answersCmd(g),
		generateCmd(g),
		nutrientCmd(g),
		usageCmd(g),
		metricsCleanupCmd(g),
		tokenCmd(g),
		pollCmd(g),
	)
	return cmd
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

func loadConfig(g *globalFlags) (*config.Config, *slog.Logger, error) {
	logger := newLogger(g.logLevel)
	if err := config.LoadDotEnv(g.envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := config.NewFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, logger, nil
}

// withApp builds the application, runs fn and closes it.
func withApp(ctx context.Context, g *globalFlags, fn func(context.Context, *app.App) error) error {
	cfg, logger, err := loadConfig(g)
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("failed to close application", "error", err)
		}
	}()
	return fn(ctx, a)
}
