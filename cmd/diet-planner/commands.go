package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ai-diet-planner/internal/api"
	"ai-diet-planner/internal/app"
	"ai-diet-planner/internal/planner"
	"ai-diet-planner/internal/poller"
	"ai-diet-planner/internal/prompts"
)

func seedPromptsCmd(g *globalFlags) *cobra.Command {
	var (
		overwrite bool
		file      string
	)
	cmd := &cobra.Command{
		Use:   "seed-prompts",
		Short: "Store the plan prompt templates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat := prompts.DefaultCatalog()
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", file, err)
				}
				if cat, err = prompts.LoadCatalog(data); err != nil {
					return err
				}
			}
			return withApp(cmd.Context(), g, func(ctx context.Context, a *app.App) error {
				written, err := a.SeedPrompts(ctx, cat, overwrite)
				if err != nil {
					return fmt.Errorf("failed to seed prompts: %w", err)
				}
				if len(written) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "All templates already present. Use --overwrite to replace them.")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stored templates: %s\n", strings.Join(written, ", "))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace templates that already exist")
	cmd.Flags().StringVar(&file, "file", "", "YAML catalogue to load instead of the built-in one")
	return cmd
}

func answersCmd(g *globalFlags) *cobra.Command {
	var (
		userID string
		file   string
	)
	cmd := &cobra.Command{
		Use:   "answers",
		Short: "Store a user's initial questionnaire answers from a JSON file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", file, err)
			}
			var answers planner.Answers
			if err := json.Unmarshal(data, &answers); err != nil {
				return fmt.Errorf("answers must be a JSON object: %w", err)
			}
			return withApp(cmd.Context(), g, func(ctx context.Context, a *app.App) error {
				return a.Orchestrator.SaveAnswers(ctx, userID, answers)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id")
	cmd.Flags().StringVar(&file, "file", "", "JSON file with the answers")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func generateCmd(g *globalFlags) *cobra.Command {
	var req planner.Request
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a plan synchronously and print it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), g, func(ctx context.Context, a *app.App) error {
				rec, err := a.Orchestrator.Run(ctx, req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Status: %s\n", rec.Status)
				if rec.Message != "" {
					fmt.Fprintf(out, "Message: %s\n", rec.Message)
				}
				if rec.Status != planner.StatusReady {
					return fmt.Errorf("plan generation finished with status %s", rec.Status)
				}
				plan, err := a.Orchestrator.Plan(ctx, req.UserID)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				enc.SetEscapeHTML(false)
				return enc.Encode(plan.Sections)
			})
		},
	}
	cmd.Flags().StringVar(&req.UserID, "user", "", "User id")
	cmd.Flags().StringVar(&req.Reason, "reason", "", "Why the plan is being (re)generated")
	cmd.Flags().StringVar(&req.PriorityGuidance, "priority", "", "Priority guidance for the model")
	cmd.Flags().BoolVar(&req.Force, "force", false, "Regenerate every section")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func nutrientCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "nutrient <food>",
		Short: "Look up calories and macros for a food description",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			food := strings.Join(args, " ")
			return withApp(cmd.Context(), g, func(ctx context.Context, a *app.App) error {
				m, err := a.Nutrients.Lookup(ctx, food)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %.0f kcal, protein %.1fg, carbs %.1fg, fat %.1fg\n",
					m.Food, m.Calories, m.Protein, m.Carbs, m.Fat)
				return nil
			})
		},
	}
}

func usageCmd(g *globalFlags) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Print model token usage per day",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), g, func(ctx context.Context, a *app.App) error {
				usage, err := a.Metrics.GetDailyUsage(ctx, days)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(usage) == 0 {
					fmt.Fprintln(out, "No usage recorded.")
				}
				for _, d := range usage {
					fmt.Fprintf(out, "%s  prompt=%d completion=%d executions=%d\n",
						d.Date, d.TotalPrompt, d.TotalCompletion, d.TotalExecution)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "Number of days to report")
	return cmd
}

func metricsCleanupCmd(g *globalFlags) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "metrics-cleanup",
		Short: "Delete execution metrics older than --days",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days <= 0 {
				return errors.New("--days must be positive")
			}
			return withApp(cmd.Context(), g, func(ctx context.Context, a *app.App) error {
				n, err := a.Metrics.Cleanup(ctx, days)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d metric rows.\n", n)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "Retention in days")
	return cmd
}

func tokenCmd(g *globalFlags) *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(g)
			if err != nil {
				return err
			}
			verifier := api.NewVerifier(cfg.JWTSecret)
			if verifier == nil {
				return errors.New("JWT_SECRET is not set")
			}
			token, err := verifier.Sign(userID, ttl)
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func pollCmd(g *globalFlags) *cobra.Command {
	var (
		server   string
		token    string
		interval time.Duration
		req      planner.Request
	)
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Trigger generation on a running server and follow its status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(g.logLevel)
			client := poller.NewHTTPClient(server, token, nil)
			ui := &terminalUI{out: cmd.OutOrStdout()}

			ok, err := poller.Gate(cmd.Context(), client, req.UserID, ui)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("prerequisites not met")
			}

			p := &poller.Poller{Interval: interval, Fetch: client, UI: ui, Logger: logger}
			status, err := p.Generate(cmd.Context(), client, req)
			if err != nil {
				return err
			}
			if status != planner.StatusReady {
				return fmt.Errorf("plan generation finished with status %s", status)
			}
			plan, err := client.Plan(cmd.Context(), req.UserID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			return enc.Encode(plan.Sections)
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "API base URL")
	cmd.Flags().StringVar(&token, "token", os.Getenv("DIET_PLANNER_TOKEN"), "Bearer token")
	cmd.Flags().DurationVar(&interval, "interval", poller.DefaultInterval, "Polling interval")
	cmd.Flags().StringVar(&req.UserID, "user", "", "User id")
	cmd.Flags().StringVar(&req.Reason, "reason", "", "Why the plan is being (re)generated")
	cmd.Flags().StringVar(&req.PriorityGuidance, "priority", "", "Priority guidance for the model")
	cmd.Flags().BoolVar(&req.Force, "force", false, "Regenerate every section")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
