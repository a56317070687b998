// Package cli implements the famdigest command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"famdigest/internal/config"
	appLog "famdigest/internal/log"
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "/etc/famdigest/config.yaml"

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd(version string) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "famdigest",
		Short: "Weekly family digest of school news and calendar events",
		Long: `famdigest collects the coming week's school announcements and calendar
events for each family member and posts a digest to a Discord webhook.

Run "famdigest serve" to schedule the Sunday digest and weekday update
checks, or "famdigest run" for a single run.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", DefaultConfigPath, "Path to config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (overrides config if set)")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newPreviewWeekCmd(opts))
	return cmd
}

// Execute runs the root command until it returns or SIGINT/SIGTERM
// cancels it.
func Execute(version string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(version).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// loadConfig reads the config file, overlays the environment and sets up
// logging on the command's stderr.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	config.ApplyEnv(cfg)
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	appLog.Setup(cmd.ErrOrStderr(), cfg.LogLevel)

	appLog.Debug("effective config",
		"config_path", opts.configPath,
		"timezone", cfg.Timezone,
		"language", cfg.Language,
		"people", len(cfg.People),
		"calendars", len(cfg.Calendars),
		"llm", cfg.LLM.Enabled,
		"webhook_set", cfg.WebhookURL != "",
	)
	return cfg, nil
}
