package cli

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"famdigest/internal/config"
	appLog "famdigest/internal/log"
	"famdigest/internal/metrics"
	"famdigest/internal/notify"
	"famdigest/internal/pipeline"
	"famdigest/internal/snapshot"
)

type runOptions struct {
	mode   string
	week   int
	year   int
	dryRun bool
	output string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build and deliver one digest or update check",
		Long: `Run builds the digest for the coming week ("full") or checks the current
week for changes since the last snapshot ("check-updates").

With --dry-run nothing is delivered and the snapshot is left alone; the body
is printed, or written to the file given with -o. Without --dry-run, -o
replaces the Discord webhook as the delivery target.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.mode, "mode", string(pipeline.ModeFull), "Run mode: full or check-updates")
	cmd.Flags().IntVar(&opts.week, "week", 0, "ISO week override (default: resolved from today)")
	cmd.Flags().IntVar(&opts.year, "year", 0, "ISO year for --week (default: current)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Print the result instead of delivering it")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write the result to this file")
	return cmd
}

func runRun(cmd *cobra.Command, root *rootOptions, opts *runOptions) error {
	mode, err := pipeline.ParseMode(opts.mode)
	if err != nil {
		return err
	}
	if opts.year != 0 && opts.week == 0 {
		return errors.New("--year requires --week")
	}

	cfg, err := loadConfig(cmd, root)
	if err != nil {
		return err
	}
	if err := cfg.Validate(!opts.dryRun && opts.output == ""); err != nil {
		return err
	}

	store, err := snapshot.OpenBadger(cfg.SnapshotDir)
	if err != nil {
		return err
	}
	defer store.Close()

	var out notify.Sender = notify.WriterSender{W: cmd.OutOrStdout()}
	if opts.output != "" {
		out = notify.FileSender{Path: opts.output}
	}
	var sender notify.Sender
	switch {
	case opts.dryRun:
	case opts.output != "":
		sender = out
	default:
		sender = notify.NewDiscordWebhook(cfg.WebhookURL, cfg.FetchTimeout)
	}

	reg := prometheus.NewRegistry()
	runner, err := pipeline.NewRunner(cfg, store, sender, metrics.NewCollector(reg))
	if err != nil {
		return err
	}

	res, runErr := runner.Run(cmd.Context(), pipeline.Options{
		Mode:   mode,
		Week:   opts.week,
		Year:   opts.year,
		DryRun: opts.dryRun,
	})
	writeMetrics(cfg, reg)
	if runErr != nil {
		return runErr
	}

	for _, d := range res.Diagnostics {
		appLog.Warn("source skipped", "source", d)
	}
	if opts.dryRun {
		if res.Body == "" {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: no changes\n", res.Target.String())
			return nil
		}
		return out.Send(cmd.Context(), res.Body)
	}
	return nil
}

func writeMetrics(cfg *config.Config, reg *prometheus.Registry) {
	if cfg.MetricsTextfile == "" {
		return
	}
	if err := metrics.WriteTextfile(cfg.MetricsTextfile, reg); err != nil {
		appLog.Warn("metrics textfile not written", "path", cfg.MetricsTextfile, "err", err)
	}
}
