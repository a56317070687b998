package cli

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	appLog "famdigest/internal/log"
	"famdigest/internal/metrics"
	"famdigest/internal/notify"
	"famdigest/internal/pipeline"
	"famdigest/internal/schedule"
	"famdigest/internal/snapshot"
	"famdigest/internal/web"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled digests and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			if err := cfg.Validate(true); err != nil {
				return err
			}

			store, err := snapshot.OpenBadger(cfg.SnapshotDir)
			if err != nil {
				return err
			}
			defer store.Close()

			reg := prometheus.NewRegistry()
			sender := notify.NewDiscordWebhook(cfg.WebhookURL, cfg.FetchTimeout)
			runner, err := pipeline.NewRunner(cfg, store, sender, metrics.NewCollector(reg))
			if err != nil {
				return err
			}
			srv := web.NewServer(cfg, runner, reg)

			sched := schedule.New(runner.Location())
			if err := sched.Add(string(pipeline.ModeFull), cfg.Schedule.Full, scheduledRun(runner, srv, pipeline.ModeFull)); err != nil {
				return err
			}
			if err := sched.Add(string(pipeline.ModeCheckUpdates), cfg.Schedule.Check, scheduledRun(runner, srv, pipeline.ModeCheckUpdates)); err != nil {
				return err
			}

			ctx := cmd.Context()
			sched.Start(ctx)
			defer sched.Stop()

			appLog.Info("famdigest serving",
				"listen", cfg.Listen,
				"timezone", cfg.Timezone,
				"full", cfg.Schedule.Full,
				"check", cfg.Schedule.Check,
			)
			err = web.ListenAndServe(ctx, cfg.Listen, srv.Handler())
			appLog.Info("famdigest exiting")
			return err
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}

func scheduledRun(runner *pipeline.Runner, srv *web.Server, mode pipeline.Mode) schedule.Job {
	return func(ctx context.Context) error {
		res, err := runner.Run(ctx, pipeline.Options{Mode: mode})
		srv.RecordRun(res, err)
		return err
	}
}
