package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"famdigest/internal/pipeline"
	"famdigest/internal/snapshot"
)

func newPreviewWeekCmd(root *rootOptions) *cobra.Command {
	var (
		mode string
		wk   int
		year int
	)
	cmd := &cobra.Command{
		Use:   "preview-week",
		Short: "Print the week a run would cover",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := pipeline.ParseMode(mode)
			if err != nil {
				return err
			}
			if year != 0 && wk == 0 {
				return errors.New("--year requires --week")
			}
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			runner, err := pipeline.NewRunner(cfg, &snapshot.MemoryStore{}, nil, nil)
			if err != nil {
				return err
			}
			target, err := runner.ResolveTarget(pipeline.Options{Mode: m, Week: wk, Year: year})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s – %s (%s)\n",
				target.String(),
				target.Monday.Format("2006-01-02"),
				target.Sunday.Format("2006-01-02"),
				target.Timezone,
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(pipeline.ModeFull), "Resolve as this run mode: full or check-updates")
	cmd.Flags().IntVar(&wk, "week", 0, "ISO week (default: resolved from today)")
	cmd.Flags().IntVar(&year, "year", 0, "ISO year for --week (default: current)")
	return cmd
}
