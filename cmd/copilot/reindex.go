package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newReindexCmd(cfgPath *string) *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the indexed operation summaries of every copilot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if batch <= 0 {
				batch = cfg.Reindex.BatchSize
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.copilots.ReindexAll(cmd.Context(), batch)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reindexed %d copilots (%d endpoints, %d failed) in %s\n",
				rep.Bots, rep.Indexed, rep.Failed, rep.Duration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().IntVar(&batch, "batch-size", 0, "copilots per batch (defaults to reindex.batch_size)")
	return cmd
}
