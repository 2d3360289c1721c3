package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/maestro-run/maestro/internal/config"
	"github.com/maestro-run/maestro/internal/history"
)

func newHistoryCmd(root *rootFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent plan executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(root.configPath)
			if err != nil {
				return err
			}
			if cfg.Settings.HistoryPath == "" {
				return fmt.Errorf("history persistence is disabled; set history_path in the configuration")
			}

			store, err := history.Open(cmd.Context(), cfg.Settings.HistoryPath)
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck

			records, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no executions recorded")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FINISHED\tSTATUS\tMODE\tSTEPS\tDURATION\tQUERY")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d/%d\t%s\t%s\n",
					r.FinishedAt.Local().Format(time.DateTime),
					r.Status,
					r.Mode,
					r.CompletedSteps, r.FailedSteps, r.SkippedSteps,
					r.Duration.Round(time.Millisecond),
					r.Query,
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of executions to show")

	return cmd
}
