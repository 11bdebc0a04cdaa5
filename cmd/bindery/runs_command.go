package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context())
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
				return nil
			}

			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					run.RunID,
					string(run.Status),
					run.RecipePath,
					formatTime(run.CreatedAt),
					formatTime(run.UpdatedAt),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Run", "Status", "Recipe", "Created", "Updated"},
				rows,
				nil,
			))
			return nil
		},
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
