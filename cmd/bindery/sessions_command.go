package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"bindery/internal/config"
	"bindery/internal/progress"
)

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	var restartGap time.Duration
	var stallGap time.Duration

	cmd := &cobra.Command{
		Use:   "sessions <progress-log>",
		Short: "Summarize working sessions from a progress log",
		Long:  "Group a progress log's events into per-stage working sessions, splitting where the gap between events indicates a restart or a stall.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			if filepath.Ext(path) == "" {
				path = filepath.Join(path, "progress.jsonl")
			}

			opts := progress.DefaultAnalyzerOptions()
			cfg := ctx.configValue()
			if cfg != nil {
				if cfg.Sessions.RestartGapSeconds > 0 {
					opts.RestartGap = time.Duration(cfg.Sessions.RestartGapSeconds) * time.Second
				}
				if cfg.Sessions.StallGapHours > 0 {
					opts.StallGap = time.Duration(cfg.Sessions.StallGapHours) * time.Hour
				}
			}
			if restartGap > 0 {
				opts.RestartGap = restartGap
			}
			if stallGap > 0 {
				opts.StallGap = stallGap
			}

			reports, err := progress.AnalyzeFile(path, opts)
			if err != nil {
				return err
			}
			if len(reports) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No progress events found")
				return nil
			}

			rows := make([][]string, 0, len(reports))
			var total time.Duration
			for _, report := range reports {
				total += report.TotalDuration()
				events := 0
				for _, s := range report.Sessions {
					events += s.Events
				}
				rows = append(rows, []string{
					report.Label,
					strconv.Itoa(events),
					strconv.Itoa(report.SessionCount()),
					formatDuration(report.TotalDuration()),
					strconv.Itoa(report.Skipped),
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"Stage", "Events", "Sessions", "Active Time", "Skipped"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
			))
			fmt.Fprintf(out, "Total active time: %s\n", formatDuration(total))
			return nil
		},
	}

	cmd.Flags().DurationVar(&restartGap, "restart-gap", 0, "Gap after a terminal event that starts a new session")
	cmd.Flags().DurationVar(&stallGap, "stall-gap", 0, "Gap after a running event that counts as a stall")
	return cmd
}

func formatDuration(d time.Duration) string {
	return d.Round(time.Second).String()
}
