package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var settings runSettings
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a recipe",
		Long:  "Execute a recipe end to end: schedule its stages in dependency order, invoke their modules, and record progress in the run ledger.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryRun {
				return renderPlan(cmd, ctx, &settings)
			}

			exec, cleanup, err := settings.buildExecutor(ctx, true)
			if err != nil {
				return err
			}
			defer cleanup()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := exec.Run(runCtx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Run completed; outputs in %s\n", exec.OutputDir())
			return nil
		},
	}

	bindRunFlags(cmd, &settings)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print planned invocations without executing")
	return cmd
}

func bindRunFlags(cmd *cobra.Command, settings *runSettings) {
	cmd.Flags().StringVarP(&settings.recipePath, "recipe", "r", "", "Recipe file (YAML)")
	cmd.Flags().StringVarP(&settings.outDir, "out", "o", "", "Output directory override")
	cmd.Flags().StringVar(&settings.registryDir, "registry", "", "Module registry directory override")
	cmd.Flags().BoolVar(&settings.mock, "mock", false, "Substitute deterministic mock producers for every module")
	cmd.Flags().BoolVar(&settings.skipDone, "skip-done", false, "Reuse stage artifacts that already exist")
	cmd.Flags().BoolVar(&settings.continueOn, "continue-on-error", false, "Skip a failed stage's downstream and keep unaffected branches running")
	cmd.Flags().IntVar(&settings.parallelism, "parallelism", 0, "Concurrent stages per batch (0 uses the configured value)")
	_ = cmd.MarkFlagRequired("recipe")
}
