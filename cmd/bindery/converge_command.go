package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"bindery/internal/pipeline"
)

func newConvergeCommand(ctx *commandContext) *cobra.Command {
	var settings runSettings
	var spec pipeline.ConvergeSpec
	var runFirst bool

	cmd := &cobra.Command{
		Use:   "converge",
		Short: "Drive a detect/validate/escalate loop to a clean dataset",
		Long:  "Repeat a recipe's detect, validate, and optional escalate stages until validation reports no gaps or the attempt budget is exhausted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			exec, cleanup, err := settings.buildExecutor(ctx, true)
			if err != nil {
				return err
			}
			defer cleanup()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if runFirst {
				if err := exec.Run(runCtx); err != nil {
					return err
				}
			}

			outcome, err := exec.Converge(runCtx, spec)
			out := cmd.OutOrStdout()
			if err != nil {
				fmt.Fprintf(out, "Did not converge after %d attempts; last report: %s\n", outcome.Attempts, outcome.Final.ReportPath)
				return err
			}
			fmt.Fprintf(out, "Converged after %d attempts\n", outcome.Attempts)
			return nil
		},
	}

	bindRunFlags(cmd, &settings)
	cmd.Flags().StringVar(&spec.DetectStage, "detect", "", "Stage that regenerates the dataset")
	cmd.Flags().StringVar(&spec.ValidateStage, "validate", "", "Stage whose JSON artifact reports missing and invalid ids")
	cmd.Flags().StringVar(&spec.EscalateStage, "escalate", "", "Stage invoked with the outstanding ids between attempts")
	cmd.Flags().IntVar(&spec.MaxAttempts, "max-attempts", 0, "Attempt budget (0 uses the configured value)")
	cmd.Flags().StringSliceVar(&spec.Allow, "allow", nil, "Target ids tolerated as residual gaps")
	cmd.Flags().BoolVar(&runFirst, "full-run", false, "Execute the whole recipe before starting the loop")
	_ = cmd.MarkFlagRequired("detect")
	_ = cmd.MarkFlagRequired("validate")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if spec.MaxAttempts == 0 {
			if cfg, err := ctx.ensureConfig(); err == nil {
				spec.MaxAttempts = cfg.Converge.MaxAttempts
			}
		}
		return nil
	}
	return cmd
}
