package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newPlanCommand(ctx *commandContext) *cobra.Command {
	var settings runSettings

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show a recipe's execution plan",
		Long:  "Validate a recipe and print its batched execution order with the exact module invocation each stage would run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return renderPlan(cmd, ctx, &settings)
		},
	}

	bindRunFlags(cmd, &settings)
	return cmd
}

func renderPlan(cmd *cobra.Command, ctx *commandContext, settings *runSettings) error {
	exec, cleanup, err := settings.buildExecutor(ctx, false)
	if err != nil {
		return err
	}
	defer cleanup()

	var resolve func(moduleID string) (string, error)
	if reg := settings.registry(); reg != nil {
		resolve = reg.Resolve
	}
	plan, err := exec.Plan(resolve)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(plan))
	for _, p := range plan {
		rows = append(rows, []string{
			strconv.Itoa(p.Batch),
			p.StageID,
			p.Kind,
			p.ModuleID,
			p.Artifact,
			p.Command,
		})
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderTable(
		[]string{"Batch", "Stage", "Kind", "Module", "Artifact", "Command"},
		rows,
		[]columnAlignment{alignRight},
	))
	return nil
}
