package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bindery/internal/config"
	"bindery/internal/integrity"
)

func newCoverageCommand(ctx *commandContext) *cobra.Command {
	var entityFiles []string
	var targetFiles []string
	var backfill bool
	var backfillInto string
	var allow []string
	var reportPath string

	cmd := &cobra.Command{
		Use:   "coverage [artifact...]",
		Short: "Check that every referenced target has a matching entity",
		Long:  "Collect entity ids and target references from JSON and JSONL artifacts, then report referenced targets with no matching entity. Positional artifacts contribute both sides; --entities and --targets scope files to one side. Missing targets fail the check unless backfilled or allowed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(entityFiles) == 0 && len(targetFiles) == 0 {
				return fmt.Errorf("at least one artifact is required (positional, --entities, or --targets)")
			}

			expand := func(raw []string) ([]string, error) {
				paths := make([]string, 0, len(raw))
				for _, arg := range raw {
					path, err := config.ExpandPath(arg)
					if err != nil {
						return nil, err
					}
					paths = append(paths, path)
				}
				return paths, nil
			}

			shared, err := expand(args)
			if err != nil {
				return err
			}
			entityPaths, err := expand(entityFiles)
			if err != nil {
				return err
			}
			targetPaths, err := expand(targetFiles)
			if err != nil {
				return err
			}

			entityIDs, targetIDs, err := integrity.CollectIDs(shared)
			if err != nil {
				return err
			}
			if len(entityPaths) > 0 {
				ids, _, err := integrity.CollectIDs(entityPaths)
				if err != nil {
					return err
				}
				entityIDs = append(entityIDs, ids...)
			}
			if len(targetPaths) > 0 {
				_, refs, err := integrity.CollectIDs(targetPaths)
				if err != nil {
					return err
				}
				targetIDs = append(targetIDs, refs...)
			}

			report, stubs, checkErr := integrity.Check(entityIDs, targetIDs, integrity.Options{
				Backfill: backfill,
				Allow:    allow,
			})

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Entities: %d  Targets: %d  Present: %d  Missing: %d  Hit rate: %.1f%%\n",
				report.EntityCount, report.TargetCount, report.PresentCount, report.MissingCount, report.HitRate*100)
			for _, id := range report.MissingSample {
				fmt.Fprintf(out, "  missing: %s\n", id)
			}
			if report.MissingCount > len(report.MissingSample) {
				fmt.Fprintf(out, "  ... and %d more\n", report.MissingCount-len(report.MissingSample))
			}

			if reportPath != "" {
				expanded, err := config.ExpandPath(reportPath)
				if err != nil {
					return err
				}
				if err := integrity.WriteReport(expanded, report); err != nil {
					return err
				}
				fmt.Fprintf(out, "Report written to %s\n", expanded)
			}

			if backfill && len(stubs) > 0 {
				target := backfillInto
				if target == "" {
					switch {
					case len(entityPaths) > 0:
						target = entityPaths[0]
					case len(shared) > 0:
						target = shared[0]
					default:
						return fmt.Errorf("--backfill needs an entity artifact to receive stubs (--backfill-into)")
					}
				}
				expanded, err := config.ExpandPath(target)
				if err != nil {
					return err
				}
				if err := integrity.AppendStubs(expanded, stubs); err != nil {
					return err
				}
				fmt.Fprintf(out, "Backfilled %d stub entities into %s\n", len(stubs), expanded)
			}

			return checkErr
		},
	}

	cmd.Flags().StringSliceVar(&entityFiles, "entities", nil, "Artifacts that contribute entity ids only")
	cmd.Flags().StringSliceVar(&targetFiles, "targets", nil, "Artifacts that contribute target references only")
	cmd.Flags().BoolVar(&backfill, "backfill", false, "Synthesize stub entities for missing targets instead of failing")
	cmd.Flags().StringVar(&backfillInto, "backfill-into", "", "Artifact that receives backfilled stubs (default: first entity artifact)")
	cmd.Flags().StringSliceVar(&allow, "allow-missing", nil, "Target ids tolerated as residual gaps")
	cmd.Flags().StringVar(&reportPath, "report", "", "Write the coverage report JSON to this path")
	return cmd
}
