package pipeline

import (
	"fmt"
	"strings"

	"bindery/internal/module"
)

// Planned describes one invocation the executor would perform, for dry runs.
type Planned struct {
	Batch    int
	StageID  string
	Kind     string
	ModuleID string
	Command  string
	Artifact string
}

// Plan renders the planned invocation for every stage in execution order
// without executing anything or touching the ledger.
func (e *Executor) Plan(resolve func(moduleID string) (string, error)) ([]Planned, error) {
	var plan []Planned
	for bi, batch := range e.batches {
		for _, id := range batch {
			stage, ok := e.rec.StageByID(id)
			if !ok {
				return nil, fmt.Errorf("stage %q missing from recipe", id)
			}
			inv := e.invocation(stage)

			command := "(mock) " + stage.Module
			if !e.opts.Mock && resolve != nil {
				binary, err := resolve(stage.Module)
				if err != nil {
					return nil, err
				}
				command = module.NewCLI(binary).CommandLine(inv)
			}

			plan = append(plan, Planned{
				Batch:    bi + 1,
				StageID:  stage.ID,
				Kind:     string(stage.Kind),
				ModuleID: stage.Module,
				Command:  command,
				Artifact: e.ArtifactPath(stage),
			})
		}
	}
	return plan, nil
}

// String renders a planned invocation as one log-friendly line.
func (p Planned) String() string {
	return strings.Join([]string{fmt.Sprintf("[batch %d]", p.Batch), p.StageID, "->", p.Command}, " ")
}
