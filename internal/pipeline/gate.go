package pipeline

import (
	"context"
	"os"

	"bindery/internal/progress"
	"bindery/internal/recipe"
	"bindery/internal/runstate"
)

// gate decides whether a stage's prior output can be reused instead of
// re-invoking its module. Reuse requires skip-done to be enabled and the
// declared artifact to exist on disk; when the ledger additionally holds a
// done entry, its recorded fingerprint must match the stage's current
// resolved inputs and params, otherwise the artifact is stale and the stage
// re-runs.
func (e *Executor) gate(ctx context.Context, stage recipe.Stage) (stageResult, bool) {
	if !e.opts.SkipDone {
		return stageResult{}, false
	}

	artifact := e.ArtifactPath(stage)
	info, err := os.Stat(artifact)
	if err != nil || (!info.IsDir() && info.Size() == 0) {
		return stageResult{}, false
	}

	inv := e.invocation(stage)
	fingerprint := runstate.Fingerprint(inv.Inputs, stage.Params)
	if entry, ok := e.reusable[stage.ID]; ok {
		if entry.Fingerprint != "" && entry.Fingerprint != fingerprint {
			return stageResult{}, false
		}
	}

	e.emit(progress.Event{
		StageLabel:   stage.ID,
		Status:       progress.StatusDone,
		ModuleID:     stage.Module,
		ArtifactPath: artifact,
		Message:      "reusing existing artifact",
	})

	return stageResult{
		stage:       stage,
		artifact:    artifact,
		fingerprint: fingerprint,
		reused:      true,
	}, true
}
