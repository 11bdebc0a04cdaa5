package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"bindery/internal/converge"
	"bindery/internal/logging"
	"bindery/internal/pipeerr"
	"bindery/internal/recipe"
	"bindery/internal/runstate"
)

// ConvergeSpec binds a convergence loop to three stages of the recipe.
type ConvergeSpec struct {
	DetectStage   string
	ValidateStage string
	EscalateStage string
	MaxAttempts   int
	Allow         []string
}

// validateArtifact is the document shape a validate stage must produce.
type validateArtifact struct {
	Missing []string `json:"missing"`
	Invalid []string `json:"invalid"`
}

// Converge runs a detect/validate/escalate loop over the named stages. The
// validate stage's JSON artifact supplies the missing and invalid sets; the
// escalate stage receives them through its params as scope hints. The run is
// registered in the ledger like a full run; exhaustion finishes it as
// degraded since the artifacts remain usable.
func (e *Executor) Converge(ctx context.Context, spec ConvergeSpec) (converge.Outcome, error) {
	for _, id := range []string{spec.DetectStage, spec.ValidateStage} {
		if _, ok := e.rec.StageByID(id); !ok {
			return converge.Outcome{}, fmt.Errorf("convergence stage %q missing from recipe", id)
		}
	}
	if spec.EscalateStage != "" {
		if _, ok := e.rec.StageByID(spec.EscalateStage); !ok {
			return converge.Outcome{}, fmt.Errorf("escalate stage %q missing from recipe", spec.EscalateStage)
		}
	}

	ctx = logging.WithRunID(ctx, e.rec.RunID)
	if err := os.MkdirAll(e.outDir, 0o755); err != nil {
		return converge.Outcome{}, fmt.Errorf("ensure output directory: %w", err)
	}
	if e.state != nil {
		if _, err := e.state.BeginRun(ctx, e.rec.RunID, e.rec.Input); err != nil {
			return converge.Outcome{}, err
		}
	}

	loop := converge.Loop{
		MaxAttempts: spec.MaxAttempts,
		Allow:       spec.Allow,
		Logger:      e.logger,
		Detect: func(ctx context.Context, attempt int) error {
			return e.RunStage(ctx, spec.DetectStage)
		},
		Validate: func(ctx context.Context, attempt int) (converge.Finding, error) {
			if err := e.RunStage(ctx, spec.ValidateStage); err != nil {
				return converge.Finding{}, err
			}
			stage, _ := e.rec.StageByID(spec.ValidateStage)
			return e.readFinding(e.ArtifactPath(stage))
		},
	}
	if spec.EscalateStage != "" {
		loop.Escalate = func(ctx context.Context, finding converge.Finding) error {
			stage, _ := e.rec.StageByID(spec.EscalateStage)
			scoped := make(map[string]any, len(stage.Params)+2)
			for k, v := range stage.Params {
				scoped[k] = v
			}
			scoped["missing"] = joinIDs(finding.Missing)
			scoped["invalid"] = joinIDs(finding.Invalid)
			stage.Params = scoped
			return e.runScopedStage(ctx, stage)
		}
	}

	outcome, err := loop.Run(ctx)
	switch {
	case err == nil:
		e.finishRun(ctx, runstate.RunCompleted)
	case errors.Is(err, pipeerr.ErrConvergenceExhausted):
		e.finishRun(ctx, runstate.RunDegraded)
	default:
		e.finishRun(ctx, runstate.RunFailed)
	}
	return outcome, err
}

func (e *Executor) runScopedStage(ctx context.Context, stage recipe.Stage) error {
	// Same lifecycle as RunStage, but with the escalation scope baked into
	// the params copy rather than the recipe's declaration.
	if e.state != nil {
		if err := e.state.MarkStageRunning(ctx, e.rec.RunID, stage.ID); err != nil {
			return err
		}
	}
	res := e.executeStage(ctx, stage)
	if err := e.applyResult(ctx, res); err != nil {
		return err
	}
	return res.err
}

func (e *Executor) readFinding(path string) (converge.Finding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return converge.Finding{}, fmt.Errorf("read validate artifact: %w", err)
	}
	var doc validateArtifact
	if err := json.Unmarshal(data, &doc); err != nil {
		return converge.Finding{}, fmt.Errorf("parse validate artifact %s: %w", path, err)
	}
	return converge.Finding{Missing: doc.Missing, Invalid: doc.Invalid, ReportPath: path}, nil
}

func joinIDs(ids []string) string {
	return strings.Join(ids, ",")
}
