package module

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"bindery/internal/pipeerr"
	"bindery/internal/recipe"
)

// Mock substitutes a cheap deterministic producer for real module execution.
// Given the stage's declared kind it writes a minimal but structurally valid
// artifact, sufficient for downstream structural checks (non-empty file, key
// presence) to pass.
type Mock struct{}

func (Mock) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	out := declaredOutput(inv)
	if out == "" {
		return Result{}, pipeerr.Wrap(pipeerr.ErrModuleInvocation, inv.StageID, "mock", "no output path declared", nil)
	}

	if inv.OutputPath == "" {
		// Directory-producing stage: a single placeholder file inside.
		if err := os.MkdirAll(out, 0o755); err != nil {
			return Result{}, fmt.Errorf("mock outdir: %w", err)
		}
		marker := filepath.Join(out, "mock.json")
		if err := writeMockArtifact(marker, inv); err != nil {
			return Result{}, err
		}
		return Result{ArtifactPath: out}, nil
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return Result{}, fmt.Errorf("mock output dir: %w", err)
	}
	if err := writeMockArtifact(out, inv); err != nil {
		return Result{}, err
	}
	return Result{ArtifactPath: out}, nil
}

func writeMockArtifact(path string, inv Invocation) error {
	data, err := mockPayload(inv)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write mock artifact: %w", err)
	}
	return nil
}

// mockPayload is deterministic: same stage, same bytes, every run.
func mockPayload(inv Invocation) ([]byte, error) {
	if inv.Kind.JSONL() {
		record := map[string]any{
			"id":    inv.StageID + "-0",
			"stage": inv.StageID,
			"mock":  true,
		}
		line, err := json.Marshal(record)
		if err != nil {
			return nil, fmt.Errorf("marshal mock record: %w", err)
		}
		return append(line, '\n'), nil
	}

	var doc any
	switch inv.Kind {
	case recipe.KindValidate:
		doc = map[string]any{"missing": []string{}, "invalid": []string{}, "checked": 0, "mock": true}
	case recipe.KindAssemble:
		doc = map[string]any{"title": "", "sections": []any{}, "mock": true}
	default:
		doc = map[string]any{"entries": []any{}, "count": 0, "mock": true}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal mock document: %w", err)
	}
	return append(data, '\n'), nil
}

var _ Module = Mock{}
