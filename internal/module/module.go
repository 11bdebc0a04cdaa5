package module

import (
	"context"
	"os"
	"strings"

	"bindery/internal/recipe"
)

// Invocation carries everything a module needs for one stage execution.
type Invocation struct {
	RunID    string
	StageID  string
	ModuleID string
	Kind     recipe.Kind

	// Inputs maps each dependency stage id to its output artifact path.
	Inputs map[string]string

	// OutputPath is set for single-artifact stages, OutputDir for
	// multi-artifact stages. Exactly one is non-empty.
	OutputPath string
	OutputDir  string

	ProgressFile string
	StateFile    string

	Params map[string]any
}

// Result reports a successful invocation.
type Result struct {
	// ArtifactPath is the declared output that now exists on disk.
	ArtifactPath string
	// Diagnostics holds captured combined stdout/stderr. The orchestrator
	// never interprets it; correctness is judged by exit code + artifact.
	Diagnostics []byte
}

// Module is the capability interface every stage execution goes through.
type Module interface {
	Invoke(ctx context.Context, inv Invocation) (Result, error)
}

// Stub adapts an in-process function. Test-only by convention.
type Stub func(ctx context.Context, inv Invocation) (Result, error)

func (s Stub) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	return s(ctx, inv)
}

// declaredOutput returns the artifact path an invocation promises to produce.
func declaredOutput(inv Invocation) string {
	if strings.TrimSpace(inv.OutputPath) != "" {
		return inv.OutputPath
	}
	return inv.OutputDir
}

// artifactPresent reports whether the declared output exists and, for files,
// is non-empty.
func artifactPresent(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.IsDir() {
		return true
	}
	return info.Size() > 0
}
