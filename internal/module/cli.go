package module

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"bindery/internal/pipeerr"
)

var commandContext = exec.CommandContext

// CLI invokes a module executable following the shared command-line contract:
// named input paths, a single --out or --outdir, --run-id, and optional
// --progress-file/--state-file.
type CLI struct {
	binary string
}

// NewCLI wraps the executable at the given path.
func NewCLI(binary string) *CLI {
	return &CLI{binary: binary}
}

// Invoke launches the module subprocess and waits for it to exit. Success is
// exit code 0 plus the declared output artifact present and non-empty;
// anything else is a module invocation error carrying the captured output.
func (c *CLI) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	if c.binary == "" {
		return Result{}, pipeerr.Wrap(pipeerr.ErrModuleInvocation, inv.StageID, "invoke", "module binary not set", nil)
	}
	out := declaredOutput(inv)
	if out == "" {
		return Result{}, pipeerr.Wrap(pipeerr.ErrModuleInvocation, inv.StageID, "invoke", "no output path declared", nil)
	}

	args := buildArgs(inv)
	cmd := commandContext(ctx, c.binary, args...) //nolint:gosec
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	if err := cmd.Run(); err != nil {
		return Result{Diagnostics: combined.Bytes()}, pipeerr.Wrap(
			pipeerr.ErrModuleInvocation, inv.StageID, "invoke",
			fmt.Sprintf("module %s failed", inv.ModuleID), err)
	}

	if !artifactPresent(out) {
		return Result{Diagnostics: combined.Bytes()}, pipeerr.Wrap(
			pipeerr.ErrModuleInvocation, inv.StageID, "invoke",
			fmt.Sprintf("module %s exited 0 but left no artifact at %s", inv.ModuleID, out), nil)
	}

	return Result{ArtifactPath: out, Diagnostics: combined.Bytes()}, nil
}

// buildArgs assembles the module command line. Inputs and params are sorted
// by key so planned invocations are reproducible.
func buildArgs(inv Invocation) []string {
	var args []string

	names := make([]string, 0, len(inv.Inputs))
	for name := range inv.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		args = append(args, "--in", name+"="+inv.Inputs[name])
	}

	if strings.TrimSpace(inv.OutputPath) != "" {
		args = append(args, "--out", inv.OutputPath)
	} else {
		args = append(args, "--outdir", inv.OutputDir)
	}
	if inv.RunID != "" {
		args = append(args, "--run-id", inv.RunID)
	}
	if inv.ProgressFile != "" {
		args = append(args, "--progress-file", inv.ProgressFile)
	}
	if inv.StateFile != "" {
		args = append(args, "--state-file", inv.StateFile)
	}

	keys := make([]string, 0, len(inv.Params))
	for k := range inv.Params {
		if k == "output" {
			continue // resolved by the orchestrator, not passed through
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--param", fmt.Sprintf("%s=%v", k, inv.Params[k]))
	}
	return args
}

// CommandLine renders the invocation the CLI module would execute, for
// dry-run output.
func (c *CLI) CommandLine(inv Invocation) string {
	return strings.Join(append([]string{c.binary}, buildArgs(inv)...), " ")
}

var _ Module = (*CLI)(nil)
