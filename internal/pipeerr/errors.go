package pipeerr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrParse marks a recipe that could not be decoded at all.
	ErrParse = errors.New("parse error")
	// ErrSchema marks a recipe that decoded but violates structural rules.
	ErrSchema = errors.New("schema error")
	// ErrCycle marks a dependency graph that cannot be scheduled.
	ErrCycle = errors.New("cycle error")
	// ErrModuleInvocation marks a stage whose module exited nonzero or left no output.
	ErrModuleInvocation = errors.New("module invocation error")
	// ErrConvergenceExhausted marks a convergence loop that hit its attempt
	// limit with residual missing or invalid items.
	ErrConvergenceExhausted = errors.New("convergence exhausted")
	// ErrIntegrity marks unresolved reference targets with backfill disabled.
	ErrIntegrity = errors.New("integrity violation")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrModuleInvocation
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Exit codes reported by the orchestrator CLI.
const (
	ExitOK        = 0
	ExitFatal     = 1
	ExitExhausted = 2
)

// ExitCode maps an orchestrator error to the process exit code the CLI
// should report. Convergence exhaustion is distinguished so callers can
// treat the result as degraded rather than absent.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrConvergenceExhausted):
		return ExitExhausted
	default:
		return ExitFatal
	}
}

// Fatal reports whether the error forbids any partial execution.
func Fatal(err error) bool {
	return errors.Is(err, ErrParse) || errors.Is(err, ErrSchema) || errors.Is(err, ErrCycle)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "pipeline failure"
	}
	return strings.Join(parts, ": ")
}
