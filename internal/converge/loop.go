package converge

import (
	"context"
	"fmt"
	"log/slog"

	"bindery/internal/logging"
	"bindery/internal/pipeerr"
)

// Finding is the result of one validate pass: required references with no
// satisfying entity, and malformed or out-of-range entries.
type Finding struct {
	Missing    []string
	Invalid    []string
	ReportPath string
}

// Resolved reports whether every residual item is covered by the allow-list.
func (f Finding) Resolved(allow []string) bool {
	allowed := make(map[string]struct{}, len(allow))
	for _, id := range allow {
		allowed[id] = struct{}{}
	}
	for _, id := range f.Missing {
		if _, ok := allowed[id]; !ok {
			return false
		}
	}
	for _, id := range f.Invalid {
		if _, ok := allowed[id]; !ok {
			return false
		}
	}
	return true
}

// Outcome summarizes a finished loop.
type Outcome struct {
	Attempts  int
	Converged bool
	Final     Finding
}

// Loop is the generic bounded-retry controller. Detect repairs or proposes
// candidate data, Validate measures coverage, Escalate runs a higher-cost
// repair scoped to the finding. Allow lists residual ids tolerated as
// converged; it is always caller-supplied, never baked in.
type Loop struct {
	Detect   func(ctx context.Context, attempt int) error
	Validate func(ctx context.Context, attempt int) (Finding, error)
	Escalate func(ctx context.Context, finding Finding) error

	MaxAttempts int
	Allow       []string
	Logger      *slog.Logger
}

// Run executes the loop until the finding resolves or attempts are exhausted.
// On exhaustion the last detect pass's artifacts stay in place and the error
// wraps ErrConvergenceExhausted; callers treat the result as degraded but
// usable.
func (l Loop) Run(ctx context.Context) (Outcome, error) {
	if l.Detect == nil || l.Validate == nil {
		return Outcome{}, fmt.Errorf("converge loop requires detect and validate callbacks")
	}
	if l.MaxAttempts < 1 {
		return Outcome{}, fmt.Errorf("converge loop requires max_attempts >= 1, got %d", l.MaxAttempts)
	}
	logger := l.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	var finding Finding
	performed := 0
	for attempt := 1; attempt <= l.MaxAttempts; attempt++ {
		performed = attempt
		if err := ctx.Err(); err != nil {
			return Outcome{Attempts: attempt - 1, Final: finding}, err
		}

		if err := l.Detect(ctx, attempt); err != nil {
			return Outcome{Attempts: attempt, Final: finding}, fmt.Errorf("detect attempt %d: %w", attempt, err)
		}

		var err error
		finding, err = l.Validate(ctx, attempt)
		if err != nil {
			return Outcome{Attempts: attempt, Final: finding}, fmt.Errorf("validate attempt %d: %w", attempt, err)
		}

		logger.Info("convergence check",
			logging.Args(
				logging.Int("attempt", attempt),
				logging.Int("missing", len(finding.Missing)),
				logging.Int("invalid", len(finding.Invalid)),
			)...)

		if finding.Resolved(l.Allow) {
			return Outcome{Attempts: attempt, Converged: true, Final: finding}, nil
		}

		if attempt == l.MaxAttempts {
			break
		}
		if l.Escalate == nil {
			break
		}
		if err := l.Escalate(ctx, finding); err != nil {
			return Outcome{Attempts: attempt, Final: finding}, fmt.Errorf("escalate attempt %d: %w", attempt, err)
		}
	}

	return Outcome{Attempts: performed, Final: finding}, pipeerr.Wrap(
		pipeerr.ErrConvergenceExhausted, "", "converge",
		fmt.Sprintf("%d attempts with %d missing and %d invalid remaining",
			performed, len(finding.Missing), len(finding.Invalid)), nil)
}
