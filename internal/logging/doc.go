// Package logging assembles the structured slog loggers used across the
// bindery orchestrator.
//
// It centralizes level and output plumbing, exposes context-aware helpers so
// pipeline code can automatically tag log lines with run ids, stage ids, and
// module ids, and provides a no-op logger for tests and wiring code that
// cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so every component
// emits records with the same shape.
package logging
