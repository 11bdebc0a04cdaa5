package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldRunID is the standardized structured logging key for run identifiers.
	FieldRunID = "run_id"
	// FieldStage is the standardized structured logging key for pipeline stage ids.
	FieldStage = "stage"
	// FieldModule is the standardized structured logging key for module registry keys.
	FieldModule = "module"
	// FieldEventType flags lifecycle transitions in structured logs.
	FieldEventType = "event_type"
)

type contextKey int

const (
	runIDKey contextKey = iota
	stageKey
	moduleKey
)

// WithRunID stores the run identifier on the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// WithStage stores the active stage id on the context.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey, stage)
}

// WithModule stores the active module id on the context.
func WithModule(ctx context.Context, module string) context.Context {
	return context.WithValue(ctx, moduleKey, module)
}

// RunIDFromContext extracts the run identifier, if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(runIDKey).(string)
	return v, ok && v != ""
}

// StageFromContext extracts the stage id, if present.
func StageFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(stageKey).(string)
	return v, ok && v != ""
}

// ModuleFromContext extracts the module id, if present.
func ModuleFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(moduleKey).(string)
	return v, ok && v != ""
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := RunIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRunID, id))
	}
	if stage, ok := StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	if module, ok := ModuleFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldModule, module))
	}
	return fields
}
