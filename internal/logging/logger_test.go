package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewDefaultsToConsole(t *testing.T) {
	logger, err := New(Options{Level: "debug"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"unknown": slog.LevelInfo,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestContextFields(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-42")
	ctx = WithStage(ctx, "ocr-pages")
	ctx = WithModule(ctx, "ocr")

	fields := ContextFields(ctx)
	if len(fields) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(fields))
	}
	got := map[string]string{}
	for _, f := range fields {
		got[f.Key] = f.Value.String()
	}
	if got[FieldRunID] != "run-42" || got[FieldStage] != "ocr-pages" || got[FieldModule] != "ocr" {
		t.Fatalf("unexpected fields: %v", got)
	}
}

func TestWithContextNilLogger(t *testing.T) {
	logger := WithContext(context.Background(), nil)
	if logger == nil {
		t.Fatal("expected fallback logger")
	}
	logger.Info("should not panic")
}
