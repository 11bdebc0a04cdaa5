package progress

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestWriterAppendsOneObjectPerLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.jsonl")
	w, err := NewWriter(path, "run-1")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	if err := w.Emit(Event{StageLabel: "ocr-pages", Status: StatusRunning, Current: 1, Total: 10}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := w.Emit(Event{StageLabel: "ocr-pages", Status: StatusDone, ArtifactPath: "pages.jsonl"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	events := readEvents(t, path)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	for _, e := range events {
		if e.RunID != "run-1" {
			t.Fatalf("run id not stamped: %+v", e)
		}
		if e.Timestamp == "" || e.EventID == "" {
			t.Fatalf("timestamp/event id not stamped: %+v", e)
		}
		if _, ok := e.Time(); !ok {
			t.Fatalf("stamped timestamp should parse: %q", e.Timestamp)
		}
	}
	if events[1].Status != StatusDone {
		t.Fatalf("expected terminal done event last, got %+v", events[1])
	}
}

func TestWriterConcurrentEmitsNeverInterleave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.jsonl")
	w, err := NewWriter(path, "run-1")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	const workers = 8
	const perWorker = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(stage string) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_ = w.Emit(Event{StageLabel: stage, Status: StatusRunning, Current: j, Total: perWorker})
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()

	events := readEvents(t, path)
	if len(events) != workers*perWorker {
		t.Fatalf("expected %d events, got %d", workers*perWorker, len(events))
	}
}

func TestWriterAppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.jsonl")
	w, err := NewWriter(path, "run-1")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Emit(Event{StageLabel: "ocr", Status: StatusRunning}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	_ = w.Close()

	w2, err := NewWriter(path, "run-1")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := w2.Emit(Event{StageLabel: "ocr", Status: StatusDone}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	_ = w2.Close()

	if got := len(readEvents(t, path)); got != 2 {
		t.Fatalf("expected append-only log with 2 events, got %d", got)
	}
}

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line is not valid JSON: %q: %v", scanner.Text(), err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan log: %v", err)
	}
	return events
}
