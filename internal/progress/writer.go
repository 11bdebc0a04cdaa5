package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Writer appends events to a JSONL progress log. Appends are serialized under
// a mutex; a line is written in a single call so no partial-line interleaving
// is possible.
type Writer struct {
	mu    sync.Mutex
	f     *os.File
	runID string
	now   func() time.Time
}

// NewWriter opens (or creates) the progress log at path for appending.
func NewWriter(path, runID string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure progress directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open progress log: %w", err)
	}
	return &Writer{f: f, runID: runID, now: time.Now}, nil
}

// Emit stamps and appends one event. The run id and timestamp are filled in
// when the caller leaves them empty.
func (w *Writer) Emit(event Event) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if event.RunID == "" {
		event.RunID = w.runID
	}
	if event.Timestamp == "" {
		event.Timestamp = w.now().UTC().Format(time.RFC3339Nano)
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	line = append(line, '\n')
	if _, err := w.f.Write(line); err != nil {
		return fmt.Errorf("append progress event: %w", err)
	}
	return nil
}

// Close releases the underlying file.
func (w *Writer) Close() error {
	if w == nil || w.f == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
