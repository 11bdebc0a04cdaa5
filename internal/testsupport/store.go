package testsupport

import (
	"path/filepath"
	"testing"

	"bindery/internal/progress"
	"bindery/internal/runstate"
)

// MustOpenStore opens a runstate.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB) *runstate.Store {
	t.Helper()

	store, err := runstate.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("runstate.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustProgressWriter opens a progress writer for tests and registers cleanup.
func MustProgressWriter(t testing.TB, path, runID string) *progress.Writer {
	t.Helper()

	w, err := progress.NewWriter(path, runID)
	if err != nil {
		t.Fatalf("progress.NewWriter: %v", err)
	}
	t.Cleanup(func() {
		w.Close()
	})
	return w
}
