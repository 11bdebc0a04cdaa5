package runstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store manages run ledger persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the ledger database and applies migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure ledger directory: %w", err)
	}

	// Pragmas ride the DSN so every pooled connection gets them, not just
	// the one that happened to serve the setup exec.
	dsn := "file:" + path + "?" + strings.Join([]string{
		"_pragma=journal_mode(WAL)",
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
	}, "&")
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	store := &Store{db: db, path: path}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// BeginRun records (or resumes) a run. An existing row keeps its created_at;
// the status resets to running.
func (s *Store) BeginRun(ctx context.Context, runID, recipePath string) (*Run, error) {
	now := timestamp()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, recipe_path, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(run_id) DO UPDATE SET status = excluded.status, recipe_path = excluded.recipe_path, updated_at = excluded.updated_at`,
		runID, recipePath, RunRunning, now, now)
	if err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	return s.GetRun(ctx, runID)
}

// FinishRun records the run's terminal status.
func (s *Store) FinishRun(ctx context.Context, runID string, status RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE runs SET status = ?, updated_at = ? WHERE run_id = ?",
		status, timestamp(), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("finish run: unknown run %q", runID)
	}
	return nil
}

// GetRun fetches one run row.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT run_id, recipe_path, status, created_at, updated_at FROM runs WHERE run_id = ?", runID)
	var r Run
	var created, updated string
	if err := row.Scan(&r.RunID, &r.RecipePath, &r.Status, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %q not found", runID)
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	r.CreatedAt = parseTimestamp(created)
	r.UpdatedAt = parseTimestamp(updated)
	return &r, nil
}

// ListRuns returns every run, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT run_id, recipe_path, status, created_at, updated_at FROM runs ORDER BY created_at DESC, run_id")
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var created, updated string
		if err := rows.Scan(&r.RunID, &r.RecipePath, &r.Status, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.CreatedAt = parseTimestamp(created)
		r.UpdatedAt = parseTimestamp(updated)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// MarkStageRunning upserts a running ledger entry for the stage.
func (s *Store) MarkStageRunning(ctx context.Context, runID, stageID string) error {
	now := timestamp()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_runs (run_id, stage_id, status, started_at)
         VALUES (?, ?, ?, ?)
         ON CONFLICT(run_id, stage_id) DO UPDATE SET status = excluded.status, started_at = excluded.started_at,
             finished_at = NULL, message = ''`,
		runID, stageID, StageRunning, now)
	if err != nil {
		return fmt.Errorf("mark stage running: %w", err)
	}
	return nil
}

// MarkStageDone records a successful stage with its artifact and fingerprint.
func (s *Store) MarkStageDone(ctx context.Context, runID, stageID, artifactPath, fingerprint string) error {
	return s.finishStage(ctx, runID, stageID, StageDone, artifactPath, fingerprint, "")
}

// MarkStageFailed records a failed stage with its diagnostic message.
func (s *Store) MarkStageFailed(ctx context.Context, runID, stageID, message string) error {
	return s.finishStage(ctx, runID, stageID, StageFailed, "", "", message)
}

// MarkStageSkipped records a stage that never ran because an upstream stage
// failed under continue-on-error.
func (s *Store) MarkStageSkipped(ctx context.Context, runID, stageID, message string) error {
	return s.finishStage(ctx, runID, stageID, StageSkipped, "", "", message)
}

func (s *Store) finishStage(ctx context.Context, runID, stageID string, status StageStatus, artifactPath, fingerprint, message string) error {
	now := timestamp()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_runs (run_id, stage_id, status, artifact_path, fingerprint, message, finished_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(run_id, stage_id) DO UPDATE SET status = excluded.status, artifact_path = excluded.artifact_path,
             fingerprint = excluded.fingerprint, message = excluded.message, finished_at = excluded.finished_at`,
		runID, stageID, status, artifactPath, fingerprint, message, now)
	if err != nil {
		return fmt.Errorf("record stage %s: %w", status, err)
	}
	return nil
}

// GetStage fetches one ledger entry; the second return is false when the
// stage has no entry for the run.
func (s *Store) GetStage(ctx context.Context, runID, stageID string) (StageRun, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, stage_id, status, artifact_path, fingerprint, message, started_at, finished_at
         FROM stage_runs WHERE run_id = ? AND stage_id = ?`, runID, stageID)
	sr, err := scanStageRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StageRun{}, false, nil
		}
		return StageRun{}, false, fmt.Errorf("get stage: %w", err)
	}
	return sr, true, nil
}

// CompletedStages returns the set of done stage entries for a run, keyed by
// stage id.
func (s *Store) CompletedStages(ctx context.Context, runID string) (map[string]StageRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, stage_id, status, artifact_path, fingerprint, message, started_at, finished_at
         FROM stage_runs WHERE run_id = ? AND status = ?`, runID, StageDone)
	if err != nil {
		return nil, fmt.Errorf("completed stages: %w", err)
	}
	defer rows.Close()

	done := make(map[string]StageRun)
	for rows.Next() {
		sr, err := scanStageRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		done[sr.StageID] = sr
	}
	return done, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStageRun(row rowScanner) (StageRun, error) {
	var sr StageRun
	var started, finished sql.NullString
	if err := row.Scan(&sr.RunID, &sr.StageID, &sr.Status, &sr.ArtifactPath, &sr.Fingerprint, &sr.Message, &started, &finished); err != nil {
		return StageRun{}, err
	}
	if started.Valid {
		t := parseTimestamp(started.String)
		sr.StartedAt = &t
	}
	if finished.Valid {
		t := parseTimestamp(finished.String)
		sr.FinishedAt = &t
	}
	return sr, nil
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
