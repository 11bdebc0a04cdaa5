package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"bindery/internal/module"
	"bindery/internal/pipeerr"
	"bindery/internal/progress"
	"bindery/internal/recipe"
	"bindery/internal/runstate"
	"bindery/internal/testsupport"
)

// countingSource wraps another source and counts real invocations per stage.
type countingSource struct {
	mu     sync.Mutex
	counts map[string]int
	inner  Source
}

func newCountingSource(inner Source) *countingSource {
	return &countingSource{counts: make(map[string]int), inner: inner}
}

func (c *countingSource) Module(stage recipe.Stage) (module.Module, error) {
	inner, err := c.inner.Module(stage)
	if err != nil {
		return nil, err
	}
	return module.Stub(func(ctx context.Context, inv module.Invocation) (module.Result, error) {
		c.mu.Lock()
		c.counts[inv.StageID]++
		c.mu.Unlock()
		return inner.Invoke(ctx, inv)
	}), nil
}

func (c *countingSource) count(stageID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[stageID]
}

func newExecutor(t *testing.T, rec *recipe.Recipe, source Source, store *runstate.Store, opts Options) *Executor {
	t.Helper()
	outDir := filepath.Join(t.TempDir(), "out")
	var events *progress.Writer
	if store != nil {
		events = testsupport.MustProgressWriter(t, filepath.Join(outDir, "progress.jsonl"), rec.RunID)
	}
	exec, err := New(rec, outDir, source, store, events, nil, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return exec
}

func TestMockRunProducesAllArtifacts(t *testing.T) {
	rec := testsupport.BookRecipe("run-mock")
	store := testsupport.MustOpenStore(t)
	exec := newExecutor(t, rec, MockSource{}, store, Options{Mock: true})

	if err := exec.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, stage := range rec.Stages {
		path := exec.ArtifactPath(stage)
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("stage %s artifact missing: %v", stage.ID, err)
		}
		if len(data) == 0 {
			t.Fatalf("stage %s artifact empty", stage.ID)
		}
		var v any
		if err := json.Unmarshal(data, &v); err != nil && !stage.Kind.JSONL() {
			t.Fatalf("stage %s artifact not valid JSON: %v", stage.ID, err)
		}
	}

	final, _ := rec.StageByID("assemble-book")
	if _, err := os.Stat(exec.ArtifactPath(final)); err != nil {
		t.Fatalf("final output missing: %v", err)
	}

	run, err := store.GetRun(context.Background(), "run-mock")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != runstate.RunCompleted {
		t.Fatalf("run status = %q, want completed", run.Status)
	}
}

func TestSkipDoneReusesArtifactsWithoutInvoking(t *testing.T) {
	rec := testsupport.BookRecipe("run-skip")
	store := testsupport.MustOpenStore(t)
	counting := newCountingSource(MockSource{})

	outDir := filepath.Join(t.TempDir(), "out")
	events := testsupport.MustProgressWriter(t, filepath.Join(outDir, "progress.jsonl"), rec.RunID)

	first, err := New(rec, outDir, counting, store, events, nil, Options{SkipDone: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := first.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	for _, stage := range rec.Stages {
		if got := counting.count(stage.ID); got != 1 {
			t.Fatalf("stage %s invoked %d times on first run", stage.ID, got)
		}
	}

	second, err := New(rec, outDir, counting, store, events, nil, Options{SkipDone: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := second.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	for _, stage := range rec.Stages {
		if got := counting.count(stage.ID); got != 1 {
			t.Fatalf("stage %s re-invoked under skip-done (%d calls)", stage.ID, got)
		}
	}

	// The second run still emitted a terminal done event per stage.
	reports, err := progress.AnalyzeFile(filepath.Join(outDir, "progress.jsonl"), progress.DefaultAnalyzerOptions())
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}
	if len(reports) != len(rec.Stages) {
		t.Fatalf("expected events for %d stages, got %d", len(rec.Stages), len(reports))
	}
}

func TestStaleFingerprintDefeatsSkipDone(t *testing.T) {
	rec := testsupport.BookRecipe("run-stale")
	store := testsupport.MustOpenStore(t)
	counting := newCountingSource(MockSource{})
	outDir := filepath.Join(t.TempDir(), "out")

	first, err := New(rec, outDir, counting, store, nil, nil, Options{SkipDone: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := first.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	// Changing a stage's params changes its fingerprint, so its artifact is
	// stale even though it exists on disk.
	changed := testsupport.BookRecipe("run-stale")
	for i := range changed.Stages {
		if changed.Stages[i].ID == "extract-entries" {
			changed.Stages[i].Params["aggressive"] = true
		}
	}
	second, err := New(changed, outDir, counting, store, nil, nil, Options{SkipDone: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := second.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if got := counting.count("extract-entries"); got != 2 {
		t.Fatalf("stale stage should re-run, got %d invocations", got)
	}
	if got := counting.count("ocr-pages"); got != 1 {
		t.Fatalf("unchanged stage should be reused, got %d invocations", got)
	}
}

func failingStub(failID string) StubSource {
	return StubSource{
		Default: func(ctx context.Context, inv module.Invocation) (module.Result, error) {
			if inv.StageID == failID {
				return module.Result{}, pipeerr.Wrap(pipeerr.ErrModuleInvocation, inv.StageID, "invoke", "exit status 3", nil)
			}
			return module.Mock{}.Invoke(ctx, inv)
		},
	}
}

func TestFailFastStopsDownstream(t *testing.T) {
	rec := testsupport.BookRecipe("run-failfast")
	store := testsupport.MustOpenStore(t)
	counting := newCountingSource(failingStub("layout-regions"))
	exec := newExecutor(t, rec, counting, store, Options{})

	err := exec.Run(context.Background())
	if !errors.Is(err, pipeerr.ErrModuleInvocation) {
		t.Fatalf("expected ErrModuleInvocation, got %v", err)
	}

	if got := counting.count("extract-entries"); got != 0 {
		t.Fatalf("downstream stage ran after failure (%d calls)", got)
	}
	if got := counting.count("assemble-book"); got != 0 {
		t.Fatalf("final stage ran after failure (%d calls)", got)
	}

	run, err := store.GetRun(context.Background(), "run-failfast")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != runstate.RunFailed {
		t.Fatalf("run status = %q, want failed", run.Status)
	}
}

func TestContinueOnErrorSkipsOnlyFailedBranch(t *testing.T) {
	rec := &recipe.Recipe{
		RunID:     "run-continue",
		OutputDir: "out",
		Stages: []recipe.Stage{
			testsupport.Stage("scan", recipe.KindOCR),
			testsupport.Stage("broken", recipe.KindLayout, "scan"),
			testsupport.Stage("broken-child", recipe.KindExtract, "broken"),
			testsupport.Stage("healthy", recipe.KindExtract, "scan"),
		},
	}
	store := testsupport.MustOpenStore(t)
	counting := newCountingSource(failingStub("broken"))
	exec := newExecutor(t, rec, counting, store, Options{ContinueOnError: true})

	err := exec.Run(context.Background())
	if !errors.Is(err, pipeerr.ErrModuleInvocation) {
		t.Fatalf("expected the branch failure to surface, got %v", err)
	}

	if got := counting.count("healthy"); got != 1 {
		t.Fatalf("unaffected branch should run, got %d calls", got)
	}
	if got := counting.count("broken-child"); got != 0 {
		t.Fatalf("failed branch's downstream should be skipped, got %d calls", got)
	}

	entry, ok, err := store.GetStage(context.Background(), "run-continue", "broken-child")
	if err != nil || !ok {
		t.Fatalf("GetStage: %v ok=%v", err, ok)
	}
	if entry.Status != runstate.StageSkipped {
		t.Fatalf("downstream status = %q, want skipped", entry.Status)
	}
}

func TestRunRejectsConcurrentRunsOnSameOutputDir(t *testing.T) {
	rec := testsupport.BookRecipe("run-lock")
	outDir := filepath.Join(t.TempDir(), "out")

	blocker := make(chan struct{})
	started := make(chan struct{})
	slow := StubSource{
		Default: func(ctx context.Context, inv module.Invocation) (module.Result, error) {
			select {
			case started <- struct{}{}:
			default:
			}
			<-blocker
			return module.Mock{}.Invoke(ctx, inv)
		},
	}

	first, err := New(rec, outDir, slow, nil, nil, nil, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	runErr := make(chan error, 1)
	go func() { runErr <- first.Run(context.Background()) }()
	<-started

	second, err := New(rec, outDir, MockSource{}, nil, nil, nil, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := second.Run(context.Background()); err == nil {
		t.Fatal("expected second run to fail while lock is held")
	}

	close(blocker)
	if err := <-runErr; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
}

func TestPlanListsEveryStageInOrder(t *testing.T) {
	rec := testsupport.BookRecipe("run-plan")
	exec := newExecutor(t, rec, MockSource{}, nil, Options{Mock: true})

	plan, err := exec.Plan(nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan) != len(rec.Stages) {
		t.Fatalf("plan has %d entries, want %d", len(plan), len(rec.Stages))
	}
	if plan[0].StageID != "ocr-pages" || plan[0].Batch != 1 {
		t.Fatalf("unexpected first entry: %+v", plan[0])
	}
	last := plan[len(plan)-1]
	if last.StageID != "assemble-book" {
		t.Fatalf("unexpected last entry: %+v", last)
	}
	if last.Artifact == "" {
		t.Fatal("plan entries must name the artifact path")
	}
}

func TestLedgerFailureMidRunAbortsWithoutLaunchingDownstream(t *testing.T) {
	rec := &recipe.Recipe{
		RunID:     "run-ledger-loss",
		OutputDir: "out",
		Stages: []recipe.Stage{
			testsupport.Stage("scan", recipe.KindOCR),
			testsupport.Stage("left", recipe.KindLayout, "scan"),
			testsupport.Stage("right", recipe.KindExtract, "scan"),
		},
	}
	store := testsupport.MustOpenStore(t)

	// The scan stage kills the ledger mid-run; every later ledger write
	// fails, and no stage of the next batch may be invoked.
	killer := StubSource{
		Default: func(ctx context.Context, inv module.Invocation) (module.Result, error) {
			if inv.StageID == "scan" {
				store.Close()
			}
			return module.Mock{}.Invoke(ctx, inv)
		},
	}
	counting := newCountingSource(killer)
	exec := newExecutor(t, rec, counting, store, Options{})

	if err := exec.Run(context.Background()); err == nil {
		t.Fatal("expected the run to surface the ledger failure")
	}
	if got := counting.count("left"); got != 0 {
		t.Fatalf("stage after ledger loss was invoked %d times", got)
	}
	if got := counting.count("right"); got != 0 {
		t.Fatalf("stage after ledger loss was invoked %d times", got)
	}
}

func TestRunningEventsAreSampledIntoRunLog(t *testing.T) {
	rec := testsupport.BookRecipe("run-sample")
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	exec, err := New(rec, filepath.Join(t.TempDir(), "out"), MockSource{}, nil, nil, logger, Options{Mock: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	running := func(stage string, current, total int) progress.Event {
		return progress.Event{StageLabel: stage, Status: progress.StatusRunning, Current: current, Total: total}
	}

	exec.emit(running("ocr-pages", 10, 100)) // new stage, logged
	exec.emit(running("ocr-pages", 11, 100)) // same 5% bucket, suppressed
	exec.emit(running("ocr-pages", 40, 100)) // new bucket, logged
	exec.emit(running("layout-regions", 0, 0)) // stage change, logged
	exec.emit(progress.Event{StageLabel: "layout-regions", Status: progress.StatusDone})

	got := strings.Count(buf.String(), "stage progress")
	if got != 3 {
		t.Fatalf("expected 3 sampled progress records, got %d:\n%s", got, buf.String())
	}
}

func TestCycleFailsBeforeAnyScheduling(t *testing.T) {
	rec := &recipe.Recipe{
		RunID:     "run-cycle",
		OutputDir: "out",
		Stages: []recipe.Stage{
			testsupport.Stage("a", recipe.KindOCR, "b"),
			testsupport.Stage("b", recipe.KindLayout, "a"),
		},
	}
	_, err := New(rec, t.TempDir(), MockSource{}, nil, nil, nil, Options{})
	if !errors.Is(err, pipeerr.ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
}
