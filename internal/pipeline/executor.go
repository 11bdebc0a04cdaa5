package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"bindery/internal/dag"
	"bindery/internal/logging"
	"bindery/internal/module"
	"bindery/internal/pipeerr"
	"bindery/internal/progress"
	"bindery/internal/recipe"
	"bindery/internal/runstate"
	"bindery/internal/textutil"
)

// Options is the run-wide execution policy.
type Options struct {
	Mock            bool
	SkipDone        bool
	ContinueOnError bool
	Parallelism     int
}

// Executor runs one recipe to completion.
type Executor struct {
	rec      *recipe.Recipe
	graph    *dag.Graph
	batches  []dag.Batch
	source   Source
	state    *runstate.Store
	events   *progress.Writer
	logger   *slog.Logger
	opts     Options
	outDir   string
	skipped  map[string]string // stage id -> reason, under continue-on-error
	reusable map[string]runstate.StageRun

	samplerMu sync.Mutex
	sampler   *logging.ProgressSampler
}

// New validates the recipe's graph and prepares an executor. outDir is the
// resolved absolute output directory for the run.
func New(rec *recipe.Recipe, outDir string, source Source, state *runstate.Store, events *progress.Writer, logger *slog.Logger, opts Options) (*Executor, error) {
	graph, err := dag.Build(rec)
	if err != nil {
		return nil, err
	}
	batches, err := graph.Order()
	if err != nil {
		return nil, err
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	if opts.Mock {
		// Deterministic start order for wiring-test assertions.
		opts.Parallelism = 1
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{
		rec:     rec,
		graph:   graph,
		batches: batches,
		source:  source,
		state:   state,
		events:  events,
		logger:  logger,
		opts:    opts,
		outDir:  outDir,
		skipped: make(map[string]string),
		sampler: logging.NewProgressSampler(0),
	}, nil
}

// Batches exposes the planned execution order.
func (e *Executor) Batches() []dag.Batch { return e.batches }

// OutputDir returns the resolved run output directory.
func (e *Executor) OutputDir() string { return e.outDir }

// stageResult is what a worker hands back to the control goroutine. Workers
// touch only the progress writer; every ledger write happens on the control
// side once the batch settles.
type stageResult struct {
	stage       recipe.Stage
	artifact    string
	fingerprint string
	reused      bool
	err         error
	diagnostics []byte
}

// Run executes every batch. Under fail-fast (the default), a stage failure
// lets already-launched siblings finish but stops new batches; under
// continue-on-error the failed stage's downstream is skipped and unaffected
// branches proceed.
func (e *Executor) Run(ctx context.Context) error {
	if err := os.MkdirAll(e.outDir, 0o755); err != nil {
		return fmt.Errorf("ensure output directory: %w", err)
	}

	lock := flock.New(filepath.Join(e.outDir, "bindery.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another bindery run is active for %s", e.outDir)
	}
	defer func() { _ = lock.Unlock() }()

	ctx = logging.WithRunID(ctx, e.rec.RunID)
	runLogger := logging.WithContext(ctx, e.logger)

	if e.state != nil {
		if _, err := e.state.BeginRun(ctx, e.rec.RunID, e.rec.Input); err != nil {
			return err
		}
		done, err := e.state.CompletedStages(ctx, e.rec.RunID)
		if err != nil {
			return err
		}
		e.reusable = done
	}

	runLogger.Info("run started",
		logging.Args(
			logging.String(logging.FieldEventType, "run_start"),
			logging.Int("stages", e.graph.Len()),
			logging.Int("batches", len(e.batches)),
			logging.Bool("mock", e.opts.Mock),
			logging.Bool("skip_done", e.opts.SkipDone),
		)...)

	var firstFailure error
	for _, batch := range e.batches {
		results, err := e.runBatch(ctx, batch)
		if err != nil {
			e.finishRun(ctx, runstate.RunFailed)
			return err
		}

		for _, res := range results {
			if res.err == nil {
				continue
			}
			if firstFailure == nil {
				firstFailure = res.err
			}
			if e.opts.ContinueOnError {
				e.markDownstreamSkipped(ctx, res.stage.ID)
			}
		}
		if firstFailure != nil && !e.opts.ContinueOnError {
			break
		}
	}

	if firstFailure != nil {
		e.finishRun(ctx, runstate.RunFailed)
		runLogger.Error("run failed",
			logging.Args(
				logging.String(logging.FieldEventType, "run_failure"),
				logging.Error(firstFailure),
			)...)
		return firstFailure
	}

	e.finishRun(ctx, runstate.RunCompleted)
	runLogger.Info("run completed", logging.Args(logging.String(logging.FieldEventType, "run_complete"))...)
	return nil
}

func (e *Executor) finishRun(ctx context.Context, status runstate.RunStatus) {
	if e.state == nil {
		return
	}
	if err := e.state.FinishRun(ctx, e.rec.RunID, status); err != nil {
		e.logger.Error("failed to persist run status", logging.Args(logging.Error(err))...)
	}
}

// runBatch launches the batch's runnable stages concurrently and applies all
// results once every worker has settled.
func (e *Executor) runBatch(ctx context.Context, batch dag.Batch) ([]stageResult, error) {
	launchable := make([]recipe.Stage, 0, len(batch))
	results := make([]stageResult, 0, len(batch))

	for _, id := range batch {
		stage, ok := e.rec.StageByID(id)
		if !ok {
			return nil, fmt.Errorf("stage %q missing from recipe", id)
		}
		if reason, skip := e.skipped[id]; skip {
			e.recordSkipped(ctx, stage, reason)
			continue
		}
		if res, reuse := e.gate(ctx, stage); reuse {
			results = append(results, res)
			continue
		}
		launchable = append(launchable, stage)
	}

	// All ledger marks land before any worker starts; a mark failure must
	// not leave goroutines running against a writer the caller tears down.
	if e.state != nil {
		for _, stage := range launchable {
			if err := e.state.MarkStageRunning(ctx, e.rec.RunID, stage.ID); err != nil {
				return nil, err
			}
		}
	}

	slots := make([]stageResult, len(launchable))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.opts.Parallelism)
	for i, stage := range launchable {
		i, stage := i, stage
		group.Go(func() error {
			slots[i] = e.executeStage(groupCtx, stage)
			// A failure is reported through the slot, not the group error:
			// siblings already launched must be allowed to finish.
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	results = append(results, slots...)

	for _, res := range results {
		if err := e.applyResult(ctx, res); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// executeStage runs one stage through its module. Runs on a worker
// goroutine; it must only touch the progress writer.
func (e *Executor) executeStage(ctx context.Context, stage recipe.Stage) stageResult {
	stageCtx := logging.WithStage(logging.WithModule(ctx, stage.Module), stage.ID)
	stageLogger := logging.WithContext(stageCtx, e.logger)

	inv := e.invocation(stage)
	result := stageResult{stage: stage, fingerprint: runstate.Fingerprint(inv.Inputs, stage.Params)}

	stageLogger.Info("stage started",
		logging.Args(logging.String(logging.FieldEventType, "stage_start"))...)
	e.emit(progress.Event{
		StageLabel: stage.ID,
		Status:     progress.StatusRunning,
		ModuleID:   stage.Module,
		Message:    "stage started",
	})

	mod, err := e.source.Module(stage)
	if err != nil {
		result.err = pipeerr.Wrap(pipeerr.ErrModuleInvocation, stage.ID, "resolve module", stage.Module, err)
	} else {
		var res module.Result
		res, result.err = mod.Invoke(stageCtx, inv)
		result.artifact = res.ArtifactPath
		result.diagnostics = res.Diagnostics
	}

	if result.err != nil {
		stageLogger.Error("stage failed",
			logging.Args(
				logging.String(logging.FieldEventType, "stage_failure"),
				logging.Error(result.err),
			)...)
		e.emit(progress.Event{
			StageLabel: stage.ID,
			Status:     progress.StatusFailed,
			ModuleID:   stage.Module,
			Message:    result.err.Error(),
		})
		return result
	}

	stageLogger.Info("stage completed",
		logging.Args(
			logging.String(logging.FieldEventType, "stage_complete"),
			logging.String("artifact", result.artifact),
		)...)
	e.emit(progress.Event{
		StageLabel:   stage.ID,
		Status:       progress.StatusDone,
		ModuleID:     stage.Module,
		ArtifactPath: result.artifact,
		Message:      "stage completed",
	})
	return result
}

// applyResult persists a settled stage outcome. Control goroutine only.
func (e *Executor) applyResult(ctx context.Context, res stageResult) error {
	if e.state == nil {
		return nil
	}
	if res.err != nil {
		message := strings.TrimSpace(res.err.Error())
		if err := e.state.MarkStageFailed(ctx, e.rec.RunID, res.stage.ID, message); err != nil {
			return err
		}
		return nil
	}
	return e.state.MarkStageDone(ctx, e.rec.RunID, res.stage.ID, res.artifact, res.fingerprint)
}

func (e *Executor) markDownstreamSkipped(ctx context.Context, failedID string) {
	for _, id := range e.graph.Downstream(failedID) {
		if _, already := e.skipped[id]; !already {
			e.skipped[id] = fmt.Sprintf("upstream stage %s failed", failedID)
		}
	}
}

func (e *Executor) recordSkipped(ctx context.Context, stage recipe.Stage, reason string) {
	if e.state != nil {
		if err := e.state.MarkStageSkipped(ctx, e.rec.RunID, stage.ID, reason); err != nil {
			e.logger.Error("failed to persist skip", logging.Args(logging.Error(err))...)
		}
	}
	e.emit(progress.Event{
		StageLabel: stage.ID,
		Status:     progress.StatusFailed,
		ModuleID:   stage.Module,
		Message:    "skipped: " + reason,
	})
}

func (e *Executor) emit(event progress.Event) {
	e.logProgress(event)
	if e.events == nil {
		return
	}
	event.RunID = e.rec.RunID
	if err := e.events.Emit(event); err != nil {
		e.logger.Error("failed to append progress event", logging.Args(logging.Error(err))...)
	}
}

// logProgress mirrors running events into the run log, sampled per stage and
// percent bucket so long stages do not flood it. Workers share the sampler,
// hence the mutex.
func (e *Executor) logProgress(event progress.Event) {
	if event.Status != progress.StatusRunning {
		return
	}
	percent := -1.0
	if event.Total > 0 {
		percent = float64(event.Current) / float64(event.Total) * 100
	}
	e.samplerMu.Lock()
	shouldLog := e.sampler.ShouldLog(percent, event.StageLabel)
	e.samplerMu.Unlock()
	if !shouldLog {
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "stage_progress"),
		logging.String(logging.FieldStage, event.StageLabel),
		logging.String(logging.FieldModule, event.ModuleID),
	}
	if percent >= 0 {
		attrs = append(attrs, logging.Float64("percent", percent))
	}
	if event.Message != "" {
		attrs = append(attrs, logging.String("message", event.Message))
	}
	e.logger.Debug("stage progress", logging.Args(attrs...)...)
}

// invocation resolves a stage's inputs and output into the module contract.
func (e *Executor) invocation(stage recipe.Stage) module.Invocation {
	inputs := make(map[string]string, len(stage.Needs))
	for _, need := range stage.Needs {
		if dep, ok := e.rec.StageByID(need); ok {
			inputs[need] = e.ArtifactPath(dep)
		}
	}
	inv := module.Invocation{
		RunID:    e.rec.RunID,
		StageID:  stage.ID,
		ModuleID: stage.Module,
		Kind:     stage.Kind,
		Inputs:   inputs,
		Params:   stage.Params,
	}
	if e.events != nil {
		inv.ProgressFile = e.ProgressPath()
	}
	if e.state != nil {
		inv.StateFile = e.state.Path()
	}
	if outdir, ok := stage.Params["outdir"].(bool); ok && outdir {
		inv.OutputDir = e.ArtifactPath(stage)
	} else {
		inv.OutputPath = e.ArtifactPath(stage)
	}
	return inv
}

// ArtifactPath resolves where a stage's declared output lives. Stages bound
// to a logical output use the recipe's outputs map; anonymous intermediate
// stages get a stable path under artifacts/.
func (e *Executor) ArtifactPath(stage recipe.Stage) string {
	if name := stage.Output(); name != "" {
		if rel, ok := e.rec.OutputPath(name); ok {
			return filepath.Join(e.outDir, rel)
		}
	}
	ext := ".json"
	if stage.Kind.JSONL() {
		ext = ".jsonl"
	}
	return filepath.Join(e.outDir, "artifacts", textutil.SanitizeToken(stage.ID)+ext)
}

// ProgressPath is the run's progress log location.
func (e *Executor) ProgressPath() string {
	return filepath.Join(e.outDir, "progress.jsonl")
}

// RunStage executes a single stage immediately, outside batch scheduling.
// Convergence loops use this to drive their detect/validate/escalate stages.
func (e *Executor) RunStage(ctx context.Context, stageID string) error {
	stage, ok := e.rec.StageByID(stageID)
	if !ok {
		return fmt.Errorf("stage %q missing from recipe", stageID)
	}
	ctx = logging.WithRunID(ctx, e.rec.RunID)
	if e.state != nil {
		if err := e.state.MarkStageRunning(ctx, e.rec.RunID, stage.ID); err != nil {
			return err
		}
	}
	res := e.executeStage(ctx, stage)
	if err := e.applyResult(ctx, res); err != nil {
		return err
	}
	return res.err
}
