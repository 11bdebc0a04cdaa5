package dag

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"bindery/internal/pipeerr"
	"bindery/internal/recipe"
)

func stages(defs ...recipe.Stage) *recipe.Recipe {
	return &recipe.Recipe{RunID: "r", OutputDir: "out", Stages: defs}
}

func stage(id string, needs ...string) recipe.Stage {
	return recipe.Stage{ID: id, Kind: recipe.KindExtract, Module: "extract", Needs: needs}
}

func TestOrderRespectsNeeds(t *testing.T) {
	r := stages(
		stage("scan"),
		stage("ocr", "scan"),
		stage("layout", "scan"),
		stage("merge", "ocr", "layout"),
	)
	batches, err := Order(r)
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	want := []Batch{{"scan"}, {"ocr", "layout"}, {"merge"}}
	if diff := cmp.Diff(want, batches); diff != "" {
		t.Fatalf("batch order mismatch (-want +got):\n%s", diff)
	}

	position := map[string]int{}
	for bi, b := range batches {
		for _, id := range b {
			position[id] = bi
		}
	}
	for _, s := range r.Stages {
		for _, need := range s.Needs {
			if position[need] >= position[s.ID] {
				t.Fatalf("stage %q scheduled before its need %q", s.ID, need)
			}
		}
	}
}

func TestOrderHandlesNeedsDeclaredOutOfOrder(t *testing.T) {
	// The validator forbids forward references, but the scheduler must not
	// rely on that: needs here point at later declarations.
	r := stages(
		stage("merge", "ocr", "layout"),
		stage("ocr", "scan"),
		stage("layout", "scan"),
		stage("scan"),
	)
	batches, err := Order(r)
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	want := []Batch{{"scan"}, {"ocr", "layout"}, {"merge"}}
	if diff := cmp.Diff(want, batches); diff != "" {
		t.Fatalf("batch order mismatch (-want +got):\n%s", diff)
	}
}

func TestOrderCycleFailsWithZeroBatches(t *testing.T) {
	r := stages(stage("a", "b"), stage("b", "a"))
	batches, err := Order(r)
	if batches != nil {
		t.Fatalf("expected zero batches on cycle, got %v", batches)
	}
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if !errors.Is(err, pipeerr.ErrCycle) {
		t.Fatalf("CycleError must wrap ErrCycle, got %v", err)
	}
	if len(cycleErr.Unscheduled) != 2 {
		t.Fatalf("expected both stages named unschedulable, got %v", cycleErr.Unscheduled)
	}
}

func TestOrderPartialCycleNamesOnlyStuckStages(t *testing.T) {
	r := stages(stage("scan"), stage("a", "scan", "b"), stage("b", "a"))
	_, err := Order(r)
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, cycleErr.Unscheduled); diff != "" {
		t.Fatalf("unscheduled mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildRejectsUnknownNeed(t *testing.T) {
	_, err := Build(stages(stage("a", "ghost")))
	if !errors.Is(err, pipeerr.ErrSchema) {
		t.Fatalf("expected ErrSchema for unknown need, got %v", err)
	}
}

func TestBuildRejectsSelfReference(t *testing.T) {
	_, err := Build(stages(stage("a", "a")))
	if !errors.Is(err, pipeerr.ErrSchema) {
		t.Fatalf("expected ErrSchema for self reference, got %v", err)
	}
}

func TestDownstream(t *testing.T) {
	g, err := Build(stages(
		stage("scan"),
		stage("ocr", "scan"),
		stage("merge", "ocr"),
		stage("other"),
	))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if diff := cmp.Diff([]string{"merge", "ocr"}, g.Downstream("scan")); diff != "" {
		t.Fatalf("downstream mismatch (-want +got):\n%s", diff)
	}
	if got := g.Downstream("other"); len(got) != 0 {
		t.Fatalf("expected no downstream for leaf, got %v", got)
	}
}
