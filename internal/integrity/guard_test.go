package integrity

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"bindery/internal/pipeerr"
)

func TestCheckReportsMissing(t *testing.T) {
	report, _, err := Check([]string{"1", "2"}, []string{"2", "3"}, Options{})
	if !errors.Is(err, pipeerr.ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
	if report.MissingCount != 1 {
		t.Fatalf("missing_count = %d, want 1", report.MissingCount)
	}
	if diff := cmp.Diff([]string{"3"}, report.MissingSample); diff != "" {
		t.Fatalf("missing sample mismatch (-want +got):\n%s", diff)
	}
	if report.PresentCount != 1 || report.TargetCount != 2 || report.EntityCount != 2 {
		t.Fatalf("unexpected counts: %+v", report)
	}
	if report.HitRate != 0.5 {
		t.Fatalf("hit_rate = %v, want 0.5", report.HitRate)
	}
}

func TestCheckBackfillSynthesizesStubs(t *testing.T) {
	report, stubs, err := Check([]string{"1", "2"}, []string{"2", "3"}, Options{Backfill: true})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if report.MissingCount != 1 {
		t.Fatalf("backfill must still report the gap: %+v", report)
	}
	if len(stubs) != 1 || stubs[0].ID != "3" || !stubs[0].Stub {
		t.Fatalf("unexpected stubs: %+v", stubs)
	}

	known := []string{"1", "2", stubs[0].ID}
	again, _, err := Check(known, []string{"2", "3"}, Options{})
	if err != nil {
		t.Fatalf("recheck after backfill: %v", err)
	}
	if again.MissingCount != 0 {
		t.Fatalf("backfilled set should fully resolve, got %+v", again)
	}
}

func TestCheckAllowListToleratesResidual(t *testing.T) {
	report, _, err := Check([]string{"1"}, []string{"1", "999"}, Options{Allow: []string{"999"}})
	if err != nil {
		t.Fatalf("allow-listed residual must pass: %v", err)
	}
	if report.MissingCount != 1 {
		t.Fatalf("allow-listed residual is still reported: %+v", report)
	}
	if !report.AllowMissing {
		t.Fatal("report must echo the tolerance flag")
	}
}

func TestCheckEmptyTargets(t *testing.T) {
	report, _, err := Check([]string{"1"}, nil, Options{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if report.HitRate != 1 {
		t.Fatalf("empty target set hit_rate = %v, want 1", report.HitRate)
	}
}

func TestSortIDsNumericAware(t *testing.T) {
	ids := []string{"appendix", "10", "2", "monster-a", "1"}
	SortIDs(ids)
	want := []string{"1", "2", "10", "appendix", "monster-a"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Fatalf("sort mismatch (-want +got):\n%s", diff)
	}
}

func TestMissingSampleCapped(t *testing.T) {
	targets := make([]string, 0, MissingSampleLimit+25)
	for i := 0; i < MissingSampleLimit+25; i++ {
		targets = append(targets, "m"+string(rune('a'+i%26))+string(rune('a'+i/26)))
	}
	report, _, err := Check(nil, targets, Options{Backfill: true})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(report.MissingSample) != MissingSampleLimit {
		t.Fatalf("sample length = %d, want %d", len(report.MissingSample), MissingSampleLimit)
	}
	if report.MissingCount != len(targets) {
		t.Fatalf("missing_count = %d, want %d", report.MissingCount, len(targets))
	}
}

func TestCollectIDsAcrossFormats(t *testing.T) {
	dir := t.TempDir()
	entities := filepath.Join(dir, "monsters.jsonl")
	jsonl := `{"id":"1","name":"goblin"}` + "\n" + `{"id":"2","name":"orc","targets":["1"]}` + "\n"
	if err := os.WriteFile(entities, []byte(jsonl), 0o644); err != nil {
		t.Fatalf("write jsonl: %v", err)
	}
	refs := filepath.Join(dir, "encounters.json")
	doc := `{"encounters":[{"id":"e1","target":"2"},{"id":"e2","target":"3"}]}`
	if err := os.WriteFile(refs, []byte(doc), 0o644); err != nil {
		t.Fatalf("write json: %v", err)
	}

	entityIDs, targetIDs, err := CollectIDs([]string{entities, refs})
	if err != nil {
		t.Fatalf("CollectIDs: %v", err)
	}
	SortIDs(entityIDs)
	SortIDs(targetIDs)
	if diff := cmp.Diff([]string{"1", "2", "e1", "e2"}, entityIDs); diff != "" {
		t.Fatalf("entities mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"1", "2", "3"}, targetIDs); diff != "" {
		t.Fatalf("targets mismatch (-want +got):\n%s", diff)
	}
}

func TestAppendStubsJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monsters.jsonl")
	if err := os.WriteFile(path, []byte(`{"id":"1"}`+"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := AppendStubs(path, []Stub{{ID: "3", Name: "unresolved target 3", Stub: true}}); err != nil {
		t.Fatalf("AppendStubs: %v", err)
	}
	entityIDs, _, err := CollectIDs([]string{path})
	if err != nil {
		t.Fatalf("CollectIDs: %v", err)
	}
	SortIDs(entityIDs)
	if diff := cmp.Diff([]string{"1", "3"}, entityIDs); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
}

func TestAppendStubsJSONArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monsters.json")
	if err := os.WriteFile(path, []byte(`[{"id":"1"}]`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := AppendStubs(path, []Stub{{ID: "2", Stub: true}}); err != nil {
		t.Fatalf("AppendStubs: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var entities []map[string]any
	if err := json.Unmarshal(data, &entities); err != nil {
		t.Fatalf("rewritten artifact not valid JSON: %v", err)
	}
	if len(entities) != 2 || entities[1]["id"] != "2" {
		t.Fatalf("unexpected entities: %v", entities)
	}
}

func TestWriteReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coverage.json")
	report := Report{EntityCount: 2, TargetCount: 2, PresentCount: 1, MissingCount: 1, MissingSample: []string{"3"}, HitRate: 0.5}
	if err := WriteReport(path, report); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var got Report
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("report not valid JSON: %v", err)
	}
	if diff := cmp.Diff(report, got); diff != "" {
		t.Fatalf("report mismatch (-want +got):\n%s", diff)
	}
}
