package integrity

import (
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"bindery/internal/pipeerr"
)

// MissingSampleLimit caps how many unresolved targets a report names.
const MissingSampleLimit = 50

// Report is the coverage summary the guard serializes.
type Report struct {
	EntityCount   int      `json:"entity_count"`
	TargetCount   int      `json:"target_count"`
	PresentCount  int      `json:"present_count"`
	MissingCount  int      `json:"missing_count"`
	MissingSample []string `json:"missing_sample"`
	HitRate       float64  `json:"hit_rate"`
	AllowMissing  bool     `json:"allow_missing"`
}

// Stub is the minimal entity synthesized for an unresolved target.
type Stub struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Stub bool   `json:"stub"`
}

// Options controls the guard's policy.
type Options struct {
	// Backfill synthesizes stub entities instead of failing on missing targets.
	Backfill bool
	// Allow lists target ids tolerated as residual gaps.
	Allow []string
}

// Check reconciles targets against known entity ids. With backfill disabled,
// a nonempty missing set (beyond the allow-list) is an integrity violation.
// The report is returned in both cases; stubs only when backfill is enabled.
func Check(entityIDs, targetIDs []string, opts Options) (Report, []Stub, error) {
	known := make(map[string]struct{}, len(entityIDs))
	for _, id := range entityIDs {
		known[id] = struct{}{}
	}
	targets := make(map[string]struct{}, len(targetIDs))
	for _, id := range targetIDs {
		targets[id] = struct{}{}
	}
	allowed := make(map[string]struct{}, len(opts.Allow))
	for _, id := range opts.Allow {
		allowed[id] = struct{}{}
	}

	var missing []string
	present := 0
	for id := range targets {
		if _, ok := known[id]; ok {
			present++
		} else {
			missing = append(missing, id)
		}
	}
	SortIDs(missing)

	report := Report{
		EntityCount:  len(known),
		TargetCount:  len(targets),
		PresentCount: present,
		MissingCount: len(missing),
		AllowMissing: opts.Backfill || len(opts.Allow) > 0,
	}
	if len(targets) > 0 {
		report.HitRate = float64(present) / float64(len(targets))
	} else {
		report.HitRate = 1
	}
	sample := missing
	if len(sample) > MissingSampleLimit {
		sample = sample[:MissingSampleLimit]
	}
	report.MissingSample = append([]string{}, sample...)

	residual := missing[:0:0]
	for _, id := range missing {
		if _, ok := allowed[id]; !ok {
			residual = append(residual, id)
		}
	}

	if opts.Backfill {
		stubs := make([]Stub, 0, len(missing))
		for _, id := range missing {
			stubs = append(stubs, Stub{ID: id, Name: "unresolved target " + id, Stub: true})
		}
		return report, stubs, nil
	}

	if len(residual) > 0 {
		return report, nil, pipeerr.Wrap(pipeerr.ErrIntegrity, "", "check targets",
			fmt.Sprintf("%d unresolved targets (first: %s)", len(residual), residual[0]), nil)
	}
	return report, nil, nil
}

// SortIDs orders ids deterministically with numeric awareness: ids that are
// numbers sort before non-numeric ids and compare by value, so "9" precedes
// "10" and both precede "appendix".
func SortIDs(ids []string) {
	c := collate.New(language.Und, collate.Numeric)
	c.SortStrings(ids)
}

// WriteReport serializes the report as indented JSON.
func WriteReport(path string, report Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal coverage report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write coverage report: %w", err)
	}
	return nil
}
