package recipe

import "strings"

// Kind classifies what shape of artifact a stage produces. The orchestrator
// uses it only for mock-mode placeholder generation; the modules themselves
// define payload semantics.
type Kind string

const (
	// KindOCR produces per-page recognized text as JSONL.
	KindOCR Kind = "ocr"
	// KindLayout produces page layout regions as JSONL.
	KindLayout Kind = "layout"
	// KindExtract produces structured entries as a JSON document.
	KindExtract Kind = "extract"
	// KindEnrich rewrites an existing JSON document with added fields.
	KindEnrich Kind = "enrich"
	// KindValidate produces a coverage/consistency report as JSON.
	KindValidate Kind = "validate"
	// KindRepair rewrites a JSON document scoped to flagged items.
	KindRepair Kind = "repair"
	// KindSanitize produces cleaned HTML fragments as JSONL.
	KindSanitize Kind = "sanitize"
	// KindAssemble produces the final bound artifact as JSON.
	KindAssemble Kind = "assemble"
)

var knownKinds = map[Kind]struct{}{
	KindOCR:      {},
	KindLayout:   {},
	KindExtract:  {},
	KindEnrich:   {},
	KindValidate: {},
	KindRepair:   {},
	KindSanitize: {},
	KindAssemble: {},
}

// Valid reports whether the kind is one bindery recognizes.
func (k Kind) Valid() bool {
	_, ok := knownKinds[k]
	return ok
}

// JSONL reports whether the kind produces newline-delimited JSON rather than
// a single document.
func (k Kind) JSONL() bool {
	switch k {
	case KindOCR, KindLayout, KindSanitize:
		return true
	}
	return false
}

// Stage is one node in the pipeline DAG, bound to a module and a set of
// dependencies on previously declared stages.
type Stage struct {
	ID     string         `yaml:"id"`
	Kind   Kind           `yaml:"stage"`
	Module string         `yaml:"module"`
	Needs  []string       `yaml:"needs"`
	Params map[string]any `yaml:"params"`
}

// Output returns the logical output name declared in the stage params, if any.
func (s Stage) Output() string {
	v, ok := s.Params["output"]
	if !ok {
		return ""
	}
	name, _ := v.(string)
	return strings.TrimSpace(name)
}

// Recipe is a declarative pipeline definition. RunID and OutputDir are
// immutable for the recipe's lifetime.
type Recipe struct {
	RunID     string            `yaml:"run_id"`
	Input     string            `yaml:"input"`
	OutputDir string            `yaml:"output_dir"`
	Outputs   map[string]string `yaml:"outputs"`
	Stages    []Stage           `yaml:"stages"`
}

// StageByID returns the stage with the given id.
func (r *Recipe) StageByID(id string) (Stage, bool) {
	for _, s := range r.Stages {
		if s.ID == id {
			return s, true
		}
	}
	return Stage{}, false
}

// OutputPath resolves a logical output name to its path relative to OutputDir.
func (r *Recipe) OutputPath(name string) (string, bool) {
	rel, ok := r.Outputs[name]
	return rel, ok
}
