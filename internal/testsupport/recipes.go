package testsupport

import "bindery/internal/recipe"

// Stage builds a stage definition for graph and executor tests.
func Stage(id string, kind recipe.Kind, needs ...string) recipe.Stage {
	return recipe.Stage{ID: id, Kind: kind, Module: string(kind), Needs: needs}
}

// BookRecipe is a small but representative pipeline: a scan fans out to OCR
// and layout detection, both feed extraction, and assembly binds the result.
func BookRecipe(runID string) *recipe.Recipe {
	return &recipe.Recipe{
		RunID:     runID,
		Input:     "scans/testbook",
		OutputDir: "out",
		Outputs: map[string]string{
			"pages":   "pages.jsonl",
			"entries": "entries.json",
			"book":    "book.json",
		},
		Stages: []recipe.Stage{
			withOutput(Stage("ocr-pages", recipe.KindOCR), "pages"),
			Stage("layout-regions", recipe.KindLayout, "ocr-pages"),
			withOutput(Stage("extract-entries", recipe.KindExtract, "ocr-pages", "layout-regions"), "entries"),
			withOutput(Stage("assemble-book", recipe.KindAssemble, "extract-entries"), "book"),
		},
	}
}

func withOutput(s recipe.Stage, name string) recipe.Stage {
	if s.Params == nil {
		s.Params = map[string]any{}
	}
	s.Params["output"] = name
	return s
}
