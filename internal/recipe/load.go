package recipe

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"bindery/internal/pipeerr"
)

// ModuleResolver reports whether a module registry key is known. The module
// registry satisfies this; tests substitute a map-backed stub.
type ModuleResolver interface {
	Has(name string) bool
}

// Load parses and validates a recipe file. YAML is the native format; JSON
// recipes parse through the same decoder since YAML is a superset.
func Load(path string, modules ModuleResolver) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pipeerr.Wrap(pipeerr.ErrParse, "", "load recipe", path, err)
	}

	var r Recipe
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&r); err != nil {
		return nil, pipeerr.Wrap(pipeerr.ErrParse, "", "decode recipe", path, err)
	}

	// Recipes may omit run_id; each load then gets a fresh run identity.
	if strings.TrimSpace(r.RunID) == "" {
		r.RunID = uuid.NewString()
	}

	if err := r.Validate(modules); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks structural well-formedness: unique stage ids, needs that
// resolve to previously declared stages, known kinds, registered modules, and
// output references that resolve to declared logical names.
func (r *Recipe) Validate(modules ModuleResolver) error {
	if r.RunID == "" {
		return schemaErr("recipe run_id is required")
	}
	if r.OutputDir == "" {
		return schemaErr("recipe output_dir is required")
	}
	if len(r.Stages) == 0 {
		return schemaErr("recipe declares no stages")
	}

	seen := make(map[string]int, len(r.Stages))
	for i, s := range r.Stages {
		if s.ID == "" {
			return schemaErr(fmt.Sprintf("stage %d has no id", i))
		}
		if _, dup := seen[s.ID]; dup {
			return schemaErr(fmt.Sprintf("duplicate stage id %q", s.ID))
		}
		if !s.Kind.Valid() {
			return schemaErr(fmt.Sprintf("stage %q: unknown stage kind %q", s.ID, s.Kind))
		}
		if s.Module == "" {
			return schemaErr(fmt.Sprintf("stage %q: module is required", s.ID))
		}
		if modules != nil && !modules.Has(s.Module) {
			return schemaErr(fmt.Sprintf("stage %q: module %q not found in registry", s.ID, s.Module))
		}
		for _, need := range s.Needs {
			if need == s.ID {
				return schemaErr(fmt.Sprintf("stage %q depends on itself", s.ID))
			}
			if _, declared := seen[need]; !declared {
				return schemaErr(fmt.Sprintf("stage %q needs %q, which is not a previously declared stage", s.ID, need))
			}
		}
		if name := s.Output(); name != "" {
			if _, ok := r.Outputs[name]; !ok {
				return schemaErr(fmt.Sprintf("stage %q writes output %q, which is not declared in outputs", s.ID, name))
			}
		}
		seen[s.ID] = i
	}
	return nil
}

func schemaErr(message string) error {
	return pipeerr.Wrap(pipeerr.ErrSchema, "", "validate recipe", message, nil)
}
