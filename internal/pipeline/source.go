package pipeline

import (
	"bindery/internal/module"
	"bindery/internal/recipe"
)

// Source selects the Module implementation for a stage. The choice is
// run-wide configuration: real subprocesses from the registry, deterministic
// mock producers, or in-process stubs in tests. Modes are never mixed within
// one run.
type Source interface {
	Module(stage recipe.Stage) (module.Module, error)
}

// RegistrySource resolves stages to real module executables.
type RegistrySource struct {
	Registry *module.Registry
}

func (s RegistrySource) Module(stage recipe.Stage) (module.Module, error) {
	return s.Registry.Module(stage.Module)
}

// MockSource substitutes the deterministic placeholder producer for every
// stage.
type MockSource struct{}

func (MockSource) Module(recipe.Stage) (module.Module, error) {
	return module.Mock{}, nil
}

// StubSource dispatches to in-process functions keyed by module id.
// Test-only by convention; unknown ids fall back to the default stub.
type StubSource struct {
	Stubs   map[string]module.Stub
	Default module.Stub
}

func (s StubSource) Module(stage recipe.Stage) (module.Module, error) {
	if stub, ok := s.Stubs[stage.Module]; ok {
		return stub, nil
	}
	if s.Default != nil {
		return s.Default, nil
	}
	return module.Mock{}, nil
}
