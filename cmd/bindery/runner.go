package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"bindery/internal/config"
	"bindery/internal/logging"
	"bindery/internal/module"
	"bindery/internal/pipeline"
	"bindery/internal/progress"
	"bindery/internal/recipe"
	"bindery/internal/runstate"
)

// runSettings collects the flags shared by run, plan, and converge.
type runSettings struct {
	recipePath  string
	outDir      string
	registryDir string
	mock        bool
	skipDone    bool
	continueOn  bool
	parallelism int
}

func (s *runSettings) applyConfig(cfg *config.Config) {
	if !s.mock {
		s.mock = cfg.Run.Mock
	}
	if !s.skipDone {
		s.skipDone = cfg.Run.SkipDone
	}
	if !s.continueOn && !cfg.Run.FailFast {
		s.continueOn = cfg.Run.ContinueOnError
	}
	if s.parallelism == 0 {
		s.parallelism = cfg.Run.Parallelism
	}
	if strings.TrimSpace(s.registryDir) == "" {
		s.registryDir = cfg.Paths.RegistryDir
	}
}

// registry resolves the module registry, or nil under mock where no real
// executables are needed.
func (s *runSettings) registry() *module.Registry {
	if s.mock {
		return nil
	}
	return module.NewRegistry(s.registryDir)
}

func (s *runSettings) resolver() recipe.ModuleResolver {
	if reg := s.registry(); reg != nil {
		return reg
	}
	return module.AllowAll{}
}

func (s *runSettings) source() pipeline.Source {
	if reg := s.registry(); reg != nil {
		return pipeline.RegistrySource{Registry: reg}
	}
	return pipeline.MockSource{}
}

// loadRecipe parses and validates the recipe against the module resolver.
func (s *runSettings) loadRecipe() (*recipe.Recipe, error) {
	path, err := config.ExpandPath(s.recipePath)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("a recipe file is required (--recipe)")
	}
	return recipe.Load(path, s.resolver())
}

// resolveOutDir places relative recipe output directories under the
// configured output root.
func (s *runSettings) resolveOutDir(cfg *config.Config, rec *recipe.Recipe) (string, error) {
	dir := strings.TrimSpace(s.outDir)
	if dir == "" {
		dir = rec.OutputDir
	}
	if dir == "" {
		dir = rec.RunID
	}
	expanded, err := config.ExpandPath(dir)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(expanded) {
		expanded = filepath.Join(cfg.Paths.OutputRoot, expanded)
	}
	return expanded, nil
}

// buildExecutor assembles the execution stack. With state enabled it opens
// the run ledger and progress log; plan-style commands pass false and get a
// side-effect-free executor. The returned cleanup must always be called.
func (s *runSettings) buildExecutor(ctx *commandContext, withState bool) (*pipeline.Executor, func(), error) {
	cleanup := func() {}

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, cleanup, err
	}
	s.applyConfig(cfg)

	rec, err := s.loadRecipe()
	if err != nil {
		return nil, cleanup, err
	}
	outDir, err := s.resolveOutDir(cfg, rec)
	if err != nil {
		return nil, cleanup, err
	}

	var store *runstate.Store
	var events *progress.Writer
	logger := logging.NewNop()
	if withState {
		if store, err = ctx.openStore(); err != nil {
			return nil, cleanup, err
		}
		if events, err = progress.NewWriter(filepath.Join(outDir, "progress.jsonl"), rec.RunID); err != nil {
			store.Close()
			return nil, cleanup, err
		}
		if logger, err = ctx.logger(); err != nil {
			store.Close()
			events.Close()
			return nil, cleanup, err
		}
		cleanup = func() {
			events.Close()
			store.Close()
		}
	}

	exec, err := pipeline.New(rec, outDir, s.source(), store, events, logger, pipeline.Options{
		Mock:            s.mock,
		SkipDone:        s.skipDone,
		ContinueOnError: s.continueOn,
		Parallelism:     s.parallelism,
	})
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return exec, cleanup, nil
}
