package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
	recipePath string
	outDir     string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	outputRoot := filepath.Join(base, "output")
	logDir := filepath.Join(base, "logs")
	registryDir := filepath.Join(base, "registry")
	for _, dir := range []string{outputRoot, logDir, registryDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}

	configPath := filepath.Join(base, "config.toml")
	content := fmt.Sprintf(
		"[paths]\noutput_root = %q\nlog_dir = %q\nregistry_dir = %q\n\n[logging]\nformat = \"json\"\nlevel = \"error\"\n",
		outputRoot, logDir, registryDir,
	)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	recipePath := filepath.Join(base, "recipe.yaml")
	recipe := `run_id: cli-test
input: scans/testbook
output_dir: testbook
outputs:
  pages: pages.jsonl
  book: book.json
stages:
  - id: ocr-pages
    stage: ocr
    module: tesseract-batch
    params:
      output: pages
  - id: extract-entries
    stage: extract
    module: entry-extractor
    needs: [ocr-pages]
  - id: assemble-book
    stage: assemble
    module: book-assembler
    needs: [extract-entries]
    params:
      output: book
`
	if err := os.WriteFile(recipePath, []byte(recipe), 0o644); err != nil {
		t.Fatalf("write recipe: %v", err)
	}

	return &cliTestEnv{
		baseDir:    base,
		configPath: configPath,
		recipePath: recipePath,
		outDir:     filepath.Join(outputRoot, "testbook"),
	}
}

func runCLI(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	if configPath != "" {
		args = append([]string{"--config", configPath}, args...)
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, want string) {
	t.Helper()
	if !strings.Contains(output, want) {
		t.Fatalf("output missing %q:\n%s", want, output)
	}
}

func TestCLIMockRunAndRunsListing(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env.configPath, "run", "--recipe", env.recipePath, "--mock")
	if err != nil {
		t.Fatalf("run --mock: %v", err)
	}
	requireContains(t, out, "Run completed")

	for _, rel := range []string{"pages.jsonl", "book.json", "progress.jsonl"} {
		if _, err := os.Stat(filepath.Join(env.outDir, rel)); err != nil {
			t.Fatalf("expected %s after mock run: %v", rel, err)
		}
	}

	out, _, err = runCLI(t, env.configPath, "runs")
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	requireContains(t, out, "cli-test")
	requireContains(t, out, "completed")
}

func TestCLIPlanDoesNotExecute(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env.configPath, "plan", "--recipe", env.recipePath, "--mock")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	for _, stage := range []string{"ocr-pages", "extract-entries", "assemble-book"} {
		requireContains(t, out, stage)
	}
	requireContains(t, out, "(mock)")

	if _, err := os.Stat(env.outDir); !os.IsNotExist(err) {
		t.Fatalf("plan must not create the output directory, stat err = %v", err)
	}
}

func TestCLIRunDryRunMatchesPlan(t *testing.T) {
	env := setupCLITestEnv(t)

	planOut, _, err := runCLI(t, env.configPath, "plan", "--recipe", env.recipePath, "--mock")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	dryOut, _, err := runCLI(t, env.configPath, "run", "--recipe", env.recipePath, "--mock", "--dry-run")
	if err != nil {
		t.Fatalf("run --dry-run: %v", err)
	}
	if planOut != dryOut {
		t.Fatalf("plan and dry-run diverge:\nplan:\n%s\ndry-run:\n%s", planOut, dryOut)
	}
}

func TestCLIRunRejectsUnknownModuleWithoutMock(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, env.configPath, "run", "--recipe", env.recipePath)
	if err == nil {
		t.Fatal("expected validation failure for unregistered modules")
	}
	if !strings.Contains(err.Error(), "module") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCLISessionsSummarizesProgressLog(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, _, err := runCLI(t, env.configPath, "run", "--recipe", env.recipePath, "--mock"); err != nil {
		t.Fatalf("run --mock: %v", err)
	}

	out, _, err := runCLI(t, env.configPath, "sessions", filepath.Join(env.outDir, "progress.jsonl"))
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	requireContains(t, out, "ocr-pages")
	requireContains(t, out, "Total active time")
}

func TestCLICoverageReportsMissingTargets(t *testing.T) {
	env := setupCLITestEnv(t)

	entities := filepath.Join(env.baseDir, "entries.jsonl")
	if err := os.WriteFile(entities, []byte(`{"id":"1"}`+"\n"+`{"id":"2"}`+"\n"), 0o644); err != nil {
		t.Fatalf("write entities: %v", err)
	}
	refs := filepath.Join(env.baseDir, "refs.json")
	if err := os.WriteFile(refs, []byte(`[{"id":"x","target":"2"},{"id":"y","target":"3"}]`), 0o644); err != nil {
		t.Fatalf("write refs: %v", err)
	}

	out, _, err := runCLI(t, env.configPath, "coverage", "--entities", entities, "--targets", refs)
	if err == nil {
		t.Fatal("expected coverage failure for the unresolved target")
	}
	requireContains(t, out, "missing: 3")
	requireContains(t, out, "Entities: 2")

	out, _, err = runCLI(t, env.configPath, "coverage", entities, refs, "--allow-missing", "3")
	if err != nil {
		t.Fatalf("coverage with allow-list: %v", err)
	}
	requireContains(t, out, "Missing: 1")

	out, _, err = runCLI(t, env.configPath, "coverage", entities, refs, "--backfill", "--backfill-into", entities)
	if err != nil {
		t.Fatalf("coverage --backfill: %v", err)
	}
	requireContains(t, out, "Backfilled 1 stub entities")
	data, err := os.ReadFile(entities)
	if err != nil {
		t.Fatalf("read entities: %v", err)
	}
	requireContains(t, string(data), `"id":"3"`)
}

func TestCLIConfigInitAndShow(t *testing.T) {
	env := setupCLITestEnv(t)

	target := filepath.Join(env.baseDir, "fresh", "config.toml")
	out, _, err := runCLI(t, "", "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, "", "config", "init", "--path", target); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}
	if _, _, err := runCLI(t, "", "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}

	out, _, err = runCLI(t, env.configPath, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "output_root")
	requireContains(t, out, env.configPath)
}
