// Package module defines the uniform process-boundary contract every pipeline
// stage uses to exchange artifacts.
//
// A Module either exits cleanly and leaves its declared output artifact in
// place, or it fails and the orchestrator escalates per run policy. Three
// implementations exist: CLI wraps a real subprocess from the registry, Mock
// writes deterministic placeholder artifacts for wiring tests, and Stub
// adapts an in-process function for unit tests. Selection is configuration,
// never mixed silently within one run.
package module
