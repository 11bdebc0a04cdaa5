// Package config loads, defaults, and validates bindery's TOML configuration.
//
// Configuration covers the orchestrator only: output and log directories, the
// module registry root, run policy (parallelism, fail-fast, skip-done, mock),
// convergence attempt limits, and session analyzer gap thresholds. Module
// payloads own their own settings and credentials.
package config
