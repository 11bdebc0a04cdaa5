// Package integrity reconciles entity ids against the reference targets that
// point at them across a run's artifacts.
//
// The guard computes the missing set, emits a coverage report, and either
// fails the run or backfills deterministic stub entities so downstream
// consumers can dereference any target without special-casing.
package integrity
