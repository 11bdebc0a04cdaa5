// Package pipeline executes a validated recipe: it schedules stage batches
// from the dependency graph, drives each stage through the module invocation
// contract, consults the skip-done gate, records outcomes in the run ledger,
// and emits the progress event stream.
//
// The executor itself is single-threaded control logic; only the stages of a
// ready batch run concurrently, as external processes, and their results are
// applied by the control goroutine once the batch settles.
package pipeline
