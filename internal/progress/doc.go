// Package progress defines the per-stage event stream and its offline
// session analyzer.
//
// Events are appended to a run-scoped JSONL file, one object per line, with a
// single serialized writer so concurrent stages never interleave partial
// lines. The analyzer groups the log by stage label and splits it into
// sessions using gap heuristics keyed on the previous event's status.
package progress
