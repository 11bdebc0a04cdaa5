// Package runstate persists the per-run ledger: which stages completed,
// where their artifacts live, and the input fingerprints that produced them.
//
// The ledger is the explicit source of truth for "what's done" — resumption
// consults it instead of ambient filesystem state. It is created at run start
// or resumed from a prior database, mutated only as stages complete, and
// never cleaned up automatically.
package runstate
