// Package converge drives bounded detect/validate/escalate cycles.
//
// Several recipes push a dataset toward completeness by repeatedly proposing
// candidate data, validating coverage, and escalating to a higher-cost repair
// scoped to whatever is still missing or invalid. This package owns that loop
// once, parameterized by the three stage callbacks, instead of each recipe
// re-implementing it.
package converge
