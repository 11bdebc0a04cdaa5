// Package recipe defines the declarative pipeline model and its loader.
//
// A recipe names a run, an input, an output directory, a set of logical
// output artifacts, and an ordered sequence of stages wired together by
// "needs" edges. Loading is a pure parse + validate; a recipe that fails
// validation is never partially executed.
package recipe
