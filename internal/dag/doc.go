// Package dag turns a recipe's "needs" edges into a dependency graph and
// computes a batched topological execution order.
//
// Stages are mapped to dense integer indices at build time so cycle detection
// and ordering operate on plain integer adjacency lists, independent of
// string ids and of the order needs were declared in.
package dag
