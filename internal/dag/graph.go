package dag

import (
	"fmt"
	"sort"
	"strings"

	"bindery/internal/pipeerr"
	"bindery/internal/recipe"
)

// Batch is a set of stage ids with no unmet dependencies among themselves.
// Stages within a batch may execute concurrently; the slice preserves recipe
// declaration order so logs stay reproducible.
type Batch []string

// CycleError reports stages that can never be scheduled because their needs
// form a cycle.
type CycleError struct {
	Unscheduled []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle leaves stages unschedulable: %s", strings.Join(e.Unscheduled, ", "))
}

func (e *CycleError) Unwrap() error { return pipeerr.ErrCycle }

// Graph is an immutable dependency graph over a recipe's stages. Safe for
// concurrent reads.
type Graph struct {
	ids       []string // by dense index, in declaration order
	indexByID map[string]int
	incoming  [][]int // needs edges: dependency -> dependent, stored reversed
	outgoing  [][]int
	indeg     []int
}

// Build constructs the graph from a recipe. Unknown need references are
// rejected here as well so the scheduler never trusts upstream validation.
func Build(r *recipe.Recipe) (*Graph, error) {
	n := len(r.Stages)
	g := &Graph{
		ids:       make([]string, n),
		indexByID: make(map[string]int, n),
		incoming:  make([][]int, n),
		outgoing:  make([][]int, n),
		indeg:     make([]int, n),
	}
	for i, s := range r.Stages {
		if _, dup := g.indexByID[s.ID]; dup {
			return nil, pipeerr.Wrap(pipeerr.ErrSchema, s.ID, "build graph", "duplicate stage id", nil)
		}
		g.ids[i] = s.ID
		g.indexByID[s.ID] = i
	}
	for i, s := range r.Stages {
		seen := make(map[int]struct{}, len(s.Needs))
		for _, need := range s.Needs {
			dep, ok := g.indexByID[need]
			if !ok {
				return nil, pipeerr.Wrap(pipeerr.ErrSchema, s.ID, "build graph", fmt.Sprintf("needs unknown stage %q", need), nil)
			}
			if dep == i {
				return nil, pipeerr.Wrap(pipeerr.ErrSchema, s.ID, "build graph", "stage depends on itself", nil)
			}
			if _, dupEdge := seen[dep]; dupEdge {
				continue
			}
			seen[dep] = struct{}{}
			g.incoming[i] = append(g.incoming[i], dep)
			g.outgoing[dep] = append(g.outgoing[dep], i)
			g.indeg[i]++
		}
		sort.Ints(g.incoming[i])
	}
	for i := range g.outgoing {
		sort.Ints(g.outgoing[i])
	}
	return g, nil
}

// Len returns the number of stages in the graph.
func (g *Graph) Len() int { return len(g.ids) }

// Dependents returns the ids of stages that directly need the given stage.
func (g *Graph) Dependents(id string) []string {
	idx, ok := g.indexByID[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.outgoing[idx]))
	for _, d := range g.outgoing[idx] {
		out = append(out, g.ids[d])
	}
	return out
}

// Downstream returns every stage transitively reachable from the given stage.
func (g *Graph) Downstream(id string) []string {
	idx, ok := g.indexByID[id]
	if !ok {
		return nil
	}
	seen := make([]bool, len(g.ids))
	var stack []int
	stack = append(stack, g.outgoing[idx]...)
	var out []string
	for len(stack) > 0 {
		u := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, g.ids[u])
		stack = append(stack, g.outgoing[u]...)
	}
	sort.Strings(out)
	return out
}

// Order computes the batched topological order. Every stage in a batch has
// all its needs satisfied by earlier batches. A cycle yields a CycleError
// naming the unscheduled ids and zero batches.
func (g *Graph) Order() ([]Batch, error) {
	n := len(g.ids)
	indeg := make([]int, n)
	copy(indeg, g.indeg)

	scheduled := 0
	ready := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			ready = append(ready, i)
		}
	}

	var batches []Batch
	for len(ready) > 0 {
		sort.Ints(ready) // declaration-order tie-break
		batch := make(Batch, 0, len(ready))
		var next []int
		for _, u := range ready {
			batch = append(batch, g.ids[u])
			scheduled++
			for _, v := range g.outgoing[u] {
				indeg[v]--
				if indeg[v] == 0 {
					next = append(next, v)
				}
			}
		}
		batches = append(batches, batch)
		ready = next
	}

	if scheduled != n {
		var stuck []string
		for i := 0; i < n; i++ {
			if indeg[i] > 0 {
				stuck = append(stuck, g.ids[i])
			}
		}
		return nil, &CycleError{Unscheduled: stuck}
	}
	return batches, nil
}

// Order is the package-level convenience over Build + Graph.Order.
func Order(r *recipe.Recipe) ([]Batch, error) {
	g, err := Build(r)
	if err != nil {
		return nil, err
	}
	return g.Order()
}
