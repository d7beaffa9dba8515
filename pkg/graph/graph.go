// Package graph is a small state-graph runtime. Nodes receive the current
// state and return a partial update which a reducer folds back into it;
// edges, static or routed, pick the next node until END is reached.
package graph

import (
	"context"
)

const (
	// START is the virtual node preceding the entry point.
	START = "__start__"
	// END terminates a run when chosen as the next node.
	END = "__end__"
)

// NodeFunc runs one step and returns a partial update of the state.
type NodeFunc[S any] func(ctx context.Context, state S) (S, error)

// Reducer merges a partial update into the running state.
type Reducer[S any] func(current, update S) S

// Router chooses the next hop from the state a node left behind.
type Router[S any] func(ctx context.Context, state S) (string, error)

type branch[S any] struct {
	router  Router[S]
	pathMap map[string]string
}

// StateGraph is the mutable definition of a graph. Compile it to run it.
type StateGraph[S any] struct {
	reducer  Reducer[S]
	nodes    map[string]NodeFunc[S]
	order    []string
	edges    map[string]string
	branches map[string]branch[S]
	entry    string
}

// NewStateGraph creates an empty graph. A nil reducer replaces the state
// with each update.
func NewStateGraph[S any](reducer Reducer[S]) *StateGraph[S] {
	if reducer == nil {
		reducer = func(_, update S) S { return update }
	}
	return &StateGraph[S]{
		reducer:  reducer,
		nodes:    make(map[string]NodeFunc[S]),
		edges:    make(map[string]string),
		branches: make(map[string]branch[S]),
	}
}

// AddNode registers fn under name.
func (g *StateGraph[S]) AddNode(name string, fn NodeFunc[S]) error {
	switch {
	case name == "":
		return invalid("node name is empty")
	case name == START || name == END:
		return invalid("node name %q is reserved", name)
	case fn == nil:
		return invalid("node %q has no function", name)
	}
	if _, exists := g.nodes[name]; exists {
		return invalid("node %q already exists", name)
	}
	g.nodes[name] = fn
	g.order = append(g.order, name)
	return nil
}

// SetEntryPoint makes name the first node of every run.
func (g *StateGraph[S]) SetEntryPoint(name string) error {
	if name == "" || name == END {
		return invalid("entry point %q is not a node", name)
	}
	g.entry = name
	return nil
}

// SetFinishPoint connects name to END.
func (g *StateGraph[S]) SetFinishPoint(name string) error {
	return g.AddEdge(name, END)
}

// AddEdge connects from to to. A node has at most one static edge.
func (g *StateGraph[S]) AddEdge(from, to string) error {
	if from == START {
		return g.SetEntryPoint(to)
	}
	if from == END {
		return invalid("END cannot have outgoing edges")
	}
	if prev, ok := g.edges[from]; ok {
		return invalid("node %q already has an edge to %q", from, prev)
	}
	g.edges[from] = to
	return nil
}

// AddConditionalEdges routes from through router. When pathMap is non-nil
// the router's key is translated through it, otherwise the key is used as
// the node name directly.
func (g *StateGraph[S]) AddConditionalEdges(from string, router Router[S], pathMap map[string]string) error {
	if router == nil {
		return invalid("node %q has a nil router", from)
	}
	if _, ok := g.branches[from]; ok {
		return invalid("node %q already has a router", from)
	}
	g.branches[from] = branch[S]{router: router, pathMap: pathMap}
	return nil
}

// Compile validates the definition and freezes it into a runnable graph.
func (g *StateGraph[S]) Compile(opts ...CompileOption) (*CompiledGraph[S], error) {
	cfg := compileConfig{recursionLimit: DefaultRecursionLimit, name: "graph"}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.recursionLimit <= 0 {
		return nil, invalid("recursion limit must be positive, got %d", cfg.recursionLimit)
	}

	if g.entry == "" {
		return nil, invalid("entry point is not set")
	}
	if _, ok := g.nodes[g.entry]; !ok {
		return nil, invalid("entry point %q is not a registered node", g.entry)
	}

	for from, to := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return nil, invalid("edge source %q is not a registered node", from)
		}
		if to != END {
			if _, ok := g.nodes[to]; !ok {
				return nil, invalid("edge target %q is not a registered node", to)
			}
		}
		if _, ok := g.branches[from]; ok {
			return nil, invalid("node %q has both an edge and a router", from)
		}
	}

	for from, b := range g.branches {
		if _, ok := g.nodes[from]; !ok {
			return nil, invalid("router source %q is not a registered node", from)
		}
		for key, to := range b.pathMap {
			if to == END {
				continue
			}
			if _, ok := g.nodes[to]; !ok {
				return nil, invalid("router path %q of %q targets unknown node %q", key, from, to)
			}
		}
	}

	for _, name := range g.order {
		_, hasEdge := g.edges[name]
		_, hasBranch := g.branches[name]
		if !hasEdge && !hasBranch {
			return nil, invalid("node %q has no outgoing edge", name)
		}
	}

	c := &CompiledGraph[S]{
		name:           cfg.name,
		reducer:        g.reducer,
		nodes:          make(map[string]NodeFunc[S], len(g.nodes)),
		edges:          make(map[string]string, len(g.edges)),
		branches:       make(map[string]branch[S], len(g.branches)),
		entry:          g.entry,
		recursionLimit: cfg.recursionLimit,
	}
	for k, v := range g.nodes {
		c.nodes[k] = v
	}
	for k, v := range g.edges {
		c.edges[k] = v
	}
	for k, v := range g.branches {
		c.branches[k] = v
	}
	return c, nil
}

// Nodes lists registered node names in insertion order.
func (g *StateGraph[S]) Nodes() []string {
	return append([]string(nil), g.order...)
}

// DefaultRecursionLimit bounds the steps of one run.
const DefaultRecursionLimit = 25

type compileConfig struct {
	recursionLimit int
	name           string
}

// CompileOption tunes a compiled graph.
type CompileOption func(*compileConfig)

// WithRecursionLimit overrides DefaultRecursionLimit.
func WithRecursionLimit(n int) CompileOption {
	return func(c *compileConfig) { c.recursionLimit = n }
}

// WithName labels the graph in logs.
func WithName(name string) CompileOption {
	return func(c *compileConfig) {
		if name != "" {
			c.name = name
		}
	}
}
