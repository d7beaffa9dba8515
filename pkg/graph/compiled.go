package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type runIDKey struct{}

// WithRunID pins the identifier of the next run started with ctx.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFromContext returns the run identifier visible to nodes.
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Event reports one executed node. The terminal event of a stream has
// Done set and carries the final state or the error that stopped the run.
type Event[S any] struct {
	RunID  string
	Node   string
	Update S
	State  S
	Err    error
	Done   bool
}

// CompiledGraph is an immutable, concurrency-safe runnable graph.
type CompiledGraph[S any] struct {
	name           string
	reducer        Reducer[S]
	nodes          map[string]NodeFunc[S]
	edges          map[string]string
	branches       map[string]branch[S]
	entry          string
	recursionLimit int
}

// Invoke runs the graph from the entry point until END and returns the
// final state.
func (c *CompiledGraph[S]) Invoke(ctx context.Context, input S) (S, error) {
	return c.run(ctx, input, nil)
}

// Stream runs the graph in the background. One event is sent per executed
// node, followed by a terminal event; the channel is then closed. The
// caller must drain the channel or cancel ctx.
func (c *CompiledGraph[S]) Stream(ctx context.Context, input S) <-chan Event[S] {
	out := make(chan Event[S], 1)
	if RunIDFromContext(ctx) == "" {
		ctx = WithRunID(ctx, uuid.NewString())
	}

	go func() {
		defer close(out)

		emit := func(ev Event[S]) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		final, err := c.run(ctx, input, emit)
		// best effort once ctx is cancelled
		select {
		case out <- Event[S]{RunID: RunIDFromContext(ctx), State: final, Err: err, Done: true}:
		case <-ctx.Done():
		}
	}()

	return out
}

func (c *CompiledGraph[S]) run(ctx context.Context, state S, emit func(Event[S]) bool) (S, error) {
	runID := RunIDFromContext(ctx)
	if runID == "" {
		runID = uuid.NewString()
		ctx = WithRunID(ctx, runID)
	}

	log := slog.With("graph", c.name, "run_id", runID)
	start := time.Now()
	log.DebugContext(ctx, "Graph run started", "entry", c.entry)

	current := c.entry
	for steps := 0; current != END; steps++ {
		if steps >= c.recursionLimit {
			log.WarnContext(ctx, "Graph run hit recursion limit", "limit", c.recursionLimit, "node", current)
			return state, fmt.Errorf("%w: %d steps without reaching %s", ErrRecursionLimit, c.recursionLimit, END)
		}
		if err := ctx.Err(); err != nil {
			return state, err
		}

		node, ok := c.nodes[current]
		if !ok {
			return state, fmt.Errorf("%w: %q", ErrUnknownNode, current)
		}

		stepStart := time.Now()
		update, err := node(ctx, state)
		if err != nil {
			log.ErrorContext(ctx, "Node failed", "node", current, "error", err)
			return state, &NodeError{Node: current, Err: err}
		}
		state = c.reducer(state, update)
		log.DebugContext(ctx, "Node finished", "node", current, "took", time.Since(stepStart))

		if emit != nil && !emit(Event[S]{RunID: runID, Node: current, Update: update, State: state}) {
			return state, ctx.Err()
		}

		next, err := c.next(ctx, current, state)
		if err != nil {
			return state, err
		}
		current = next
	}

	log.DebugContext(ctx, "Graph run finished", "took", time.Since(start))
	return state, nil
}

func (c *CompiledGraph[S]) next(ctx context.Context, from string, state S) (string, error) {
	if to, ok := c.edges[from]; ok {
		return to, nil
	}

	b := c.branches[from]
	key, err := b.router(ctx, state)
	if err != nil {
		return "", &NodeError{Node: from, Err: fmt.Errorf("router: %w", err)}
	}

	to := key
	if b.pathMap != nil {
		mapped, ok := b.pathMap[key]
		if !ok {
			return "", fmt.Errorf("%w: router of %q returned unmapped key %q", ErrUnknownNode, from, key)
		}
		to = mapped
	}
	if to != END {
		if _, ok := c.nodes[to]; !ok {
			return "", fmt.Errorf("%w: router of %q returned %q", ErrUnknownNode, from, to)
		}
	}
	return to, nil
}

// Name returns the label given with WithName.
func (c *CompiledGraph[S]) Name() string {
	return c.name
}
