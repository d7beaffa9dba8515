package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrRecursionLimit is returned when a run takes more steps than allowed.
	ErrRecursionLimit = errors.New("graph: recursion limit reached")
	// ErrInvalidGraph wraps every structural problem found by Compile.
	ErrInvalidGraph = errors.New("graph: invalid graph")
	// ErrUnknownNode is returned when a name does not resolve to a registered node.
	ErrUnknownNode = errors.New("graph: unknown node")
)

// NodeError wraps a failure raised inside a node.
type NodeError struct {
	Node string
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q: %v", e.Node, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidGraph, fmt.Sprintf(format, args...))
}
