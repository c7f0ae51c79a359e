// Package commands keeps the tree of command paths exposed by the server.
//
// Every registered handler contributes one path (for example ["components", "list"])
// together with its parameter payload. The registry only keeps a reference to
// that payload: lookups hand back the very same *Parameters the handler declared.
package commands

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"ocm.software/open-component-model/server/internal/errdefs"
)

// ErrNonUniqueCommandPath is returned when a full command path is registered twice.
var ErrNonUniqueCommandPath = fmt.Errorf("%w: non-unique command path", errdefs.ErrConfiguration)

// ErrEmptyCommandPath is returned for paths without segments or with empty segments.
var ErrEmptyCommandPath = errors.New("command path must consist of non-empty segments")

// Node is a single segment in the command tree.
type Node struct {
	segment  string
	order    []string
	children map[string]*Node
	// accessor yields the payload shared with the registering handler.
	accessor func() *Parameters
}

func newNode(segment string) *Node {
	return &Node{segment: segment, children: map[string]*Node{}}
}

// Segment returns the path segment of the node.
func (n *Node) Segment() string { return n.segment }

// Parameters returns the payload attached to this node, if any.
func (n *Node) Parameters() (*Parameters, bool) {
	if n.accessor == nil {
		return nil, false
	}
	return n.accessor(), true
}

// Registry is a trie of command paths. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	root  *Node
	count int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{root: newNode("")}
}

// AddCommandPath attaches params to the node addressed by segments, creating
// intermediate nodes as needed. Registering the same full path twice fails with
// ErrNonUniqueCommandPath and keeps the first payload.
func (r *Registry) AddCommandPath(segments []string, params *Parameters) error {
	if len(segments) == 0 {
		return ErrEmptyCommandPath
	}
	for _, s := range segments {
		if s == "" {
			return fmt.Errorf("%w: %q", ErrEmptyCommandPath, strings.Join(segments, " "))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	node := r.root
	for _, s := range segments {
		child, ok := node.children[s]
		if !ok {
			child = newNode(s)
			node.children[s] = child
			node.order = append(node.order, s)
		}
		node = child
	}
	if node.accessor != nil {
		return fmt.Errorf("%w: %q", ErrNonUniqueCommandPath, strings.Join(segments, " "))
	}
	node.accessor = func() *Parameters { return params }
	r.count++
	return nil
}

// Lookup returns the payload registered at the full path.
func (r *Registry) Lookup(segments ...string) (*Parameters, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node := r.root
	for _, s := range segments {
		child, ok := node.children[s]
		if !ok {
			return nil, false
		}
		node = child
	}
	return node.Parameters()
}

// Len returns the number of registered command paths.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Walk visits every node carrying a payload, depth first in registration order.
// Returning false from fn stops the walk.
func (r *Registry) Walk(fn func(path []string, params *Parameters) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	walk(r.root, nil, fn)
}

func walk(n *Node, prefix []string, fn func([]string, *Parameters) bool) bool {
	if params, ok := n.Parameters(); ok {
		if !fn(append([]string(nil), prefix...), params) {
			return false
		}
	}
	for _, s := range n.order {
		if !walk(n.children[s], append(prefix, s), fn) {
			return false
		}
	}
	return true
}

// SplitPath turns a route pattern such as "/components/list" into command segments.
func SplitPath(path string) []string {
	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}
