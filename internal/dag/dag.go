// # Modified from https://github.com/kro-run/kro/blob/7e437f2fe159a1e1c59d8eefd2bfa55320df4489/pkg/graph/dag/dag.go under Apache 2.0 License
//
// Original License:
//
// Copyright 2025 The Kube Resource Orchestrator Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License"). You may
// not use this file except in compliance with the License. A copy of the
// License is located at
//
//     http://aws.amazon.com/apache2.0/
//
// or in the "license" file accompanying this file. This file is distributed
// on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either
// express or implied. See the License for the specific language governing
// permissions and limitations under the License.
//
// We would like to thank the authors of kro for their outstanding work on this code.

package dag

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

var (
	ErrSelfReference = fmt.Errorf("self-references are not allowed")
	ErrAlreadyExists = fmt.Errorf("vertex already exists in the graph")
	ErrNotFound      = fmt.Errorf("vertex does not exist in the graph")
)

// DirectedAcyclicGraph represents a directed acyclic graph.
// An edge from -> to means that "to" depends on "from".
type DirectedAcyclicGraph[T cmp.Ordered] struct {
	mu sync.RWMutex
	// edges stores the outgoing edges of each vertex
	edges map[T]map[T]struct{}
	// inDegree of each vertex (number of incoming edges)
	inDegree map[T]int
}

// NewDirectedAcyclicGraph creates a new directed acyclic graph.
func NewDirectedAcyclicGraph[T cmp.Ordered]() *DirectedAcyclicGraph[T] {
	return &DirectedAcyclicGraph[T]{
		edges:    map[T]map[T]struct{}{},
		inDegree: map[T]int{},
	}
}

// AddVertex adds a new vertex to the graph.
func (d *DirectedAcyclicGraph[T]) AddVertex(id T) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.edges[id]; exists {
		return fmt.Errorf("vertex %v: %w", id, ErrAlreadyExists)
	}
	d.edges[id] = map[T]struct{}{}
	d.inDegree[id] = 0
	return nil
}

// Contains reports whether id is a vertex of the graph.
func (d *DirectedAcyclicGraph[T]) Contains(id T) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.edges[id]
	return ok
}

type CycleError[T cmp.Ordered] struct {
	Cycle []T
}

func (e *CycleError[T]) Error() string {
	parts := make([]string, len(e.Cycle))
	for i, v := range e.Cycle {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return fmt.Sprintf("the current graph would create a cycle: %s", strings.Join(parts, " -> "))
}

// AddEdge adds a directed edge from one vertex to another.
// An edge that would close a cycle is rolled back and reported as *CycleError.
func (d *DirectedAcyclicGraph[T]) AddEdge(from, to T) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.edges[from]; !ok {
		return fmt.Errorf("vertex %v: %w", from, ErrNotFound)
	}
	if _, ok := d.edges[to]; !ok {
		return fmt.Errorf("vertex %v: %w", to, ErrNotFound)
	}
	if from == to {
		return fmt.Errorf("vertex %v: %w", from, ErrSelfReference)
	}
	if _, exists := d.edges[from][to]; exists {
		return nil
	}

	d.edges[from][to] = struct{}{}
	d.inDegree[to]++

	if cyclic, cycle := d.hasCycle(); cyclic {
		delete(d.edges[from], to)
		d.inDegree[to]--
		return fmt.Errorf("adding an edge from %v to %v would create a cycle: %w", from, to, &CycleError[T]{Cycle: cycle})
	}
	return nil
}

// Vertices returns all vertices in ascending order.
func (d *DirectedAcyclicGraph[T]) Vertices() []T {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Sorted(maps.Keys(d.edges))
}

// Children returns the direct dependents of id in ascending order.
func (d *DirectedAcyclicGraph[T]) Children(id T) []T {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Sorted(maps.Keys(d.edges[id]))
}

// Roots returns all vertices without incoming edges in ascending order.
func (d *DirectedAcyclicGraph[T]) Roots() []T {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var roots []T
	for id, deg := range d.inDegree {
		if deg == 0 {
			roots = append(roots, id)
		}
	}
	slices.Sort(roots)
	return roots
}

// TopologicalSort returns the vertices in dependency order using Kahn's
// algorithm. Ties are broken by ascending vertex order, so the result is
// deterministic.
func (d *DirectedAcyclicGraph[T]) TopologicalSort() ([]T, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	inDegree := maps.Clone(d.inDegree)
	var queue []T
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	slices.Sort(queue)

	order := make([]T, 0, len(d.edges))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, child := range slices.Sorted(maps.Keys(d.edges[id])) {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
				slices.Sort(queue)
			}
		}
	}
	if len(order) != len(d.edges) {
		_, cycle := d.hasCycle()
		return nil, &CycleError[T]{Cycle: cycle}
	}
	return order, nil
}

// HasCycle reports whether the graph contains a cycle and returns one if so.
func (d *DirectedAcyclicGraph[T]) HasCycle() (bool, []T) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hasCycle()
}

func (d *DirectedAcyclicGraph[T]) hasCycle() (bool, []T) {
	visited := map[T]bool{}
	onStack := map[T]bool{}
	var path []T

	var dfs func(T) []T
	dfs = func(id T) []T {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)
		for _, next := range slices.Sorted(maps.Keys(d.edges[id])) {
			if onStack[next] {
				start := slices.Index(path, next)
				return append(slices.Clone(path[start:]), next)
			}
			if !visited[next] {
				if cycle := dfs(next); cycle != nil {
					return cycle
				}
			}
		}
		onStack[id] = false
		path = path[:len(path)-1]
		return nil
	}

	for _, id := range slices.Sorted(maps.Keys(d.edges)) {
		if !visited[id] {
			if cycle := dfs(id); cycle != nil {
				return true, cycle
			}
		}
	}
	return false, nil
}
