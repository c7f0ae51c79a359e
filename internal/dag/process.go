package dag

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
)

type ProcessTopologyOptions struct {
	// GoRoutineLimit limits the number of vertices processed at the same time.
	// If 0, there is no limit.
	GoRoutineLimit int
}

type ProcessTopologyOption func(*ProcessTopologyOptions)

func WithProcessGoRoutineLimit(limit int) ProcessTopologyOption {
	return func(o *ProcessTopologyOptions) {
		o.GoRoutineLimit = limit
	}
}

type VertexProcessor[T cmp.Ordered] interface {
	ProcessVertex(ctx context.Context, vertex T) error
}

type VertexProcessorFunc[T cmp.Ordered] func(ctx context.Context, vertex T) error

func (f VertexProcessorFunc[T]) ProcessVertex(ctx context.Context, vertex T) error {
	return f(ctx, vertex)
}

// ProcessTopology processes every vertex exactly once, after all of its
// parents have been processed.
//
//	  A
//	 / \
//	B   C
//	 \ / \
//	  D   E
//
// Processing is eager: E starts as soon as C is done, without waiting for B.
// Vertices whose parents are done run concurrently.
//
// The first error cancels the context passed to running processors and no
// further vertex is started. The graph itself is not modified.
func (d *DirectedAcyclicGraph[T]) ProcessTopology(ctx context.Context, processor VertexProcessor[T], opts ...ProcessTopologyOption) error {
	options := &ProcessTopologyOptions{}
	for _, opt := range opts {
		opt(options)
	}

	d.mu.RLock()
	if cyclic, cycle := d.hasCycle(); cyclic {
		d.mu.RUnlock()
		return &CycleError[T]{Cycle: cycle}
	}
	children := make(map[T][]T, len(d.edges))
	for id, edges := range d.edges {
		children[id] = slices.Sorted(maps.Keys(edges))
	}
	remaining := maps.Clone(d.inDegree)
	d.mu.RUnlock()

	if len(children) == 0 {
		return nil
	}

	var sem chan struct{}
	if options.GoRoutineLimit > 0 {
		sem = make(chan struct{}, options.GoRoutineLimit)
	}

	eg, egctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	var schedule func(id T)
	schedule = func(id T) {
		eg.Go(func() error {
			if sem != nil {
				select {
				case sem <- struct{}{}:
				case <-egctx.Done():
					return egctx.Err()
				}
				defer func() { <-sem }()
			}
			// a failed sibling cancels egctx; nothing new starts after that
			if err := egctx.Err(); err != nil {
				return err
			}
			if err := processor.ProcessVertex(egctx, id); err != nil {
				return fmt.Errorf("failed to process vertex with id %v: %w", id, err)
			}

			mu.Lock()
			var ready []T
			for _, child := range children[id] {
				remaining[child]--
				if remaining[child] == 0 {
					ready = append(ready, child)
				}
			}
			mu.Unlock()

			for _, child := range ready {
				schedule(child)
			}
			return nil
		})
	}

	var roots []T
	for id, deg := range remaining {
		if deg == 0 {
			roots = append(roots, id)
		}
	}
	slices.Sort(roots)
	for _, root := range roots {
		schedule(root)
	}
	return eg.Wait()
}
