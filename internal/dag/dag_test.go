package dag_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"ocm.software/open-component-model/server/internal/dag"
)

func diamond(t *testing.T) *dag.DirectedAcyclicGraph[string] {
	t.Helper()
	d := dag.NewDirectedAcyclicGraph[string]()
	for _, v := range []string{"A", "B", "C", "D", "E"} {
		require.NoError(t, d.AddVertex(v))
	}
	require.NoError(t, d.AddEdge("A", "B"))
	require.NoError(t, d.AddEdge("A", "C"))
	require.NoError(t, d.AddEdge("B", "D"))
	require.NoError(t, d.AddEdge("C", "D"))
	require.NoError(t, d.AddEdge("C", "E"))
	return d
}

func TestAddEdge(t *testing.T) {
	t.Run("rejects cycles and rolls back", func(t *testing.T) {
		d := diamond(t)
		err := d.AddEdge("D", "A")
		var cycleErr *dag.CycleError[string]
		require.ErrorAs(t, err, &cycleErr)
		assert.Equal(t, "A", cycleErr.Cycle[0])
		cyclic, _ := d.HasCycle()
		assert.False(t, cyclic)
		assert.Equal(t, []string{"A"}, d.Roots())
	})
	t.Run("rejects self references", func(t *testing.T) {
		d := diamond(t)
		require.ErrorIs(t, d.AddEdge("A", "A"), dag.ErrSelfReference)
	})
	t.Run("rejects unknown vertices", func(t *testing.T) {
		d := diamond(t)
		require.ErrorIs(t, d.AddEdge("A", "Z"), dag.ErrNotFound)
	})
	t.Run("rejects duplicate vertices", func(t *testing.T) {
		d := diamond(t)
		require.ErrorIs(t, d.AddVertex("A"), dag.ErrAlreadyExists)
	})
}

func TestTopologicalSort(t *testing.T) {
	order, err := diamond(t).TopologicalSort()
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, order)
}

func TestProcessTopology(t *testing.T) {
	t.Run("parents before children", func(t *testing.T) {
		d := diamond(t)
		var mu sync.Mutex
		var order []string
		err := d.ProcessTopology(t.Context(), dag.VertexProcessorFunc[string](func(ctx context.Context, v string) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, v)
			return nil
		}))
		require.NoError(t, err)
		require.Len(t, order, 5)
		pos := func(v string) int { return slices.Index(order, v) }
		assert.Less(t, pos("A"), pos("B"))
		assert.Less(t, pos("A"), pos("C"))
		assert.Less(t, pos("B"), pos("D"))
		assert.Less(t, pos("C"), pos("D"))
		assert.Less(t, pos("C"), pos("E"))
	})

	t.Run("eager start of independent branch", func(t *testing.T) {
		d := diamond(t)
		release := make(chan struct{})
		eDone := make(chan struct{})
		err := d.ProcessTopology(t.Context(), dag.VertexProcessorFunc[string](func(ctx context.Context, v string) error {
			switch v {
			case "B":
				select {
				case <-eDone:
				case <-time.After(5 * time.Second):
					return errors.New("E did not start while B was running")
				}
				close(release)
			case "E":
				close(eDone)
			case "D":
				<-release
			}
			return nil
		}))
		require.NoError(t, err)
	})

	t.Run("failure stops dependents", func(t *testing.T) {
		d := diamond(t)
		var ran sync.Map
		boom := errors.New("boom")
		err := d.ProcessTopology(t.Context(), dag.VertexProcessorFunc[string](func(ctx context.Context, v string) error {
			ran.Store(v, true)
			if v == "C" {
				return boom
			}
			return nil
		}))
		require.ErrorIs(t, err, boom)
		_, dRan := ran.Load("D")
		_, eRan := ran.Load("E")
		assert.False(t, dRan)
		assert.False(t, eRan)
	})

	t.Run("respects go routine limit", func(t *testing.T) {
		d := dag.NewDirectedAcyclicGraph[int]()
		for i := range 20 {
			require.NoError(t, d.AddVertex(i))
		}
		var running, peak atomic.Int32
		err := d.ProcessTopology(t.Context(), dag.VertexProcessorFunc[int](func(ctx context.Context, v int) error {
			n := running.Add(1)
			defer running.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			return nil
		}), dag.WithProcessGoRoutineLimit(2))
		require.NoError(t, err)
		assert.LessOrEqual(t, peak.Load(), int32(2))
	})

	t.Run("empty graph", func(t *testing.T) {
		require.NoError(t, dag.NewDirectedAcyclicGraph[string]().ProcessTopology(t.Context(), dag.VertexProcessorFunc[string](func(context.Context, string) error {
			return errors.New("unexpected")
		})))
	})
}

func TestProcessTopologyProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(t, "vertices")
		d := dag.NewDirectedAcyclicGraph[int]()
		for i := range n {
			if err := d.AddVertex(i); err != nil {
				t.Fatal(err)
			}
		}
		// edges only from lower to higher ids keep the graph acyclic
		var edges [][2]int
		for to := 1; to < n; to++ {
			for from := range to {
				if rapid.Bool().Draw(t, "edge") {
					if err := d.AddEdge(from, to); err != nil {
						t.Fatal(err)
					}
					edges = append(edges, [2]int{from, to})
				}
			}
		}

		var mu sync.Mutex
		count := map[int]int{}
		var order []int
		err := d.ProcessTopology(context.Background(), dag.VertexProcessorFunc[int](func(ctx context.Context, v int) error {
			mu.Lock()
			defer mu.Unlock()
			count[v]++
			order = append(order, v)
			return nil
		}))
		if err != nil {
			t.Fatal(err)
		}
		for i := range n {
			if count[i] != 1 {
				t.Fatalf("vertex %d ran %d times", i, count[i])
			}
		}
		for _, e := range edges {
			if slices.Index(order, e[0]) > slices.Index(order, e[1]) {
				t.Fatalf("edge %v violated in %v", e, order)
			}
		}
	})
}
