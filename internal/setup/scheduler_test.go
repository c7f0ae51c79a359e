package setup_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocm.software/open-component-model/server/internal/capability"
	"ocm.software/open-component-model/server/internal/dag"
	"ocm.software/open-component-model/server/internal/errdefs"
	"ocm.software/open-component-model/server/internal/setup"
)

func newScheduler(t *testing.T, opts ...setup.Option) *setup.Scheduler {
	t.Helper()
	c, err := capability.New(capability.Options{
		Paths:  capability.Paths{ServerHome: t.TempDir()},
		Logger: slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)
	return setup.NewScheduler(c, opts...)
}

type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) action(name string, deps ...string) setup.Action {
	return setup.Action{Name: name, DependsOn: deps, Run: func(ctx context.Context, c *capability.Context) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.order = append(r.order, name)
		return nil
	}}
}

func TestScheduler(t *testing.T) {
	t.Run("dependencies finish before dependents start", func(t *testing.T) {
		s := newScheduler(t)
		rec := &recorder{}
		require.NoError(t, s.Enqueue(rec.action("index", "resolve")))
		require.NoError(t, s.Enqueue(rec.action("resolve")))
		require.NoError(t, s.Enqueue(rec.action("health", "index")))
		require.NoError(t, s.Enqueue(rec.action("standalone")))
		s.Complete()

		require.NoError(t, s.Await(t.Context()))
		require.Len(t, rec.order, 4)
		pos := func(n string) int { return slices.Index(rec.order, n) }
		assert.Less(t, pos("resolve"), pos("index"))
		assert.Less(t, pos("index"), pos("health"))
	})

	t.Run("actions run exactly once", func(t *testing.T) {
		s := newScheduler(t, setup.WithConcurrency(1))
		var runs atomic.Int32
		require.NoError(t, s.Enqueue(setup.Action{Name: "once", Run: func(context.Context, *capability.Context) error {
			runs.Add(1)
			return nil
		}}))
		s.Complete()
		require.NoError(t, s.Await(t.Context()))
		require.NoError(t, s.Await(t.Context()))
		assert.Equal(t, int32(1), runs.Load())
	})

	t.Run("cycles are rejected before anything runs", func(t *testing.T) {
		s := newScheduler(t)
		rec := &recorder{}
		require.NoError(t, s.Enqueue(rec.action("a", "c")))
		require.NoError(t, s.Enqueue(rec.action("b", "a")))
		require.NoError(t, s.Enqueue(rec.action("c", "b")))
		require.NoError(t, s.Enqueue(rec.action("free")))
		s.Complete()

		err := s.Await(t.Context())
		require.ErrorIs(t, err, errdefs.ErrConfiguration)
		var cycleErr *dag.CycleError[string]
		require.ErrorAs(t, err, &cycleErr)
		assert.Empty(t, rec.order)
	})

	t.Run("unknown dependencies are configuration errors", func(t *testing.T) {
		s := newScheduler(t)
		rec := &recorder{}
		require.NoError(t, s.Enqueue(rec.action("a", "missing")))
		s.Complete()
		require.ErrorIs(t, s.Await(t.Context()), errdefs.ErrConfiguration)
		assert.Empty(t, rec.order)
	})

	t.Run("failure stops dependents", func(t *testing.T) {
		s := newScheduler(t)
		rec := &recorder{}
		boom := errors.New("boom")
		require.NoError(t, s.Enqueue(setup.Action{Name: "fails", Run: func(context.Context, *capability.Context) error {
			return boom
		}}))
		require.NoError(t, s.Enqueue(rec.action("dependent", "fails")))
		s.Complete()

		err := s.Await(t.Context())
		require.ErrorIs(t, err, errdefs.ErrSetupAction)
		require.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), `"fails"`)
		assert.Empty(t, rec.order)
	})

	t.Run("queue rules", func(t *testing.T) {
		s := newScheduler(t)
		rec := &recorder{}
		require.ErrorIs(t, s.Await(t.Context()), setup.ErrNotSealed)
		require.NoError(t, s.Enqueue(rec.action("a")))
		require.ErrorIs(t, s.Enqueue(rec.action("a")), errdefs.ErrConfiguration)
		require.ErrorIs(t, s.Enqueue(setup.Action{Name: "nil"}), errdefs.ErrConfiguration)
		require.ErrorIs(t, s.Enqueue(setup.Action{Run: rec.action("x").Run}), errdefs.ErrConfiguration)
		s.Complete()
		require.ErrorIs(t, s.Enqueue(rec.action("b")), setup.ErrSealed)
		assert.Equal(t, []string{"a"}, s.Names())
	})

	t.Run("empty queue", func(t *testing.T) {
		s := newScheduler(t)
		s.Complete()
		require.NoError(t, s.Await(t.Context()))
	})
}

func TestIndependentActionsRunConcurrently(t *testing.T) {
	started := map[string]chan struct{}{"left": make(chan struct{}), "right": make(chan struct{})}
	meet := func(name, other string) setup.Action {
		return setup.Action{Name: name, DependsOn: []string{"root"}, Run: func(ctx context.Context, c *capability.Context) error {
			close(started[name])
			select {
			case <-started[other]:
				return nil
			case <-time.After(5 * time.Second):
				return fmt.Errorf("%s never saw %s start", name, other)
			}
		}}
	}

	s := newScheduler(t)
	require.NoError(t, s.Enqueue((&recorder{}).action("root")))
	require.NoError(t, s.Enqueue(meet("left", "right")))
	require.NoError(t, s.Enqueue(meet("right", "left")))
	s.Complete()
	require.NoError(t, s.Await(t.Context()))
}
