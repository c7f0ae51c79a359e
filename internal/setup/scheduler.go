// Package setup runs the initialization actions contributed by plugins.
//
// Actions are enqueued while plugins load, the queue is sealed with Complete
// and Await then runs every action once, each as soon as the actions it
// depends on have finished.
package setup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"ocm.software/open-component-model/server/internal/capability"
	"ocm.software/open-component-model/server/internal/dag"
	"ocm.software/open-component-model/server/internal/errdefs"
)

var (
	ErrSealed    = errors.New("setup scheduler is sealed")
	ErrNotSealed = errors.New("setup scheduler must be completed before awaiting")
)

// Action is a named unit of initialization.
type Action struct {
	Name string
	// DependsOn lists names of actions that must finish before this one starts.
	DependsOn []string
	Run       func(ctx context.Context, c *capability.Context) error
}

type Option func(*Scheduler)

// WithConcurrency limits how many actions run at the same time.
func WithConcurrency(limit int) Option {
	return func(s *Scheduler) {
		s.limit = limit
	}
}

type Scheduler struct {
	capabilities *capability.Context
	limit        int

	mu      sync.Mutex
	actions map[string]Action
	order   []string
	sealed  bool

	once sync.Once
	err  error
}

func NewScheduler(c *capability.Context, opts ...Option) *Scheduler {
	s := &Scheduler{capabilities: c, actions: map[string]Action{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue adds an action. Names must be unique.
func (s *Scheduler) Enqueue(a Action) error {
	if a.Name == "" {
		return errdefs.Configuration("setup action without name")
	}
	if a.Run == nil {
		return errdefs.Configuration("setup action %q has nothing to run", a.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return fmt.Errorf("could not enqueue setup action %q: %w", a.Name, ErrSealed)
	}
	if _, ok := s.actions[a.Name]; ok {
		return errdefs.Configuration("duplicate setup action %q", a.Name)
	}
	a.DependsOn = slices.Clone(a.DependsOn)
	s.actions[a.Name] = a
	s.order = append(s.order, a.Name)
	return nil
}

// Complete seals the queue. Further Enqueue calls fail.
func (s *Scheduler) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
}

// Names returns the enqueued action names in enqueue order.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order)
}

// Await runs all actions and returns the first failure. The dependency graph
// is validated before anything runs. Subsequent calls return the same result.
func (s *Scheduler) Await(ctx context.Context) error {
	s.mu.Lock()
	sealed := s.sealed
	s.mu.Unlock()
	if !sealed {
		return ErrNotSealed
	}
	s.once.Do(func() {
		s.err = s.run(ctx)
	})
	return s.err
}

func (s *Scheduler) graph() (*dag.DirectedAcyclicGraph[string], error) {
	g := dag.NewDirectedAcyclicGraph[string]()
	for _, name := range s.order {
		if err := g.AddVertex(name); err != nil {
			return nil, fmt.Errorf("%w: %w", errdefs.ErrConfiguration, err)
		}
	}
	for _, name := range s.order {
		for _, dep := range s.actions[name].DependsOn {
			if !g.Contains(dep) {
				return nil, errdefs.Configuration("setup action %q depends on unknown action %q", name, dep)
			}
			if err := g.AddEdge(dep, name); err != nil {
				return nil, fmt.Errorf("%w: setup action %q: %w", errdefs.ErrConfiguration, name, err)
			}
		}
	}
	return g, nil
}

func (s *Scheduler) run(ctx context.Context) error {
	g, err := s.graph()
	if err != nil {
		return err
	}
	logger := s.capabilities.Logger

	var opts []dag.ProcessTopologyOption
	if s.limit > 0 {
		opts = append(opts, dag.WithProcessGoRoutineLimit(s.limit))
	}
	return g.ProcessTopology(ctx, dag.VertexProcessorFunc[string](func(ctx context.Context, name string) error {
		action := s.actions[name]
		start := time.Now()
		logger.DebugContext(ctx, "running setup action", slog.String("action", name))
		if err := action.Run(ctx, s.capabilities); err != nil {
			return fmt.Errorf("%w: %q: %w", errdefs.ErrSetupAction, name, err)
		}
		logger.DebugContext(ctx, "setup action done", slog.String("action", name), slog.Duration("duration", time.Since(start)))
		return nil
	}), opts...)
}
