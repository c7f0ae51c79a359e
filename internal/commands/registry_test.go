package commands_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"ocm.software/open-component-model/server/internal/commands"
	"ocm.software/open-component-model/server/internal/errdefs"
)

func TestRegistry(t *testing.T) {
	t.Run("lookup returns the registered payload", func(t *testing.T) {
		r := commands.NewRegistry()
		p := commands.NewParameters(commands.Parameter{Name: "name", Required: true})
		require.NoError(t, r.AddCommandPath([]string{"components", "details"}, p))

		got, ok := r.Lookup("components", "details")
		require.True(t, ok)
		assert.Same(t, p, got)

		_, ok = r.Lookup("components")
		assert.False(t, ok, "intermediate nodes carry no payload")
	})

	t.Run("duplicate path keeps first payload", func(t *testing.T) {
		r := commands.NewRegistry()
		first := commands.NewParameters()
		second := commands.NewParameters(commands.Parameter{Name: "x"})
		require.NoError(t, r.AddCommandPath([]string{"list"}, first))

		err := r.AddCommandPath([]string{"list"}, second)
		require.ErrorIs(t, err, commands.ErrNonUniqueCommandPath)
		require.ErrorIs(t, err, errdefs.ErrConfiguration)

		got, ok := r.Lookup("list")
		require.True(t, ok)
		assert.Same(t, first, got)
		assert.Equal(t, 1, r.Len())
	})

	t.Run("empty segments are rejected", func(t *testing.T) {
		r := commands.NewRegistry()
		require.ErrorIs(t, r.AddCommandPath(nil, nil), commands.ErrEmptyCommandPath)
		require.ErrorIs(t, r.AddCommandPath([]string{"a", ""}, nil), commands.ErrEmptyCommandPath)
	})

	t.Run("walk follows registration order", func(t *testing.T) {
		r := commands.NewRegistry()
		require.NoError(t, r.AddCommandPath([]string{"b"}, nil))
		require.NoError(t, r.AddCommandPath([]string{"a", "x"}, nil))
		require.NoError(t, r.AddCommandPath([]string{"a"}, nil))

		var paths [][]string
		r.Walk(func(path []string, _ *commands.Parameters) bool {
			paths = append(paths, path)
			return true
		})
		assert.Equal(t, [][]string{{"b"}, {"a"}, {"a", "x"}}, paths)
	})

	t.Run("concurrent registration", func(t *testing.T) {
		r := commands.NewRegistry()
		var wg sync.WaitGroup
		for i := range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, r.AddCommandPath([]string{"cmd", fmt.Sprint(i)}, commands.NewParameters()))
			}()
		}
		wg.Wait()
		assert.Equal(t, 50, r.Len())
	})
}

func TestRegistryProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		segment := rapid.SampledFrom([]string{"a", "b", "c", "list", "add"})
		paths := rapid.SliceOfN(rapid.SliceOfN(segment, 1, 4), 1, 30).Draw(t, "paths")

		r := commands.NewRegistry()
		first := map[string]*commands.Parameters{}
		for _, path := range paths {
			key := fmt.Sprint(path)
			p := commands.NewParameters()
			err := r.AddCommandPath(path, p)
			if _, seen := first[key]; seen {
				if err == nil {
					t.Fatalf("duplicate path %v accepted", path)
				}
				continue
			}
			if err != nil {
				t.Fatalf("unexpected error for %v: %v", path, err)
			}
			first[key] = p
		}

		if r.Len() != len(first) {
			t.Fatalf("expected %d paths, got %d", len(first), r.Len())
		}
		for _, path := range paths {
			got, ok := r.Lookup(path...)
			if !ok || got != first[fmt.Sprint(path)] {
				t.Fatalf("lookup of %v did not return the first registered payload", path)
			}
		}
	})
}

func TestSplitPath(t *testing.T) {
	assert.Equal(t, []string{"components", "list"}, commands.SplitPath("/components//list/"))
	assert.Nil(t, commands.SplitPath("/"))
}

func TestParametersImmutable(t *testing.T) {
	src := []commands.Parameter{{Name: "a"}}
	p := commands.NewParameters(src...)
	src[0].Name = "changed"
	all := p.All()
	all[0].Name = "changed too"

	got, ok := p.Get("a")
	require.True(t, ok)
	assert.Equal(t, "a", got.Name)
	assert.Equal(t, 1, p.Len())
}
