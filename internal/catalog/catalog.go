// Package catalog holds the components that were added to the server.
package catalog

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

var (
	ErrExists   = errors.New("entry already exists")
	ErrNotFound = errors.New("entry not found")
)

// Entry is a component taken from a registry.
type Entry struct {
	Name        string    `json:"name"`
	Registry    string    `json:"registry"`
	Version     string    `json:"version,omitempty"`
	Description string    `json:"description,omitempty"`
	AddedAt     time.Time `json:"addedAt"`
}

// Catalog is an in-memory set of entries keyed by name.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func New() *Catalog {
	return &Catalog{entries: map[string]Entry{}}
}

func (c *Catalog) Add(e Entry) error {
	if strings.TrimSpace(e.Name) == "" {
		return errors.New("entry name must not be empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[e.Name]; ok {
		return fmt.Errorf("%q: %w", e.Name, ErrExists)
	}
	if e.AddedAt.IsZero() {
		e.AddedAt = time.Now().UTC()
	}
	c.entries[e.Name] = e
	return nil
}

func (c *Catalog) Get(name string) (Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	if !ok {
		return Entry{}, fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	return e, nil
}

func (c *Catalog) Remove(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[name]; !ok {
		return fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	delete(c.entries, name)
	return nil
}

// List returns all entries sorted by name.
func (c *Catalog) List() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Name, b.Name) })
	return out
}
