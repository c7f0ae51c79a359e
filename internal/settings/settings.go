// Package settings loads and saves the YAML documents kept in the server home.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"sigs.k8s.io/yaml"
)

const (
	LocalSettingsFile  = "local-settings.yaml"
	ServerSettingsFile = "server-settings.yaml"
)

// Document is a hierarchical settings document.
type Document map[string]any

// Lookup resolves a dot separated key, for example "plugins.disabled".
func (d Document) Lookup(key string) (any, bool) {
	var cur any = map[string]any(d)
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Strings resolves key to a list of strings. Non-string entries are skipped.
func (d Document) Strings(key string) []string {
	v, ok := d.Lookup(key)
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Merge returns a copy of d with other merged on top. Nested documents are
// merged recursively, all other values from other replace those in d.
func (d Document) Merge(other Document) Document {
	out := maps.Clone(d)
	if out == nil {
		out = Document{}
	}
	for k, v := range other {
		if src, ok := v.(map[string]any); ok {
			if dst, ok := out[k].(map[string]any); ok {
				out[k] = map[string]any(Document(dst).Merge(src))
				continue
			}
		}
		out[k] = v
	}
	return out
}

// LoadDocument reads a YAML document. A missing file yields an empty document.
func LoadDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not read settings %q: %w", path, err)
	}
	doc := Document{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("could not parse settings %q: %w", path, err)
	}
	return doc, nil
}

// LoadLocal reads {home}/local-settings.yaml.
func LoadLocal(home string) (Document, error) {
	return LoadDocument(filepath.Join(home, LocalSettingsFile))
}

// Registry is a source of components the server can add to its catalog.
type Registry struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// ServerSettings is the content of server-settings.yaml.
// Keys the server does not know are preserved in Extra.
type ServerSettings struct {
	Registries []Registry `json:"registries"`
	Extra      Document   `json:"-"`
}

// LoadServer reads {home}/server-settings.yaml, creating it with an empty
// registry list if it does not exist.
func LoadServer(home string) (*ServerSettings, bool, error) {
	path := filepath.Join(home, ServerSettingsFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		s := &ServerSettings{Registries: []Registry{}}
		if err := s.Save(home); err != nil {
			return nil, false, err
		}
		return s, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("could not read server settings: %w", err)
	}

	s := &ServerSettings{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, false, fmt.Errorf("could not parse server settings: %w", err)
	}
	raw := Document{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, false, fmt.Errorf("could not parse server settings: %w", err)
	}
	delete(raw, "registries")
	s.Extra = raw
	if s.Registries == nil {
		s.Registries = []Registry{}
	}
	return s, false, nil
}

// Save writes the settings to {home}/server-settings.yaml.
func (s *ServerSettings) Save(home string) error {
	doc := maps.Clone(s.Extra)
	if doc == nil {
		doc = Document{}
	}
	registries := s.Registries
	if registries == nil {
		registries = []Registry{}
	}
	doc["registries"] = registries

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("could not encode server settings: %w", err)
	}
	if err := os.MkdirAll(home, 0o755); err != nil {
		return fmt.Errorf("could not create server home: %w", err)
	}
	if err := os.WriteFile(filepath.Join(home, ServerSettingsFile), data, 0o644); err != nil {
		return fmt.Errorf("could not write server settings: %w", err)
	}
	return nil
}

// MergeRegistries adds defaults whose name is not configured yet and reports
// whether anything changed. Configured entries win over defaults.
func (s *ServerSettings) MergeRegistries(defaults []Registry) bool {
	changed := false
	for _, def := range defaults {
		if slices.ContainsFunc(s.Registries, func(r Registry) bool { return r.Name == def.Name }) {
			continue
		}
		s.Registries = append(s.Registries, def)
		changed = true
	}
	return changed
}

// Registry returns the registry with the given name.
func (s *ServerSettings) Registry(name string) (Registry, bool) {
	i := slices.IndexFunc(s.Registries, func(r Registry) bool { return r.Name == name })
	if i < 0 {
		return Registry{}, false
	}
	return s.Registries[i], true
}
