package plugin

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the name of the manifest in a plugin directory.
const ManifestFile = "plugin.yaml"

// Manifest is the content of plugin.yaml.
type Manifest struct {
	Name        string `yaml:"name" json:"name" jsonschema:"minLength=1,pattern=^[a-z0-9][a-z0-9._-]*$"`
	Package     string `yaml:"package" json:"package" jsonschema:"minLength=1"`
	Version     string `yaml:"version" json:"version" jsonschema:"minLength=1"`
	Server      string `yaml:"server,omitempty" json:"server,omitempty" jsonschema:"description=semver constraint on the server version"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// ManifestSchema returns the JSON schema plugin manifests are validated against.
func ManifestSchema() ([]byte, error) {
	r := &invopop.Reflector{ExpandedStruct: true}
	return r.Reflect(&Manifest{}).MarshalJSON()
}

type manifestValidator struct {
	schema *jsonschema.Schema
}

func newManifestValidator() (*manifestValidator, error) {
	raw, err := ManifestSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to reflect manifest schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("plugin.schema.json", doc); err != nil {
		return nil, fmt.Errorf("failed to add plugin.schema.json: %w", err)
	}
	sch, err := c.Compile("plugin.schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile plugin.schema.json: %w", err)
	}
	return &manifestValidator{schema: sch}, nil
}

func (v *manifestValidator) validate(m *Manifest, serverVersion *semver.Version) error {
	content, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	if err := v.schema.Validate(inst); err != nil {
		return err
	}

	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("invalid plugin version %q: %w", m.Version, err)
	}
	if m.Server == "" || serverVersion == nil {
		return nil
	}
	constraint, err := semver.NewConstraint(m.Server)
	if err != nil {
		return fmt.Errorf("invalid server constraint %q: %w", m.Server, err)
	}
	if ok, errs := constraint.Validate(releaseOf(serverVersion)); !ok {
		return fmt.Errorf("server version %s does not satisfy %q: %w", serverVersion, m.Server, errors.Join(errs...))
	}
	return nil
}

// releaseOf drops prerelease and metadata, so development and pseudo versions
// satisfy constraints written against the release they lead to.
func releaseOf(v *semver.Version) *semver.Version {
	if v.Prerelease() == "" && v.Metadata() == "" {
		return v
	}
	return semver.New(v.Major(), v.Minor(), v.Patch(), "", "")
}

// ReadManifest decodes a plugin manifest. Unknown keys are rejected.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read plugin manifest: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	m := &Manifest{}
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("could not decode plugin manifest %q: %w", path, err)
	}
	return m, nil
}
