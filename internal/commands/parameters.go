package commands

import (
	"encoding/json"
	"slices"
)

// Parameter describes a single argument accepted by a command.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Parameters is the immutable parameter payload of a command.
// A *Parameters is shared between the handler that declared it and the
// command registry; neither side can change it after construction.
type Parameters struct {
	params []Parameter
}

// NewParameters copies ps into a new immutable payload.
func NewParameters(ps ...Parameter) *Parameters {
	return &Parameters{params: slices.Clone(ps)}
}

// All returns a copy of the declared parameters.
func (p *Parameters) All() []Parameter {
	if p == nil {
		return nil
	}
	return slices.Clone(p.params)
}

// Len returns the number of parameters.
func (p *Parameters) Len() int {
	if p == nil {
		return 0
	}
	return len(p.params)
}

// Get returns the parameter with the given name.
func (p *Parameters) Get(name string) (Parameter, bool) {
	if p == nil {
		return Parameter{}, false
	}
	for _, param := range p.params {
		if param.Name == name {
			return param, true
		}
	}
	return Parameter{}, false
}

func (p *Parameters) MarshalJSON() ([]byte, error) {
	if p == nil || p.params == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p.params)
}

// UnmarshalJSON is only meant for decoding persisted manifests.
func (p *Parameters) UnmarshalJSON(data []byte) error {
	var params []Parameter
	if err := json.Unmarshal(data, &params); err != nil {
		return err
	}
	p.params = params
	return nil
}
