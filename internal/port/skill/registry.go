package skill

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/astrahq/astra/internal/domain"
)

// Registry holds registered skills keyed by manifest name. Input schemas
// are compiled once at registration.
type Registry struct {
	mu      sync.RWMutex
	skills  map[string]Skill
	schemas map[string]*jsonschema.Schema
}

// NewRegistry returns an empty skill registry.
func NewRegistry() *Registry {
	return &Registry{
		skills:  make(map[string]Skill),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a skill under its manifest name. Duplicate names and
// uncompilable input schemas are rejected.
func (r *Registry) Register(s Skill) error {
	m := s.Manifest()
	if m.Name == "" {
		return fmt.Errorf("%w: skill has no name", domain.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.skills[m.Name]; ok {
		return fmt.Errorf("%w: skill %q already registered", domain.ErrConflict, m.Name)
	}

	if len(m.InputSchema) > 0 {
		sch, err := compileSchema(m.Name, m.InputSchema)
		if err != nil {
			return fmt.Errorf("skill %q input schema: %w", m.Name, err)
		}
		r.schemas[m.Name] = sch
	}

	r.skills[m.Name] = s
	return nil
}

// Get returns the skill registered under name.
func (r *Registry) Get(name string) (Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.skills[name]
	if !ok {
		return nil, fmt.Errorf("%w: skill %q", domain.ErrNotFound, name)
	}
	return s, nil
}

// Has reports whether a skill is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.skills[name]
	return ok
}

// List returns the manifests of all registered skills.
func (r *Registry) List() []Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Manifest, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s.Manifest())
	}
	return out
}

// ValidateInputs checks inputs against the skill's compiled input schema.
// Skills without a schema accept anything.
func (r *Registry) ValidateInputs(name string, inputs json.RawMessage) error {
	r.mu.RLock()
	sch, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	if len(inputs) == 0 {
		inputs = json.RawMessage(`{}`)
	}
	// jsonschema.UnmarshalJSON keeps numbers as json.Number, which the
	// validator requires.
	parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(inputs))
	if err != nil {
		return fmt.Errorf("%w: inputs for skill %q are not valid JSON: %v", domain.ErrValidation, name, err)
	}
	if err := sch.Validate(parsed); err != nil {
		return fmt.Errorf("%w: inputs for skill %q: %v", domain.ErrValidation, name, err)
	}
	return nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema JSON: %w", err)
	}

	c := jsonschema.NewCompiler()
	resource := name + ".json"
	if err := c.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return sch, nil
}
