package pipeline

import "github.com/oxisdev/oxis/internal/stage"

// Registry resolves a step's declared name to a concrete Stage implementation.
type Registry struct {
	stages map[string]stage.Stage
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{stages: make(map[string]stage.Stage)}
}

// Register adds s under s.Name(), overwriting any prior registration for
// that name.
func (r *Registry) Register(s stage.Stage) {
	r.stages[s.Name()] = s
}

// Resolve looks up a stage by name, returning UnknownOxiError if absent.
func (r *Registry) Resolve(name string) (stage.Stage, error) {
	s, ok := r.stages[name]
	if !ok {
		return nil, &UnknownOxiError{Name: name}
	}
	return s, nil
}
