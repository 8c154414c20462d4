package aiconnectors

import (
	"context"
	"sync"

	"github.com/leanscribe/internal/config"
)

// Registry creates connectors lazily and reuses them per model name.
type Registry struct {
	mu         sync.Mutex
	connectors map[string]*Connector
	create     func(ctx context.Context, m config.ModelDescriptor) (*Connector, error)
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		connectors: make(map[string]*Connector),
		create: func(ctx context.Context, m config.ModelDescriptor) (*Connector, error) {
			opts, err := OptionsFor(m)
			if err != nil {
				return nil, err
			}
			return NewConnector(ctx, opts)
		},
	}
}

// Connector returns the connector for m, creating it on first use.
func (r *Registry) Connector(ctx context.Context, m config.ModelDescriptor) (*Connector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.connectors[m.Name]; ok {
		return c, nil
	}
	c, err := r.create(ctx, m)
	if err != nil {
		return nil, err
	}
	r.connectors[m.Name] = c
	return c, nil
}

// Reset drops all cached connectors, e.g. after credentials changed.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors = make(map[string]*Connector)
}
