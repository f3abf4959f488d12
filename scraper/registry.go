package scraper

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"estate-harvester/models"
)

// ErrUnknownKind is returned when no factory is registered for a source kind.
var ErrUnknownKind = errors.New("unknown adapter kind")

// Factory builds the adapter for one source. fetcher is the gated fetcher
// every page load of the adapter must go through.
type Factory func(source models.Source, fetcher Fetcher) (Adapter, error)

// Registry maps source kinds to adapter factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for kind, replacing any previous one.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Build creates the adapter for source.
func (r *Registry) Build(source models.Source, fetcher Fetcher) (Adapter, error) {
	r.mu.RLock()
	f, ok := r.factories[source.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("source %s: %w %q", source.Code, ErrUnknownKind, source.Kind)
	}
	a, err := f(source, fetcher)
	if err != nil {
		return nil, fmt.Errorf("source %s: init %s adapter: %w", source.Code, source.Kind, err)
	}
	return a, nil
}

// Kinds lists the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
