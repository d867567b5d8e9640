package backtest

import (
	"fmt"
	"sync"
)

// Registry is a concurrency-safe lookup of named strategies, used by a
// run-many-strategies driver (a CLI, a scheduled job) that doesn't want to
// hold every Strategy value in scope at once.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register validates strategy and adds it under its Name. Fails if the name
// is already taken or the strategy itself doesn't validate.
func (r *Registry) Register(strategy Strategy) error {
	if err := strategy.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.strategies[strategy.Name]; exists {
		return fmt.Errorf("%w: strategy %q already registered", ErrInvalidConfig, strategy.Name)
	}
	r.strategies[strategy.Name] = strategy
	return nil
}

// Get retrieves a strategy by name.
func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	strategy, exists := r.strategies[name]
	if !exists {
		return Strategy{}, fmt.Errorf("%w: strategy %q not found", ErrInvalidConfig, name)
	}
	return strategy, nil
}

// List returns every registered strategy's name.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	return names
}
