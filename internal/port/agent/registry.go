package agent

import (
	"fmt"
	"sync"
)

// Factory is a constructor function that creates an Agent instance for one
// roster entry. name and dependencies come from the roster; settings is the
// entry's opaque backend configuration.
type Factory func(name string, dependencies []string, settings map[string]string) (Agent, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes an agent backend factory available by name.
// It is typically called from an init() function in the adapter package.
func Register(backend string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[backend]; exists {
		panic(fmt.Sprintf("agent: duplicate registration for %q", backend))
	}
	factories[backend] = factory
}

// New creates an Agent using the registered factory for the given backend.
func New(backend, name string, dependencies []string, settings map[string]string) (Agent, error) {
	mu.RLock()
	factory, ok := factories[backend]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("agent: unknown backend %q", backend)
	}
	return factory(name, dependencies, settings)
}

// Available returns the names of all registered backends.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}
