package registry

import (
	"fmt"
	"sync"

	"github.com/omniquery/fanout-api/internal/adapters/providers"
)

// Factory is a function that creates an Adapter instance from its wiring.
type Factory func(cfg providers.Config) (providers.Adapter, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes an adapter factory available to the system.
// 'type' is the key (e.g., "openai", "ollama").
func Register(providerType string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[providerType]; exists {
		panic(fmt.Sprintf("provider factory %s already registered", providerType))
	}
	factories[providerType] = f
}

// Get retrieves a factory to create an adapter of a specific type.
func Get(providerType string) (Factory, error) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := factories[providerType]
	if !ok {
		return nil, fmt.Errorf("provider factory not found for type: %s", providerType)
	}
	return f, nil
}
