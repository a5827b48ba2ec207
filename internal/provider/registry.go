package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jrmatherly/nexus/internal/config"
	"github.com/jrmatherly/nexus/internal/model"
)

// Factory builds a Provider instance for one configured provider entry.
type Factory func(name string, cfg *config.LLMProvider) (Provider, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register adds a provider factory for a dialect type.
// Called from provider package init() functions.
func Register(typeName string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[typeName] = f
}

// New constructs a Provider for the given configured entry.
func New(name string, cfg *config.LLMProvider) (Provider, error) {
	mu.RLock()
	f, ok := factories[cfg.Type]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider type %q not registered", cfg.Type)
	}
	return f(name, cfg)
}

// Types returns all registered dialect types in sorted order.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseModelID splits a "provider/model" id. Exactly one separator is
// required; anything else is an InvalidModelFormat error.
func ParseModelID(full string) (providerName, modelID string, err error) {
	parts := strings.SplitN(full, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || strings.Contains(parts[1], "/") {
		return "", "", &model.GatewayError{
			StatusCode: 400,
			Message:    fmt.Sprintf("model %q must use the provider/model format", full),
			Type:       "invalid_request_error",
			Err:        model.ErrInvalidModelFormat,
		}
	}
	return parts[0], parts[1], nil
}
