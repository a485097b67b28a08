package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"transhub/internal/logger"
)

// ErrNotRegistered reports a lookup for an engine name no module registered.
var ErrNotRegistered = errors.New("engine not registered")

// Factory builds an engine instance from its raw configuration.
type Factory func(cfg map[string]any) (Engine, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a factory under a case-insensitive name. Engine modules call
// this from init(). Duplicates overwrite with a warning so a vendored engine
// can shadow a built-in one.
func Register(name string, factory Factory) {
	key := strings.ToLower(name)
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[key]; exists {
		logger.Warn("engine registration overwritten", "module", "engine", "action", "register", "resource", key, "result", "ok")
	}
	registry[key] = factory
}

// Create instantiates the named engine with cfg.
func Create(name string, cfg map[string]any) (Engine, error) {
	key := strings.ToLower(name)
	registryMu.RLock()
	factory, ok := registry[key]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrNotRegistered, name, strings.Join(Names(), ", "))
	}
	eng, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("create engine %q: %w", key, err)
	}
	return eng, nil
}

// Names lists registered engine names in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
