package model

import (
	"fmt"
	"sort"
	"sync"
)

// The registry maps model names to bindings. Registration happens at
// startup; lookups happen per job, so a plain mutex is enough.
var (
	registryMu sync.RWMutex
	registry   = make(map[string]ContentModel)
)

// Register adds a model to the registry, replacing any model of the same
// name.
func Register(m ContentModel) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[m.Name()] = m
}

// Get returns the registered model with the given name.
func Get(name string) (ContentModel, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	m, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("no content model registered as %q", name)
	}
	return m, nil
}

// Names returns the registered model names, sorted.
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
