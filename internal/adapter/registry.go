package adapter

import (
	"fmt"
	"sort"
	"sync"
)

var (
	mu       sync.RWMutex
	adapters = make(map[string]Adapter)
)

// Register adds an adapter to the registry.
func Register(a Adapter) {
	mu.Lock()
	defer mu.Unlock()
	adapters[a.ID()] = a
}

// Get returns an adapter by id.
func Get(id string) (Adapter, error) {
	mu.RLock()
	defer mu.RUnlock()
	a, ok := adapters[id]
	if !ok {
		return nil, fmt.Errorf("unknown adapter: %s", id)
	}
	return a, nil
}

// List returns all registered adapter ids.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()
	ids := make([]string, 0, len(adapters))
	for id := range adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
