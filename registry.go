package fencetime

import (
	"slices"
	"sync"
)

// FenceFactory creates an empty Fence ready to be unflattened.
type FenceFactory func() Fence

// registry holds registered fence factories.
var (
	registryMu sync.RWMutex
	factories  = make(map[string]FenceFactory)
	// Registration order; the most recently registered factory wins.
	factoryOrder []string
)

// RegisterFenceFactory registers a fence factory with the given name.
// This is typically called from init() functions in fence packages.
// If a factory with the same name is already registered, it is replaced and
// becomes the most recent one.
func RegisterFenceFactory(name string, factory FenceFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factoryOrder = slices.DeleteFunc(factoryOrder, func(n string) bool { return n == name })
	factories[name] = factory
	factoryOrder = append(factoryOrder, name)
}

// UnregisterFenceFactory removes a fence factory from the registry.
// This is useful for testing.
func UnregisterFenceFactory(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(factories, name)
	factoryOrder = slices.DeleteFunc(factoryOrder, func(n string) bool { return n == name })
}

// FenceFactories returns the registered factory names in registration order.
func FenceFactories() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return slices.Clone(factoryOrder)
}

// NewFence returns an empty Fence from the most recently registered factory.
// Returns ErrNoFenceFactory if none is registered.
func NewFence() (Fence, error) {
	registryMu.RLock()
	var factory FenceFactory
	if n := len(factoryOrder); n > 0 {
		factory = factories[factoryOrder[n-1]]
	}
	registryMu.RUnlock()

	if factory == nil {
		return nil, ErrNoFenceFactory
	}
	return factory(), nil
}
