// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpu

import (
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/wrender/frame"
)

// Consumer executes frames on a device.
//
// A consumer applies each frame's texture and GPU cache updates before any
// of its passes, and executes the frames of one document in epoch order.
type Consumer interface {
	Execute(f *frame.Frame) error
}

// ConsumerFactory creates a consumer on the device of provider.
type ConsumerFactory func(provider gpucontext.DeviceProvider) (Consumer, error)

// Standard consumer priorities. Higher is preferred.
const (
	PriorityVulkan   = 100
	PriorityMetal    = 90
	PriorityDX12     = 80
	PriorityGLES     = 50
	PrioritySoftware = 10
)

// Errors.
var (
	// ErrNoConsumer is returned when no consumer is registered or available.
	ErrNoConsumer = errors.New("gpu: no consumer available")
)

// ConsumerNotFoundError indicates a named consumer is not registered.
type ConsumerNotFoundError struct {
	Name string
}

func (e *ConsumerNotFoundError) Error() string {
	return "gpu: consumer not found: " + e.Name
}

// ConsumerUnavailableError indicates a consumer is registered but cannot
// run on this system.
type ConsumerUnavailableError struct {
	Name string
}

func (e *ConsumerUnavailableError) Error() string {
	return "gpu: consumer unavailable: " + e.Name
}

// RegistryEntry describes a registered consumer.
type RegistryEntry struct {
	Name     string
	Priority int
	Factory  ConsumerFactory
	// Available reports whether the consumer can run on this system.
	Available func() bool
}

// Registry holds consumer factories by name.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*RegistryEntry
}

var globalRegistry = NewRegistry()

// NewRegistry creates an empty registry. Most code uses the global one
// through Register and NewConsumer.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*RegistryEntry)}
}

// Register adds a consumer to the global registry. A nil available means
// always available. Registering an existing name replaces it.
func Register(name string, priority int, factory ConsumerFactory, available func() bool) {
	globalRegistry.Register(name, priority, factory, available)
}

// Unregister removes a consumer from the global registry.
func Unregister(name string) { globalRegistry.Unregister(name) }

// Available returns the available consumers of the global registry, best
// first.
func Available() []string { return globalRegistry.Available() }

// NewConsumer creates a consumer with the best available factory of the
// global registry.
func NewConsumer(provider gpucontext.DeviceProvider) (Consumer, error) {
	return globalRegistry.New(provider)
}

// NewConsumerByName creates a consumer with a specific factory of the
// global registry.
func NewConsumerByName(name string, provider gpucontext.DeviceProvider) (Consumer, error) {
	return globalRegistry.NewByName(name, provider)
}

// Register adds a consumer to r.
func (r *Registry) Register(name string, priority int, factory ConsumerFactory, available func() bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if available == nil {
		available = func() bool { return true }
	}
	r.entries[name] = &RegistryEntry{
		Name:      name,
		Priority:  priority,
		Factory:   factory,
		Available: available,
	}
}

// Unregister removes a consumer from r.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// List returns every registered name, best first.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedNames(false)
}

// Available returns the names of available consumers, best first.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedNames(true)
}

// Get returns a copy of the entry of name.
func (r *Registry) Get(name string) (RegistryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return RegistryEntry{}, false
	}
	return *e, true
}

// New tries the available consumers best first and returns the first one
// that could be created.
func (r *Registry) New(provider gpucontext.DeviceProvider) (Consumer, error) {
	r.mu.RLock()
	names := r.sortedNames(true)
	r.mu.RUnlock()

	var errs []error
	for _, name := range names {
		c, err := r.NewByName(name, provider)
		if err == nil {
			slogger().Info("gpu: consumer selected", "name", name)
			return c, nil
		}
		slogger().Warn("gpu: consumer failed", "name", name, "err", err)
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(append([]error{ErrNoConsumer}, errs...)...)
	}
	return nil, ErrNoConsumer
}

// NewByName creates a consumer with the factory registered as name.
func (r *Registry) NewByName(name string, provider gpucontext.DeviceProvider) (Consumer, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok {
		return nil, &ConsumerNotFoundError{Name: name}
	}
	if !e.Available() {
		return nil, &ConsumerUnavailableError{Name: name}
	}
	return e.Factory(provider)
}

// sortedNames returns names by priority, highest first, ties by name.
// Must be called with the lock held.
func (r *Registry) sortedNames(onlyAvailable bool) []string {
	entries := make([]*RegistryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if onlyAvailable && !e.Available() {
			continue
		}
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *RegistryEntry) int {
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}
		return strings.Compare(a.Name, b.Name)
	})
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}
