// Copyright 2025 Quorum
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"fmt"
	"sync"
)

// Factory creates an Invoker from a descriptor. One factory is registered
// per invocation kind; the kind set is closed, so dispatch happens at
// registry-build time rather than through runtime type inspection.
type Factory func(d *Descriptor) (Invoker, error)

// FactoryManager holds the factories for the closed set of invocation
// kinds. It is safe for concurrent use.
type FactoryManager struct {
	factories map[InvocationKind]Factory
	mu        sync.RWMutex
}

// NewFactoryManager creates an empty factory manager.
func NewFactoryManager() *FactoryManager {
	return &FactoryManager{
		factories: make(map[InvocationKind]Factory),
	}
}

// Register installs the factory for an invocation kind, replacing any
// previous registration.
func (fm *FactoryManager) Register(kind InvocationKind, f Factory) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.factories[kind] = f
}

// Create builds an invoker for the descriptor's kind.
func (fm *FactoryManager) Create(d *Descriptor) (Invoker, error) {
	fm.mu.RLock()
	f, ok := fm.factories[d.Kind]
	fm.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no factory registered for invocation kind %q", d.Kind)
	}
	return f(d)
}

// Kinds returns the invocation kinds with a registered factory.
func (fm *FactoryManager) Kinds() []InvocationKind {
	fm.mu.RLock()
	defer fm.mu.RUnlock()

	kinds := make([]InvocationKind, 0, len(fm.factories))
	for k := range fm.factories {
		kinds = append(kinds, k)
	}
	return kinds
}
