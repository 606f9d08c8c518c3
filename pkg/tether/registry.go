// Copyright 2024 Authors of barnacle
// SPDX-License-Identifier: Apache-2.0

package tether

import (
	"fmt"
	"sort"
	"sync"
)

// Registry finds orchestrators by name. The daemon owns one and hands it to
// everything that needs to reach a running instance.
type Registry struct {
	mutex sync.RWMutex
	items map[string]*Orchestrator
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]*Orchestrator)}
}

// Register adds o, failing when the name is taken
func (r *Registry) Register(o *Orchestrator) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, ok := r.items[o.Name()]; ok {
		return fmt.Errorf("tether %q is already registered", o.Name())
	}
	r.items[o.Name()] = o
	return nil
}

func (r *Registry) Unregister(name string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.items, name)
}

// Lookup returns the orchestrator registered under name
func (r *Registry) Lookup(name string) (*Orchestrator, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	o, ok := r.items[name]
	return o, ok
}

// Names returns the registered names in sorted order
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.items)
}
