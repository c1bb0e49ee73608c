// Package registry lets modules share services without importing each
// other. A module Sets a service during Register; others look it up in Boot.
package registry

import (
	"fmt"
	"sync"

	"github.com/nfrund/watchparty/internal/config"
)

// Key identifies a service of type T, e.g. "control.playback.Store".
type Key[T any] string

// Registry holds the shared services and the loaded configuration.
type Registry struct {
	cfg *config.Config

	mu       sync.RWMutex
	services map[string]any
}

func New(cfg *config.Config) *Registry {
	return &Registry{cfg: cfg, services: make(map[string]any)}
}

func (r *Registry) Config() *config.Config {
	return r.cfg
}

// Set stores value under key. Each key can be set once; a second Set is a
// wiring mistake and returns an error.
func Set[T any](r *Registry, key Key[T], value T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.services[string(key)]; taken {
		return fmt.Errorf("registry: %s is already registered", key)
	}
	r.services[string(key)] = value
	return nil
}

// Get returns the service under key, if one of type T was set.
func Get[T any](r *Registry, key Key[T]) (T, bool) {
	r.mu.RLock()
	val, ok := r.services[string(key)]
	r.mu.RUnlock()

	result, ok := val.(T)
	return result, ok
}

// MustGet is Get for services a module cannot boot without. It panics when
// the service is missing, which means the module list is misordered.
func MustGet[T any](r *Registry, key Key[T]) T {
	val, ok := Get(r, key)
	if !ok {
		var zero T
		panic(fmt.Sprintf("registry: no %T registered under %s", zero, key))
	}
	return val
}
