package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/tunetrack/pkg/audio"
	"github.com/MrWong99/tunetrack/pkg/pitch"
)

// ErrNotRegistered is returned by Create* methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: not registered")

// BackendFactory builds a capture backend from the audio section.
type BackendFactory func(AudioConfig) (audio.Backend, error)

// EstimatorFactory builds a pitch estimator from the estimation section.
type EstimatorFactory func(EstimationConfig) (pitch.Estimator, error)

// Registry maps names to constructors for capture backends and pitch
// estimators. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	backends   map[string]BackendFactory
	estimators map[string]EstimatorFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		backends:   make(map[string]BackendFactory),
		estimators: make(map[string]EstimatorFactory),
	}
}

// RegisterBackend registers a capture backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterBackend(name string, factory BackendFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = factory
}

// RegisterEstimator registers a pitch estimator factory under name.
func (r *Registry) RegisterEstimator(name string, factory EstimatorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.estimators[name] = factory
}

// CreateBackend instantiates the backend registered under cfg.Backend.
// Returns [ErrNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateBackend(cfg AudioConfig) (audio.Backend, error) {
	r.mu.RLock()
	factory, ok := r.backends[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: backend/%q", ErrNotRegistered, cfg.Backend)
	}
	b, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: create backend %q: %w", cfg.Backend, err)
	}
	return b, nil
}

// CreateEstimator instantiates the estimator registered under cfg.Estimator.
func (r *Registry) CreateEstimator(cfg EstimationConfig) (pitch.Estimator, error) {
	r.mu.RLock()
	factory, ok := r.estimators[cfg.Estimator]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: estimator/%q", ErrNotRegistered, cfg.Estimator)
	}
	e, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: create estimator %q: %w", cfg.Estimator, err)
	}
	return e, nil
}

// Backends returns the registered backend names in sorted order.
func (r *Registry) Backends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.backends)
}

// Estimators returns the registered estimator names in sorted order.
func (r *Registry) Estimators() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.estimators)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
