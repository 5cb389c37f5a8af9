package backend

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gogpu/vfx"
	"github.com/gogpu/vfx/device"
)

// Factory creates an uninitialized backend for a validated config.
// A nil opener selects device.Default.
type Factory func(cfg vfx.Config, open device.Opener) (Backend, error)

// registry holds registered backend variants.
var (
	registryMu sync.RWMutex
	factories  = make(map[vfx.RendererKind]Factory)
)

// Register registers a factory for kind.
// This is typically called from init() functions.
// If a factory for kind is already registered, it will be replaced.
func Register(kind vfx.RendererKind, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[kind] = factory
}

// Unregister removes a factory from the registry.
// This is useful for testing.
func Unregister(kind vfx.RendererKind) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(factories, kind)
}

// Available returns the registered renderer kinds in priority order.
func Available() []vfx.RendererKind {
	registryMu.RLock()
	defer registryMu.RUnlock()

	kinds := make([]vfx.RendererKind, 0, len(factories))
	for kind := range factories {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// IsRegistered checks if a factory for kind is registered.
func IsRegistered(kind vfx.RendererKind) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := factories[kind]
	return ok
}

// New builds an uninitialized backend of the given kind. Kind overrides
// cfg.Renderer. Every invalid combination, including blur on a variant
// that cannot blur, is a *vfx.ConfigError.
func New(kind vfx.RendererKind, cfg vfx.Config, open device.Opener) (Backend, error) {
	registryMu.RLock()
	factory, ok := factories[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, &vfx.ConfigError{Field: "Renderer", Reason: fmt.Sprintf("no backend registered for %s", kind)}
	}

	cfg.Renderer = kind
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b, err := factory(cfg, open)
	if err != nil {
		return nil, err
	}
	if cfg.Blur && !b.Capabilities().Blur {
		_ = b.Close()
		return nil, &vfx.ConfigError{Field: "Blur", Reason: fmt.Sprintf("the %s renderer cannot blur", b.Name())}
	}
	vfx.Logger().Debug("backend: created", "backend", b.Name(), "blur", cfg.Blur, "zeroCopy", cfg.ZeroCopy,
		"directOutput", cfg.DirectOutput)
	return b, nil
}

// NewFromConfig builds a backend of kind cfg.Renderer.
func NewFromConfig(cfg vfx.Config, open device.Opener) (Backend, error) {
	return New(cfg.Renderer, cfg, open)
}
