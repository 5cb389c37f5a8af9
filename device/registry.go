// Package device selects and opens the gpucore.Device a backend renders on.
//
// Device implementations register an Opener from their init function:
//
//	import _ "github.com/gogpu/vfx/device/native"   // gogpu/wgpu HAL (Vulkan)
//	import _ "github.com/gogpu/vfx/device/software" // CPU execution
//
// Default tries the registered devices in priority order: native, then software.
package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gogpu/vfx"
	"github.com/gogpu/vfx/gpucore"
)

// Device names.
const (
	NameNative   = "native"
	NameSoftware = "software"
)

// Opener opens a device. Failures wrap vfx.ErrDeviceUnavailable.
type Opener func(ctx context.Context) (gpucore.Device, error)

var (
	registryMu sync.RWMutex
	openers    = make(map[string]Opener)
	// Priority order for Default (first device that opens wins).
	devicePriority = []string{NameNative, NameSoftware}
)

// Register registers an opener with the given name.
// If one with the same name is already registered, it is replaced.
func Register(name string, open Opener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	openers[name] = open
}

// Unregister removes an opener from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(openers, name)
}

// Available returns the registered device names, sorted.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(openers))
	for name := range openers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the opener registered under name.
func Lookup(name string) (Opener, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	open, ok := openers[name]
	return open, ok
}

// Named returns an opener for a registered device. The name is resolved
// when the opener runs, so an unknown name surfaces as ErrDeviceUnavailable
// at initialization rather than at configuration time.
func Named(name string) Opener {
	return func(ctx context.Context) (gpucore.Device, error) {
		open, ok := Lookup(name)
		if !ok {
			return nil, fmt.Errorf("device %q not registered: %w", name, vfx.ErrDeviceUnavailable)
		}
		return open(ctx)
	}
}

// Default returns an opener that tries every registered device in
// priority order and returns the first one that opens.
func Default() Opener {
	return func(ctx context.Context) (gpucore.Device, error) {
		registryMu.RLock()
		order := make([]string, 0, len(openers))
		seen := make(map[string]bool, len(openers))
		for _, name := range devicePriority {
			if _, ok := openers[name]; ok {
				order = append(order, name)
				seen[name] = true
			}
		}
		rest := make([]string, 0, len(openers))
		for name := range openers {
			if !seen[name] {
				rest = append(rest, name)
			}
		}
		sort.Strings(rest)
		order = append(order, rest...)
		registryMu.RUnlock()

		var errs []error
		for _, name := range order {
			open, ok := Lookup(name)
			if !ok {
				continue
			}
			dev, err := open(ctx)
			if err == nil {
				vfx.Logger().Info("device opened", "device", name, "adapter", dev.Name())
				return dev, nil
			}
			vfx.Logger().Debug("device unavailable", "device", name, "err", err)
			errs = append(errs, err)
		}
		if len(errs) == 0 {
			return nil, fmt.Errorf("no device registered: %w", vfx.ErrDeviceUnavailable)
		}
		return nil, fmt.Errorf("%w: %w", vfx.ErrDeviceUnavailable, errors.Join(errs...))
	}
}
