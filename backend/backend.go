package backend

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/vfx"
	"github.com/gogpu/vfx/device"
	"github.com/gogpu/vfx/gpucore"
	"github.com/gogpu/vfx/internal/cache"
)

// Cache keys.
const (
	keySourceTexture = "sourceTexture"
	keyOutputTexture = "outputTexture"
	keyBlurTexture   = "blurTexture"
)

// Capabilities describes what a backend variant can do.
type Capabilities struct {
	Compute  bool
	Graphics bool
	Blur     bool
}

// State is the lifecycle state of a backend.
type State int32

const (
	// StateUninitialized is the state returned by New.
	StateUninitialized State = iota
	// StateReady means Initialize succeeded and Render may be called.
	StateReady
	// StateFailed means Initialize failed; the backend cannot be retried.
	StateFailed
	// StateClosed means Close was called.
	StateClosed
)

var stateNames = [...]string{"uninitialized", "ready", "failed", "closed"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Backend renders frames on one device.
//
// Render must not be called concurrently; a second call while one is in
// flight fails with vfx.ErrRender. The input frame is not retained and
// stays owned by the caller.
type Backend interface {
	// Name returns the variant name (e.g., "compute").
	Name() string

	// Capabilities returns the static capabilities of the variant.
	Capabilities() Capabilities

	// State returns the current lifecycle state.
	State() State

	// Initialize opens the device and compiles pipelines.
	Initialize(ctx context.Context) error

	// Render processes one frame. It returns nil without error when the
	// backend only presents.
	Render(ctx context.Context, frame *vfx.FrameBuffer) (*vfx.FrameBuffer, error)

	// Close releases every resource. Calling Close twice is a no-op.
	Close() error
}

// variant is the part of a device backend that differs between kinds.
// Methods run with core.mu held.
type variant interface {
	check(dev gpucore.Device) error
	setup(dev gpucore.Device) error
	render(ctx context.Context, in gpucore.TextureID, frame *vfx.FrameBuffer) (*vfx.FrameBuffer, error)
	teardown(dev gpucore.Device)
}

// core holds the lifecycle and resources shared by device backends.
type core struct {
	name string
	caps Capabilities
	cfg  vfx.Config
	open device.Opener
	impl variant

	state    atomic.Int32
	inFlight atomic.Bool

	mu       sync.Mutex
	dev      gpucore.Device
	format   gputypes.TextureFormat
	sampler  gpucore.SamplerID
	textures *cache.Cache[gpucore.TextureID]
	surface  surface
}

func newCore(name string, caps Capabilities, cfg vfx.Config, open device.Opener) core {
	if open == nil {
		open = device.Default()
	}
	return core{name: name, caps: caps, cfg: cfg, open: open}
}

// Name returns the variant name.
func (c *core) Name() string { return c.name }

// Capabilities returns the variant capabilities.
func (c *core) Capabilities() Capabilities { return c.caps }

// State returns the lifecycle state.
func (c *core) State() State { return State(c.state.Load()) }

// Initialize opens the device, checks that it can run the variant and
// creates the pipelines. A failed backend cannot be initialized again.
func (c *core) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case StateReady:
		return nil
	case StateClosed:
		return fmt.Errorf("backend %s: %w", c.name, vfx.ErrClosed)
	case StateFailed:
		return fmt.Errorf("backend %s: %w: initialization already failed", c.name, vfx.ErrDeviceUnavailable)
	}

	err := c.initialize(ctx)
	if err != nil {
		c.state.Store(int32(StateFailed))
		vfx.Logger().Warn("backend: initialize failed", "backend", c.name, "err", err)
		return err
	}
	c.state.Store(int32(StateReady))
	vfx.Logger().Info("backend: ready", "backend", c.name, "device", c.dev.Name(), "format", c.format)
	return nil
}

func (c *core) initialize(ctx context.Context) error {
	dev, err := c.open(ctx)
	if err != nil {
		if !errors.Is(err, vfx.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", vfx.ErrDeviceUnavailable, err)
		}
		return fmt.Errorf("backend %s: open device: %w", c.name, err)
	}
	if err := c.impl.check(dev); err != nil {
		dev.Destroy()
		return fmt.Errorf("backend %s: %w: %w", c.name, vfx.ErrDeviceUnavailable, err)
	}

	c.dev = dev
	c.format = gputypes.TextureFormatRGBA8Unorm
	if c.cfg.DirectOutput {
		c.format = dev.PreferredSurfaceFormat()
	}
	c.textures = cache.New(dev.DestroyTexture)

	filter := gpucore.FilterNearest
	if c.cfg.BilinearFiltering {
		filter = gpucore.FilterLinear
	}
	c.sampler, err = dev.CreateSampler(&gpucore.SamplerDescriptor{Label: c.name + "-sampler", Filter: filter})
	if err == nil {
		err = c.impl.setup(dev)
	}
	if err != nil {
		c.release()
		if !errors.Is(err, vfx.ErrResourceCreation) {
			err = fmt.Errorf("%w: %w", vfx.ErrResourceCreation, err)
		}
		return fmt.Errorf("backend %s: %w", c.name, err)
	}
	return nil
}

// Render acquires the input texture and runs the variant's passes.
func (c *core) Render(ctx context.Context, frame *vfx.FrameBuffer) (*vfx.FrameBuffer, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("backend %s: %w: render already in flight", c.name, vfx.ErrRender)
	}
	defer c.inFlight.Store(false)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch st := c.State(); st {
	case StateReady:
	case StateClosed:
		return nil, fmt.Errorf("backend %s: %w", c.name, vfx.ErrClosed)
	default:
		return nil, fmt.Errorf("backend %s: %w: backend is %s", c.name, vfx.ErrRender, st)
	}
	if frame == nil || frame.Released() {
		return nil, fmt.Errorf("backend %s: %w: no frame data", c.name, vfx.ErrRender)
	}

	in, release, err := c.acquireInput(frame)
	if err != nil {
		return nil, err
	}
	defer release()
	return c.impl.render(ctx, in, frame)
}

// Close tears down pipelines, cached textures, the surface and the device.
func (c *core) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() == StateClosed {
		return nil
	}
	c.state.Store(int32(StateClosed))
	if c.dev != nil {
		c.release()
		vfx.Logger().Debug("backend: closed", "backend", c.name)
	}
	return nil
}

// release destroys everything created on c.dev, then the device.
func (c *core) release() {
	c.impl.teardown(c.dev)
	if c.textures != nil {
		c.textures.Close()
	}
	if c.sampler != gpucore.InvalidID {
		c.dev.DestroySampler(c.sampler)
		c.sampler = gpucore.InvalidID
	}
	c.surface.destroy(c.dev)
	c.dev.Destroy()
	c.dev = nil
}

// CachedResources returns the keys of the live cache entries, sorted.
func (c *core) CachedResources() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.textures == nil {
		return nil
	}
	entries := c.textures.Entries()
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	sort.Strings(keys)
	return keys
}

// CacheStats returns the resource cache counters.
func (c *core) CacheStats() cache.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.textures == nil {
		return cache.Stats{}
	}
	return c.textures.Stats()
}

// texture returns the cached texture for key at the given size.
func (c *core) texture(key string, w, h int, usage gpucore.TextureUsage) (gpucore.TextureID, error) {
	spec := cache.Spec{Width: w, Height: h, Format: c.format, Usage: usage}
	id, err := c.textures.GetOrCreate(key, spec, func(s cache.Spec) (gpucore.TextureID, error) {
		return c.dev.CreateTexture(&gpucore.TextureDescriptor{
			Label:  key,
			Width:  s.Width,
			Height: s.Height,
			Format: s.Format,
			Usage:  s.Usage,
		})
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("backend %s: %s: %w", c.name, key, err)
	}
	return id, nil
}

// readback copies a texture into a new frame carrying the timing of src.
func (c *core) readback(ctx context.Context, id gpucore.TextureID, src *vfx.FrameBuffer) (*vfx.FrameBuffer, error) {
	img := image.NewRGBA(image.Rect(0, 0, src.DisplayWidth(), src.DisplayHeight()))
	if err := c.dev.ReadTexture(ctx, id, img); err != nil {
		return nil, fmt.Errorf("backend %s: readback: %w", c.name, err)
	}
	return vfx.NewFrame(img, src.Timestamp(), src.Duration()), nil
}

// renderErr wraps a device error with ErrRender unless it already
// carries a classification.
func renderErr(name, op string, err error) error {
	if errors.Is(err, vfx.ErrRender) || errors.Is(err, vfx.ErrClosed) {
		return fmt.Errorf("backend %s: %s: %w", name, op, err)
	}
	return fmt.Errorf("backend %s: %s: %w: %w", name, op, vfx.ErrRender, err)
}
