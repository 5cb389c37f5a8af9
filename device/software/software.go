// Package software implements gpucore.Device on the CPU.
//
// Textures are image.RGBA buffers; compute kernels run their Go phases per
// invocation with every workgroup scheduled on a worker pool, and render
// programs are rasterized with a barycentric triangle walker. The device is
// always available, which makes it the last entry of the default priority
// list and the device used by tests.
package software

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/vfx"
	"github.com/gogpu/vfx/device"
	"github.com/gogpu/vfx/gpucore"
	"github.com/gogpu/vfx/internal/parallel"
)

func init() {
	device.Register(device.NameSoftware, func(ctx context.Context) (gpucore.Device, error) {
		return Open(ctx)
	})
}

// Option configures a software device.
type Option func(*options)

type options struct {
	name     string
	compute  bool
	graphics bool
	features []string
	format   gputypes.TextureFormat
	workers  int
	maxDim   int
}

// WithoutCompute makes the device report no compute support.
func WithoutCompute() Option { return func(o *options) { o.compute = false } }

// WithoutGraphics makes the device report no render pipeline support.
func WithoutGraphics() Option { return func(o *options) { o.graphics = false } }

// WithFeatures replaces the reported optional features.
func WithFeatures(names ...string) Option {
	return func(o *options) { o.features = append([]string(nil), names...) }
}

// WithPreferredFormat sets the surface format reported to backends.
func WithPreferredFormat(f gputypes.TextureFormat) Option {
	return func(o *options) { o.format = f }
}

// WithWorkers sets the number of goroutines executing workgroups.
func WithWorkers(n int) Option { return func(o *options) { o.workers = n } }

// WithName sets the adapter name.
func WithName(name string) Option { return func(o *options) { o.name = name } }

// Stats counts device activity.
type Stats struct {
	TexturesCreated   int
	TexturesDestroyed int
	LiveTextures      int
	Imports           int
	Uploads           int
	Readbacks         int
	Copies            int
	Dispatches        int
	Draws             int
}

type texture struct {
	desc     gpucore.TextureDescriptor
	img      *image.RGBA
	external bool
}

type buffer struct {
	desc gpucore.BufferDescriptor
	data []byte
}

// Device is a CPU implementation of gpucore.Device.
type Device struct {
	opts options
	caps gpucore.Capabilities
	pool *parallel.Pool

	mu       sync.Mutex
	nextID   uint64
	textures map[gpucore.TextureID]*texture
	samplers map[gpucore.SamplerID]gpucore.FilterMode
	buffers  map[gpucore.BufferID]*buffer
	kernels  map[gpucore.ComputePipelineID]*gpucore.ComputeKernel
	programs map[gpucore.RenderPipelineID]*gpucore.RenderProgram
	stats    Stats
	closed   bool
}

var _ gpucore.Device = (*Device)(nil)

// Open creates a software device.
func Open(ctx context.Context, opts ...Option) (*Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("software: %w: %w", vfx.ErrDeviceUnavailable, err)
	}
	o := options{
		name:     "software",
		compute:  true,
		graphics: true,
		features: []string{gpucore.FeatureBGRA8UnormStorage},
		format:   gputypes.TextureFormatBGRA8Unorm,
		maxDim:   8192,
	}
	for _, opt := range opts {
		opt(&o)
	}
	d := &Device{
		opts: o,
		caps: gpucore.Capabilities{
			Compute:                 o.compute,
			Graphics:                o.graphics,
			Features:                o.features,
			MaxTextureDimension2D:   o.maxDim,
			MaxWorkgroupInvocations: vfx.MaxWorkgroupInvocations,
		},
		pool:     parallel.NewPool(o.workers),
		textures: make(map[gpucore.TextureID]*texture),
		samplers: make(map[gpucore.SamplerID]gpucore.FilterMode),
		buffers:  make(map[gpucore.BufferID]*buffer),
		kernels:  make(map[gpucore.ComputePipelineID]*gpucore.ComputeKernel),
		programs: make(map[gpucore.RenderPipelineID]*gpucore.RenderProgram),
	}
	return d, nil
}

// Name implements gpucore.Device.
func (d *Device) Name() string { return d.opts.name }

// Capabilities implements gpucore.Device.
func (d *Device) Capabilities() gpucore.Capabilities { return d.caps }

// HasComputeSupport implements gpucore.Device.
func (d *Device) HasComputeSupport() bool { return d.caps.Compute }

// HasRequiredFeature implements gpucore.Device.
func (d *Device) HasRequiredFeature(name string) bool { return d.caps.HasFeature(name) }

// PreferredSurfaceFormat implements gpucore.Device.
func (d *Device) PreferredSurfaceFormat() gputypes.TextureFormat { return d.opts.format }

// Stats returns a snapshot of the activity counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	s.LiveTextures = len(d.textures)
	return s
}

func (d *Device) newID() uint64 {
	d.nextID++
	return d.nextID
}

func (d *Device) checkOpen() error {
	if d.closed {
		return fmt.Errorf("software: device destroyed: %w", vfx.ErrClosed)
	}
	return nil
}

// CreateTexture implements gpucore.Device.
func (d *Device) CreateTexture(desc *gpucore.TextureDescriptor) (gpucore.TextureID, error) {
	if err := desc.Validate(d.caps.MaxTextureDimension2D); err != nil {
		return gpucore.InvalidID, fmt.Errorf("software: %w: %w", vfx.ErrResourceCreation, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return gpucore.InvalidID, err
	}
	id := gpucore.TextureID(d.newID())
	d.textures[id] = &texture{desc: *desc, img: image.NewRGBA(image.Rect(0, 0, desc.Width, desc.Height))}
	d.stats.TexturesCreated++
	return id, nil
}

// DestroyTexture implements gpucore.Device.
func (d *Device) DestroyTexture(id gpucore.TextureID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.textures[id]; ok && !t.external {
		delete(d.textures, id)
		d.stats.TexturesDestroyed++
	}
}

// ImportExternalTexture implements gpucore.Device. The texture aliases the
// frame's pixels; no copy is made.
func (d *Device) ImportExternalTexture(img *image.RGBA) (gpucore.TextureID, error) {
	if img == nil || img.Rect.Empty() {
		return gpucore.InvalidID, fmt.Errorf("software: %w: empty external image", vfx.ErrResourceCreation)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return gpucore.InvalidID, err
	}
	id := gpucore.TextureID(d.newID())
	d.textures[id] = &texture{
		desc: gpucore.TextureDescriptor{
			Label:  "external",
			Width:  img.Rect.Dx(),
			Height: img.Rect.Dy(),
			Format: gputypes.TextureFormatRGBA8Unorm,
			Usage:  gpucore.TextureUsageTextureBinding | gpucore.TextureUsageCopySrc,
		},
		img:      img,
		external: true,
	}
	d.stats.Imports++
	return id, nil
}

// ReleaseExternalTexture implements gpucore.Device.
func (d *Device) ReleaseExternalTexture(id gpucore.TextureID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.textures[id]; ok && t.external {
		delete(d.textures, id)
	}
}

func (d *Device) texture(id gpucore.TextureID, need gpucore.TextureUsage, role string) (*texture, error) {
	t, ok := d.textures[id]
	if !ok {
		return nil, fmt.Errorf("software: %s texture %d does not exist", role, id)
	}
	if !t.desc.Usage.Contains(need) {
		return nil, fmt.Errorf("software: %s texture %q has usage %v, needs %v", role, t.desc.Label, t.desc.Usage, need)
	}
	return t, nil
}

// WriteTexture implements gpucore.Device.
func (d *Device) WriteTexture(id gpucore.TextureID, img *image.RGBA) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.texture(id, gpucore.TextureUsageCopyDst, "destination")
	if err != nil {
		return err
	}
	if img.Rect.Dx() != t.desc.Width || img.Rect.Dy() != t.desc.Height {
		return fmt.Errorf("software: upload of %v into %dx%d texture", img.Rect.Size(), t.desc.Width, t.desc.Height)
	}
	copyImage(t.img, img)
	d.stats.Uploads++
	return nil
}

// ReadTexture implements gpucore.Device.
func (d *Device) ReadTexture(ctx context.Context, id gpucore.TextureID, dst *image.RGBA) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.texture(id, gpucore.TextureUsageCopySrc, "source")
	if err != nil {
		return err
	}
	if dst.Rect.Dx() != t.desc.Width || dst.Rect.Dy() != t.desc.Height {
		return fmt.Errorf("software: readback of %dx%d texture into %v", t.desc.Width, t.desc.Height, dst.Rect.Size())
	}
	copyImage(dst, t.img)
	d.stats.Readbacks++
	return nil
}

// CopyTexture implements gpucore.Device.
func (d *Device) CopyTexture(ctx context.Context, src, dst gpucore.TextureID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.texture(src, gpucore.TextureUsageCopySrc, "source")
	if err != nil {
		return err
	}
	t, err := d.texture(dst, gpucore.TextureUsageCopyDst, "destination")
	if err != nil {
		return err
	}
	if s.desc.Width != t.desc.Width || s.desc.Height != t.desc.Height || s.desc.Format != t.desc.Format {
		return fmt.Errorf("software: copy between mismatched textures %q and %q", s.desc.Label, t.desc.Label)
	}
	copyImage(t.img, s.img)
	d.stats.Copies++
	return nil
}

// CreateSampler implements gpucore.Device.
func (d *Device) CreateSampler(desc *gpucore.SamplerDescriptor) (gpucore.SamplerID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return gpucore.InvalidID, err
	}
	id := gpucore.SamplerID(d.newID())
	d.samplers[id] = desc.Filter
	return id, nil
}

// DestroySampler implements gpucore.Device.
func (d *Device) DestroySampler(id gpucore.SamplerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.samplers, id)
}

// CreateBuffer implements gpucore.Device.
func (d *Device) CreateBuffer(desc *gpucore.BufferDescriptor) (gpucore.BufferID, error) {
	if desc.Size <= 0 {
		return gpucore.InvalidID, fmt.Errorf("software: %w: buffer %q has size %d", vfx.ErrResourceCreation, desc.Label, desc.Size)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return gpucore.InvalidID, err
	}
	id := gpucore.BufferID(d.newID())
	d.buffers[id] = &buffer{desc: *desc, data: make([]byte, desc.Size)}
	return id, nil
}

// WriteBuffer implements gpucore.Device.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset int, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("software: buffer %d does not exist", id)
	}
	if offset < 0 || offset+len(data) > len(b.data) {
		return fmt.Errorf("software: write of %d bytes at %d overflows buffer %q", len(data), offset, b.desc.Label)
	}
	copy(b.data[offset:], data)
	return nil
}

// DestroyBuffer implements gpucore.Device.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buffers, id)
}

// CreateComputePipeline implements gpucore.Device.
func (d *Device) CreateComputePipeline(k *gpucore.ComputeKernel) (gpucore.ComputePipelineID, error) {
	if !d.caps.Compute {
		return gpucore.InvalidID, fmt.Errorf("software: %w: compute disabled", vfx.ErrResourceCreation)
	}
	if err := k.Validate(); err != nil {
		return gpucore.InvalidID, fmt.Errorf("software: %w: %w", vfx.ErrResourceCreation, err)
	}
	if n := int(k.WorkgroupSize[0] * k.WorkgroupSize[1]); n > d.caps.MaxWorkgroupInvocations {
		return gpucore.InvalidID, fmt.Errorf("software: %w: kernel %q has %d invocations per workgroup", vfx.ErrResourceCreation, k.Label, n)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return gpucore.InvalidID, err
	}
	id := gpucore.ComputePipelineID(d.newID())
	d.kernels[id] = k
	return id, nil
}

// DestroyComputePipeline implements gpucore.Device.
func (d *Device) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.kernels, id)
}

// CreateRenderPipeline implements gpucore.Device.
func (d *Device) CreateRenderPipeline(p *gpucore.RenderProgram) (gpucore.RenderPipelineID, error) {
	if !d.caps.Graphics {
		return gpucore.InvalidID, fmt.Errorf("software: %w: graphics disabled", vfx.ErrResourceCreation)
	}
	if err := p.Validate(); err != nil {
		return gpucore.InvalidID, fmt.Errorf("software: %w: %w", vfx.ErrResourceCreation, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpen(); err != nil {
		return gpucore.InvalidID, err
	}
	id := gpucore.RenderPipelineID(d.newID())
	d.programs[id] = p
	return id, nil
}

// DestroyRenderPipeline implements gpucore.Device.
func (d *Device) DestroyRenderPipeline(id gpucore.RenderPipelineID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.programs, id)
}

// Destroy implements gpucore.Device.
func (d *Device) Destroy() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	clear(d.textures)
	clear(d.samplers)
	clear(d.buffers)
	clear(d.kernels)
	clear(d.programs)
	d.mu.Unlock()

	d.pool.Close()
}

// copyImage copies src into dst row by row; both have the same size.
func copyImage(dst, src *image.RGBA) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	for y := 0; y < h; y++ {
		so := src.PixOffset(src.Rect.Min.X, src.Rect.Min.Y+y)
		do := dst.PixOffset(dst.Rect.Min.X, dst.Rect.Min.Y+y)
		copy(dst.Pix[do:do+w*4], src.Pix[so:so+w*4])
	}
}
