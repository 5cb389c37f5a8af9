// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package native implements gpucore.Device on the gogpu/wgpu HAL.
//
// Textures live in storage buffers of packed RGBA8 texels so that compute
// kernels can read and write them regardless of the surface format; render
// targets additionally own an RGBA8 HAL texture that is copied back into
// the storage buffer after every draw. WGSL is compiled to SPIR-V with naga.
//
// The device registers itself as "native" and opens a Vulkan adapter. An
// application that already owns a device passes it in with NewFromProvider.
package native

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Register the Vulkan HAL backend.
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/vfx"
	"github.com/gogpu/vfx/device"
	"github.com/gogpu/vfx/gpucore"
)

func init() {
	device.Register(device.NameNative, func(ctx context.Context) (gpucore.Device, error) {
		return Open(ctx)
	})
}

const (
	// maxTextureDimension matches gputypes.DefaultLimits for 2D textures.
	maxTextureDimension = 8192

	// surfaceUniformSize is the Surface struct shared by every shader.
	surfaceUniformSize = 32

	// copyRowAlignment is the BytesPerRow alignment of texture copies.
	copyRowAlignment = 256
)

type texture struct {
	desc     gpucore.TextureDescriptor
	buf      hal.Buffer
	size     uint64
	external bool

	// Render targets only.
	tex  hal.Texture
	view hal.TextureView
}

type buffer struct {
	desc gpucore.BufferDescriptor
	buf  hal.Buffer
}

type computePipeline struct {
	kernel   *gpucore.ComputeKernel
	module   hal.ShaderModule
	bindings hal.BindGroupLayout
	layout   hal.PipelineLayout
	pipeline hal.ComputePipeline
}

type renderPipeline struct {
	program  *gpucore.RenderProgram
	module   hal.ShaderModule
	bindings hal.BindGroupLayout
	layout   hal.PipelineLayout
	pipeline hal.RenderPipeline
}

// Device is a gpucore.Device backed by a HAL device and queue.
type Device struct {
	name     string
	format   gputypes.TextureFormat
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	// externalDevice is set when the HAL device belongs to a provider and
	// must not be destroyed here.
	externalDevice bool

	mu        sync.Mutex
	nextID    uint64
	surface   hal.Buffer
	textures  map[gpucore.TextureID]*texture
	samplers  map[gpucore.SamplerID]gpucore.FilterMode
	buffers   map[gpucore.BufferID]*buffer
	computes  map[gpucore.ComputePipelineID]*computePipeline
	renderers map[gpucore.RenderPipelineID]*renderPipeline
	closed    bool
}

var _ gpucore.Device = (*Device)(nil)

// Open opens the first discrete or integrated Vulkan adapter, falling back
// to whatever adapter the instance enumerates first.
func Open(ctx context.Context) (*Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("native: %w: %w", vfx.ErrDeviceUnavailable, err)
	}
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("native: %w: vulkan backend not available", vfx.ErrDeviceUnavailable)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("native: %w: create instance: %w", vfx.ErrDeviceUnavailable, err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("native: %w: no GPU adapters found", vfx.ErrDeviceUnavailable)
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("native: %w: open device: %w", vfx.ErrDeviceUnavailable, err)
	}
	d, err := newFromHAL(selected.Info.Name, openDev.Device, openDev.Queue)
	if err != nil {
		openDev.Device.Destroy()
		instance.Destroy()
		return nil, err
	}
	d.instance = instance
	vfx.Logger().Info("native: device opened", "adapter", selected.Info.Name)
	return d, nil
}

// NewFromProvider wraps a device owned by the application. The provider
// must expose its HAL device and queue; they are not destroyed by Destroy.
func NewFromProvider(provider gpucontext.DeviceProvider) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("native: %w: provider does not expose HAL types", vfx.ErrDeviceUnavailable)
	}
	halDevice, ok := hp.HalDevice().(hal.Device)
	if !ok || halDevice == nil {
		return nil, fmt.Errorf("native: %w: provider HalDevice is not hal.Device", vfx.ErrDeviceUnavailable)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("native: %w: provider HalQueue is not hal.Queue", vfx.ErrDeviceUnavailable)
	}
	d, err := newFromHAL("provided", halDevice, queue)
	if err != nil {
		return nil, err
	}
	d.externalDevice = true
	if f := provider.SurfaceFormat(); gpucore.IsSupportedFormat(f) {
		d.format = f
	}
	return d, nil
}

func newFromHAL(name string, halDevice hal.Device, queue hal.Queue) (*Device, error) {
	surface, err := halDevice.CreateBuffer(&hal.BufferDescriptor{
		Label: "vfx_surface_uniform",
		Size:  surfaceUniformSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("native: %w: surface uniform: %w", vfx.ErrResourceCreation, err)
	}
	return &Device{
		name:      name,
		format:    gputypes.TextureFormatBGRA8Unorm,
		device:    halDevice,
		queue:     queue,
		surface:   surface,
		textures:  make(map[gpucore.TextureID]*texture),
		samplers:  make(map[gpucore.SamplerID]gpucore.FilterMode),
		buffers:   make(map[gpucore.BufferID]*buffer),
		computes:  make(map[gpucore.ComputePipelineID]*computePipeline),
		renderers: make(map[gpucore.RenderPipelineID]*renderPipeline),
	}, nil
}

// Name returns the adapter name.
func (d *Device) Name() string { return d.name }

// Capabilities reports compute and render support. Storage textures are
// packed buffers, so BGRA8 storage needs no device feature.
func (d *Device) Capabilities() gpucore.Capabilities {
	return gpucore.Capabilities{
		Compute:                 true,
		Graphics:                true,
		Features:                []string{gpucore.FeatureBGRA8UnormStorage},
		MaxTextureDimension2D:   maxTextureDimension,
		MaxWorkgroupInvocations: vfx.MaxWorkgroupInvocations,
	}
}

// HasComputeSupport always reports true.
func (d *Device) HasComputeSupport() bool { return true }

// HasRequiredFeature reports whether the feature is listed in Capabilities.
func (d *Device) HasRequiredFeature(name string) bool {
	return d.Capabilities().HasFeature(name)
}

// PreferredSurfaceFormat returns BGRA8Unorm, or the provider's format.
func (d *Device) PreferredSurfaceFormat() gputypes.TextureFormat { return d.format }

func (d *Device) id() uint64 {
	d.nextID++
	return d.nextID
}

// CreateTexture allocates the packed storage buffer and, for render
// attachments, the HAL texture and view.
func (d *Device) CreateTexture(desc *gpucore.TextureDescriptor) (gpucore.TextureID, error) {
	if err := desc.Validate(maxTextureDimension); err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: %w: %w", vfx.ErrResourceCreation, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, fmt.Errorf("native: %w", vfx.ErrClosed)
	}
	t, err := d.newTexture(*desc)
	if err != nil {
		return gpucore.InvalidID, err
	}
	id := gpucore.TextureID(d.id())
	d.textures[id] = t
	return id, nil
}

func (d *Device) newTexture(desc gpucore.TextureDescriptor) (*texture, error) {
	size := uint64(desc.Width) * uint64(desc.Height) * 4
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  size,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("native: %w: texture %q: %w", vfx.ErrResourceCreation, desc.Label, err)
	}
	t := &texture{desc: desc, buf: buf, size: size}
	if !desc.Usage.Contains(gpucore.TextureUsageRenderAttachment) {
		return t, nil
	}
	t.tex, err = d.device.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Label + "_target",
		Size:          hal.Extent3D{Width: uint32(desc.Width), Height: uint32(desc.Height), DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatRGBA8Unorm,
		Usage:         gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
	})
	if err != nil {
		d.device.DestroyBuffer(buf)
		return nil, fmt.Errorf("native: %w: render target %q: %w", vfx.ErrResourceCreation, desc.Label, err)
	}
	t.view, err = d.device.CreateTextureView(t.tex, &hal.TextureViewDescriptor{
		Label:     desc.Label + "_view",
		Format:    gputypes.TextureFormatRGBA8Unorm,
		Dimension: gputypes.TextureViewDimension2D,
	})
	if err != nil {
		d.device.DestroyTexture(t.tex)
		d.device.DestroyBuffer(buf)
		return nil, fmt.Errorf("native: %w: render target view %q: %w", vfx.ErrResourceCreation, desc.Label, err)
	}
	return t, nil
}

func (d *Device) destroyTexture(t *texture) {
	if t.view != nil {
		d.device.DestroyTextureView(t.view)
	}
	if t.tex != nil {
		d.device.DestroyTexture(t.tex)
	}
	d.device.DestroyBuffer(t.buf)
}

// DestroyTexture releases a texture. Unknown IDs are ignored.
func (d *Device) DestroyTexture(id gpucore.TextureID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.textures[id]; ok {
		delete(d.textures, id)
		d.destroyTexture(t)
	}
}

// ImportExternalTexture uploads img into a sampleable texture. The HAL has
// no way to alias host memory, so this costs one queue write.
func (d *Device) ImportExternalTexture(img *image.RGBA) (gpucore.TextureID, error) {
	b := img.Bounds()
	id, err := d.CreateTexture(&gpucore.TextureDescriptor{
		Label:  "vfx_external",
		Width:  b.Dx(),
		Height: b.Dy(),
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gpucore.TextureUsageTextureBinding | gpucore.TextureUsageCopySrc,
	})
	if err != nil {
		return gpucore.InvalidID, err
	}
	d.mu.Lock()
	t := d.textures[id]
	t.external = true
	d.queue.WriteBuffer(t.buf, 0, packImage(img))
	d.mu.Unlock()
	return id, nil
}

// ReleaseExternalTexture releases a texture created by ImportExternalTexture.
func (d *Device) ReleaseExternalTexture(id gpucore.TextureID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.textures[id]; ok && t.external {
		delete(d.textures, id)
		d.destroyTexture(t)
	}
}

// WriteTexture uploads img into a CopyDst texture of the same size.
func (d *Device) WriteTexture(id gpucore.TextureID, img *image.RGBA) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.texture(id, gpucore.TextureUsageCopyDst, "write destination")
	if err != nil {
		return err
	}
	if b := img.Bounds(); b.Dx() != t.desc.Width || b.Dy() != t.desc.Height {
		return fmt.Errorf("native: %w: write %dx%d into %dx%d texture %q",
			vfx.ErrRender, b.Dx(), b.Dy(), t.desc.Width, t.desc.Height, t.desc.Label)
	}
	d.queue.WriteBuffer(t.buf, 0, packImage(img))
	return nil
}

// texture looks up id and checks that it was created with the usage the
// caller needs. The caller holds d.mu.
func (d *Device) texture(id gpucore.TextureID, need gpucore.TextureUsage, role string) (*texture, error) {
	if d.closed {
		return nil, fmt.Errorf("native: %w", vfx.ErrClosed)
	}
	t, ok := d.textures[id]
	if !ok {
		return nil, fmt.Errorf("native: %w: unknown %s texture %d", vfx.ErrRender, role, id)
	}
	if !t.desc.Usage.Contains(need) {
		return nil, fmt.Errorf("native: %w: %s texture %q has usage %s, needs %s",
			vfx.ErrRender, role, t.desc.Label, t.desc.Usage, need)
	}
	return t, nil
}

// CreateSampler records a filter mode. Kernels sample storage buffers, so
// no HAL sampler is needed.
func (d *Device) CreateSampler(desc *gpucore.SamplerDescriptor) (gpucore.SamplerID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, fmt.Errorf("native: %w", vfx.ErrClosed)
	}
	id := gpucore.SamplerID(d.id())
	d.samplers[id] = desc.Filter
	return id, nil
}

// DestroySampler forgets a sampler.
func (d *Device) DestroySampler(id gpucore.SamplerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.samplers, id)
}

// CreateBuffer allocates a uniform or vertex buffer.
func (d *Device) CreateBuffer(desc *gpucore.BufferDescriptor) (gpucore.BufferID, error) {
	if desc.Size <= 0 {
		return gpucore.InvalidID, fmt.Errorf("native: %w: buffer %q has size %d",
			vfx.ErrResourceCreation, desc.Label, desc.Size)
	}
	usage := gputypes.BufferUsageCopyDst
	if desc.Usage&gpucore.BufferUsageUniform != 0 {
		usage |= gputypes.BufferUsageUniform
	}
	if desc.Usage&gpucore.BufferUsageVertex != 0 {
		usage |= gputypes.BufferUsageVertex
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, fmt.Errorf("native: %w", vfx.ErrClosed)
	}
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  alignUp(uint64(desc.Size), 16),
		Usage: usage,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: %w: buffer %q: %w", vfx.ErrResourceCreation, desc.Label, err)
	}
	id := gpucore.BufferID(d.id())
	d.buffers[id] = &buffer{desc: *desc, buf: buf}
	return id, nil
}

// WriteBuffer writes data at offset.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset int, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("native: %w", vfx.ErrClosed)
	}
	b, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("native: %w: unknown buffer %d", vfx.ErrRender, id)
	}
	if offset < 0 || offset+len(data) > b.desc.Size {
		return fmt.Errorf("native: %w: write of %d bytes at %d overflows buffer %q (%d bytes)",
			vfx.ErrRender, len(data), offset, b.desc.Label, b.desc.Size)
	}
	d.queue.WriteBuffer(b.buf, uint64(offset), data)
	return nil
}

// DestroyBuffer releases a buffer. Unknown IDs are ignored.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.buffers[id]; ok {
		delete(d.buffers, id)
		d.device.DestroyBuffer(b.buf)
	}
}

// Destroy releases every live resource, then the device and instance
// unless they belong to a provider. Calling Destroy twice is a no-op.
func (d *Device) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for id, p := range d.computes {
		d.destroyCompute(p)
		delete(d.computes, id)
	}
	for id, p := range d.renderers {
		d.destroyRender(p)
		delete(d.renderers, id)
	}
	for id, t := range d.textures {
		d.destroyTexture(t)
		delete(d.textures, id)
	}
	for id, b := range d.buffers {
		d.device.DestroyBuffer(b.buf)
		delete(d.buffers, id)
	}
	clear(d.samplers)
	d.device.DestroyBuffer(d.surface)
	if !d.externalDevice {
		d.device.Destroy()
	}
	if d.instance != nil {
		d.instance.Destroy()
		d.instance = nil
	}
}

// packImage returns the pixels of img as tightly packed RGBA8 rows.
func packImage(img *image.RGBA) []byte {
	b := img.Bounds()
	rowBytes := b.Dx() * 4
	if img.Stride == rowBytes && b.Min == (image.Point{}) {
		return img.Pix[:rowBytes*b.Dy()]
	}
	out := make([]byte, rowBytes*b.Dy())
	for y := 0; y < b.Dy(); y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		copy(out[y*rowBytes:], img.Pix[off:off+rowBytes])
	}
	return out
}

func alignUp(n, align uint64) uint64 {
	return (n + align - 1) / align * align
}
