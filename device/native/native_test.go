// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"context"
	"errors"
	"image"
	"strings"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/vfx"
	"github.com/gogpu/vfx/gpucore"
	"github.com/gogpu/vfx/internal/kernel"
)

// createNoopDevice opens a noop HAL device and wraps it.
func createNoopDevice(t *testing.T) (*Device, func()) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	d, err := newFromHAL("noop", openDev.Device, openDev.Queue)
	if err != nil {
		openDev.Device.Destroy()
		instance.Destroy()
		t.Fatalf("newFromHAL failed: %v", err)
	}
	d.instance = instance
	return d, d.Destroy
}

// skipIfShaderUnsupported skips when the shader compiler cannot handle a
// construct yet.
func skipIfShaderUnsupported(t *testing.T, err error) {
	t.Helper()
	if err != nil && strings.Contains(err.Error(), "compile shader") {
		t.Skipf("shader compiler limitation: %v", err)
	}
}

func TestCapabilities(t *testing.T) {
	d, cleanup := createNoopDevice(t)
	defer cleanup()

	caps := d.Capabilities()
	if !caps.Compute || !caps.Graphics {
		t.Errorf("Capabilities() = %+v, want compute and graphics", caps)
	}
	if !d.HasComputeSupport() {
		t.Error("HasComputeSupport() = false")
	}
	if !d.HasRequiredFeature(gpucore.FeatureBGRA8UnormStorage) {
		t.Error("bgra8unorm-storage should be reported")
	}
	if d.HasRequiredFeature("shader-f16") {
		t.Error("unexpected shader-f16 feature")
	}
	if got := d.PreferredSurfaceFormat(); got != gputypes.TextureFormatBGRA8Unorm {
		t.Errorf("PreferredSurfaceFormat() = %v, want BGRA8Unorm", got)
	}
}

func TestCreateTexture(t *testing.T) {
	d, cleanup := createNoopDevice(t)
	defer cleanup()

	id, err := d.CreateTexture(&gpucore.TextureDescriptor{
		Label:  "storage",
		Width:  64,
		Height: 32,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gpucore.TextureUsageStorageBinding | gpucore.TextureUsageCopySrc,
	})
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	tex := d.textures[id]
	if tex.size != 64*32*4 {
		t.Errorf("size = %d, want %d", tex.size, 64*32*4)
	}
	if tex.tex != nil {
		t.Error("storage texture should not own a render target")
	}

	target, err := d.CreateTexture(&gpucore.TextureDescriptor{
		Label:  "target",
		Width:  16,
		Height: 16,
		Format: gputypes.TextureFormatBGRA8Unorm,
		Usage:  gpucore.TextureUsageRenderAttachment | gpucore.TextureUsageCopySrc,
	})
	if err != nil {
		t.Fatalf("CreateTexture(target): %v", err)
	}
	if d.textures[target].tex == nil || d.textures[target].view == nil {
		t.Error("render attachment should own a HAL texture and view")
	}

	d.DestroyTexture(id)
	d.DestroyTexture(id)
	if _, ok := d.textures[id]; ok {
		t.Error("texture still tracked after DestroyTexture")
	}
}

func TestCreateTextureInvalid(t *testing.T) {
	d, cleanup := createNoopDevice(t)
	defer cleanup()

	_, err := d.CreateTexture(&gpucore.TextureDescriptor{
		Label:  "empty",
		Width:  0,
		Height: 10,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gpucore.TextureUsageCopyDst,
	})
	if !errors.Is(err, vfx.ErrResourceCreation) {
		t.Errorf("CreateTexture(0x10) error = %v, want ErrResourceCreation", err)
	}
}

func TestWriteTextureSizeMismatch(t *testing.T) {
	d, cleanup := createNoopDevice(t)
	defer cleanup()

	id, err := d.CreateTexture(&gpucore.TextureDescriptor{
		Label:  "upload",
		Width:  8,
		Height: 8,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gpucore.TextureUsageCopyDst | gpucore.TextureUsageTextureBinding,
	})
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	if err := d.WriteTexture(id, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Errorf("WriteTexture(8x8): %v", err)
	}
	if err := d.WriteTexture(id, image.NewRGBA(image.Rect(0, 0, 4, 8))); !errors.Is(err, vfx.ErrRender) {
		t.Errorf("WriteTexture(4x8) error = %v, want ErrRender", err)
	}
}

func TestUsageChecked(t *testing.T) {
	d, cleanup := createNoopDevice(t)
	defer cleanup()

	src, err := d.ImportExternalTexture(image.NewRGBA(image.Rect(0, 0, 4, 4)))
	if err != nil {
		t.Fatalf("ImportExternalTexture: %v", err)
	}
	// External textures are read-only: not writable, not a storage target.
	if err := d.WriteTexture(src, image.NewRGBA(image.Rect(0, 0, 4, 4))); !errors.Is(err, vfx.ErrRender) {
		t.Errorf("WriteTexture(external) error = %v, want ErrRender", err)
	}
	sampler, _ := d.CreateSampler(&gpucore.SamplerDescriptor{Filter: gpucore.FilterNearest})
	err = d.Dispatch(context.Background(), &gpucore.ComputePass{
		Label:   "bad",
		Input:   src,
		Output:  src,
		Sampler: sampler,
		Groups:  [2]uint32{1, 1},
	})
	if !errors.Is(err, vfx.ErrRender) {
		t.Errorf("Dispatch into external texture error = %v, want ErrRender", err)
	}
	d.ReleaseExternalTexture(src)
	if len(d.textures) != 0 {
		t.Errorf("%d textures alive after release", len(d.textures))
	}
}

func TestBufferBounds(t *testing.T) {
	d, cleanup := createNoopDevice(t)
	defer cleanup()

	id, err := d.CreateBuffer(&gpucore.BufferDescriptor{
		Label: "uniforms",
		Size:  kernel.BlurUniformSize,
		Usage: gpucore.BufferUsageUniform | gpucore.BufferUsageCopyDst,
	})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if err := d.WriteBuffer(id, 0, kernel.BlurUniforms(true)); err != nil {
		t.Errorf("WriteBuffer: %v", err)
	}
	if err := d.WriteBuffer(id, 8, make([]byte, 16)); !errors.Is(err, vfx.ErrRender) {
		t.Errorf("overflowing WriteBuffer error = %v, want ErrRender", err)
	}
	if _, err := d.CreateBuffer(&gpucore.BufferDescriptor{Label: "empty"}); !errors.Is(err, vfx.ErrResourceCreation) {
		t.Errorf("CreateBuffer(0) error = %v, want ErrResourceCreation", err)
	}
}

func TestCreatePipelines(t *testing.T) {
	d, cleanup := createNoopDevice(t)
	defer cleanup()

	k, err := kernel.TiledBlur(vfx.Workgroup{X: 8, Y: 4})
	if err != nil {
		t.Fatalf("TiledBlur: %v", err)
	}
	cid, err := d.CreateComputePipeline(k)
	skipIfShaderUnsupported(t, err)
	if err != nil {
		t.Fatalf("CreateComputePipeline: %v", err)
	}
	rid, err := d.CreateRenderPipeline(kernel.Quad(true))
	skipIfShaderUnsupported(t, err)
	if err != nil {
		t.Fatalf("CreateRenderPipeline: %v", err)
	}
	d.DestroyComputePipeline(cid)
	d.DestroyRenderPipeline(rid)
	if len(d.computes) != 0 || len(d.renderers) != 0 {
		t.Error("pipelines still tracked after destroy")
	}
}

func TestDestroyIdempotent(t *testing.T) {
	d, _ := createNoopDevice(t)
	if _, err := d.CreateTexture(&gpucore.TextureDescriptor{
		Label: "leak", Width: 4, Height: 4,
		Format: gputypes.TextureFormatRGBA8Unorm, Usage: gpucore.TextureUsageCopyDst,
	}); err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	d.Destroy()
	d.Destroy()
	if len(d.textures) != 0 {
		t.Error("Destroy left textures alive")
	}
	if _, err := d.CreateSampler(&gpucore.SamplerDescriptor{}); !errors.Is(err, vfx.ErrClosed) {
		t.Errorf("CreateSampler after Destroy error = %v, want ErrClosed", err)
	}
}

func TestOpenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Open(ctx); !errors.Is(err, vfx.ErrDeviceUnavailable) {
		t.Errorf("Open(canceled) error = %v, want ErrDeviceUnavailable", err)
	}
}

// Provider mocks.

type mockDevice struct{}

func (m *mockDevice) Poll(wait bool) {}
func (m *mockDevice) Destroy()       {}

type mockQueue struct{}

type mockAdapter struct{}

type mockProvider struct {
	format gputypes.TextureFormat
}

func (m *mockProvider) Device() gpucontext.Device             { return &mockDevice{} }
func (m *mockProvider) Queue() gpucontext.Queue               { return &mockQueue{} }
func (m *mockProvider) Adapter() gpucontext.Adapter           { return &mockAdapter{} }
func (m *mockProvider) SurfaceFormat() gputypes.TextureFormat { return m.format }

type halMockProvider struct {
	mockProvider
	device hal.Device
	queue  hal.Queue
}

func (m *halMockProvider) HalDevice() any { return m.device }
func (m *halMockProvider) HalQueue() any  { return m.queue }

func TestNewFromProviderWithoutHAL(t *testing.T) {
	_, err := NewFromProvider(&mockProvider{format: gputypes.TextureFormatBGRA8Unorm})
	if !errors.Is(err, vfx.ErrDeviceUnavailable) {
		t.Errorf("NewFromProvider error = %v, want ErrDeviceUnavailable", err)
	}
}

func TestNewFromProviderShared(t *testing.T) {
	owner, cleanup := createNoopDevice(t)
	defer cleanup()

	p := &halMockProvider{
		mockProvider: mockProvider{format: gputypes.TextureFormatRGBA8Unorm},
		device:       owner.device,
		queue:        owner.queue,
	}
	d, err := NewFromProvider(p)
	if err != nil {
		t.Fatalf("NewFromProvider: %v", err)
	}
	if !d.externalDevice {
		t.Error("shared device should be marked external")
	}
	if got := d.PreferredSurfaceFormat(); got != gputypes.TextureFormatRGBA8Unorm {
		t.Errorf("PreferredSurfaceFormat() = %v, want provider format", got)
	}
	d.Destroy()

	// The owner's HAL device must still work.
	if _, err := owner.CreateTexture(&gpucore.TextureDescriptor{
		Label: "after", Width: 2, Height: 2,
		Format: gputypes.TextureFormatRGBA8Unorm, Usage: gpucore.TextureUsageCopyDst,
	}); err != nil {
		t.Errorf("owner CreateTexture after shared Destroy: %v", err)
	}
}

func TestPackImageSubImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = byte(i)
	}
	sub := img.SubImage(image.Rect(1, 1, 3, 3)).(*image.RGBA)
	got := packImage(sub)
	if len(got) != 2*2*4 {
		t.Fatalf("len = %d, want 16", len(got))
	}
	if got[0] != img.Pix[img.PixOffset(1, 1)] || got[8] != img.Pix[img.PixOffset(1, 2)] {
		t.Errorf("packImage rows = %v", got)
	}
}
