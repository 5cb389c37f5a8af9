package backend

import (
	"context"
	"fmt"

	"github.com/gogpu/vfx"
	"github.com/gogpu/vfx/device"
	"github.com/gogpu/vfx/gpucore"
	"github.com/gogpu/vfx/internal/kernel"
)

const graphicsSurfaceUsage = gpucore.TextureUsageRenderAttachment | gpucore.TextureUsageCopySrc |
	gpucore.TextureUsageTextureBinding

func init() {
	Register(vfx.RendererGraphics, func(cfg vfx.Config, open device.Opener) (Backend, error) {
		return NewGraphics(cfg, open)
	})
}

// Graphics renders frames by drawing a full-screen quad into the surface.
// The blur variant samples a weighted neighbourhood in the fragment stage.
type Graphics struct {
	core

	pipeline gpucore.RenderPipelineID
	vertices gpucore.BufferID
	uniforms gpucore.BufferID
}

var _ Backend = (*Graphics)(nil)

// NewGraphics returns an uninitialized graphics backend.
func NewGraphics(cfg vfx.Config, open device.Opener) (*Graphics, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Graphics{}
	b.core = newCore(vfx.RendererGraphics.String(), Capabilities{Graphics: true, Blur: true}, cfg, open)
	b.impl = b
	return b, nil
}

func (b *Graphics) check(dev gpucore.Device) error {
	if !dev.Capabilities().Graphics {
		return fmt.Errorf("device %s has no render pipeline support", dev.Name())
	}
	return nil
}

func (b *Graphics) setup(dev gpucore.Device) error {
	quad := gpucore.EncodeVertices(kernel.FullScreenQuad)
	var err error
	if b.vertices, err = dev.CreateBuffer(&gpucore.BufferDescriptor{
		Label: "quad-vertices",
		Size:  len(quad),
		Usage: gpucore.BufferUsageVertex | gpucore.BufferUsageCopyDst,
	}); err != nil {
		return err
	}
	if err := dev.WriteBuffer(b.vertices, 0, quad); err != nil {
		return err
	}
	if b.cfg.Blur {
		if b.uniforms, err = dev.CreateBuffer(&gpucore.BufferDescriptor{
			Label: "quad-blur-uniforms",
			Size:  kernel.QuadUniformSize,
			Usage: gpucore.BufferUsageUniform | gpucore.BufferUsageCopyDst,
		}); err != nil {
			return err
		}
	}
	b.pipeline, err = dev.CreateRenderPipeline(kernel.Quad(b.cfg.Blur))
	return err
}

func (b *Graphics) teardown(dev gpucore.Device) {
	if b.pipeline != gpucore.InvalidID {
		dev.DestroyRenderPipeline(b.pipeline)
		b.pipeline = gpucore.InvalidID
	}
	for _, id := range []*gpucore.BufferID{&b.vertices, &b.uniforms} {
		if *id != gpucore.InvalidID {
			dev.DestroyBuffer(*id)
			*id = gpucore.InvalidID
		}
	}
}

func (b *Graphics) render(ctx context.Context, in gpucore.TextureID, frame *vfx.FrameBuffer) (*vfx.FrameBuffer, error) {
	w, h := frame.DisplayWidth(), frame.DisplayHeight()
	target, err := b.surface.ensure(b.dev, w, h, b.format, graphicsSurfaceUsage)
	if err != nil {
		return nil, fmt.Errorf("backend %s: surface: %w", b.name, err)
	}
	if b.cfg.Blur {
		data := kernel.QuadUniforms(w, h, b.cfg.BlurAmount, b.cfg.BlurRadius)
		if err := b.dev.WriteBuffer(b.uniforms, 0, data); err != nil {
			return nil, renderErr(b.name, "blur uniforms", err)
		}
	}
	err = b.dev.Draw(ctx, &gpucore.RenderPass{
		Label:       "quad",
		Pipeline:    b.pipeline,
		Input:       in,
		Target:      target,
		Sampler:     b.sampler,
		Uniforms:    b.uniforms,
		Vertices:    b.vertices,
		VertexCount: len(kernel.FullScreenQuad),
	})
	if err != nil {
		return nil, renderErr(b.name, "draw", err)
	}
	if b.cfg.DisplayOnly {
		return nil, nil
	}
	return b.readback(ctx, target, frame)
}
