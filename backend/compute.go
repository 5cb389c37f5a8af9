package backend

import (
	"context"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/vfx"
	"github.com/gogpu/vfx/device"
	"github.com/gogpu/vfx/gpucore"
	"github.com/gogpu/vfx/internal/kernel"
)

// Texture usages of the compute variant.
const (
	outputUsage = gpucore.TextureUsageStorageBinding | gpucore.TextureUsageCopySrc |
		gpucore.TextureUsageCopyDst | gpucore.TextureUsageTextureBinding
	blurUsage           = gpucore.TextureUsageStorageBinding | gpucore.TextureUsageTextureBinding
	computeSurfaceUsage = gpucore.TextureUsageStorageBinding | gpucore.TextureUsageCopySrc |
		gpucore.TextureUsageTextureBinding
)

func init() {
	Register(vfx.RendererCompute, func(cfg vfx.Config, open device.Opener) (Backend, error) {
		return NewCompute(cfg, open)
	})
}

// Compute renders frames with compute dispatches: a plain copy kernel, or
// the separable tiled blur when blur is enabled.
type Compute struct {
	core

	geometry kernel.TileGeometry
	pipeline gpucore.ComputePipelineID

	// Tiled blur flip uniforms, one per pass.
	horizontal gpucore.BufferID
	vertical   gpucore.BufferID
}

var _ Backend = (*Compute)(nil)

// NewCompute returns an uninitialized compute backend. Blur with a
// workgroup the tiled kernel cannot run is rejected here.
func NewCompute(cfg vfx.Config, open device.Opener) (*Compute, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Compute{}
	if cfg.Blur {
		g, err := kernel.ValidateTiled(cfg.Workgroup)
		if err != nil {
			return nil, err
		}
		b.geometry = g
	}
	b.core = newCore(vfx.RendererCompute.String(), Capabilities{Compute: true, Blur: true}, cfg, open)
	b.impl = b
	return b, nil
}

func (b *Compute) check(dev gpucore.Device) error {
	if !dev.HasComputeSupport() {
		return fmt.Errorf("device %s has no compute support", dev.Name())
	}
	if b.cfg.DirectOutput && dev.PreferredSurfaceFormat() == gputypes.TextureFormatBGRA8Unorm &&
		!dev.HasRequiredFeature(gpucore.FeatureBGRA8UnormStorage) {
		return fmt.Errorf("device %s lacks %s for direct output", dev.Name(), gpucore.FeatureBGRA8UnormStorage)
	}
	return nil
}

func (b *Compute) setup(dev gpucore.Device) error {
	k := kernel.Copy(b.cfg.Workgroup)
	if b.cfg.Blur {
		var err error
		if k, err = kernel.TiledBlur(b.cfg.Workgroup); err != nil {
			return err
		}
		if b.horizontal, err = b.flipUniform(dev, "blur-horizontal", false); err != nil {
			return err
		}
		if b.vertical, err = b.flipUniform(dev, "blur-vertical", true); err != nil {
			return err
		}
	}
	id, err := dev.CreateComputePipeline(k)
	if err != nil {
		return err
	}
	b.pipeline = id
	vfx.Logger().Debug("backend: compute pipeline ready",
		"kernel", k.Label, "workgroup", b.cfg.Workgroup.String(), "blockDim", b.geometry.BlockDim)
	return nil
}

func (b *Compute) flipUniform(dev gpucore.Device, label string, flip bool) (gpucore.BufferID, error) {
	id, err := dev.CreateBuffer(&gpucore.BufferDescriptor{
		Label: label,
		Size:  kernel.BlurUniformSize,
		Usage: gpucore.BufferUsageUniform | gpucore.BufferUsageCopyDst,
	})
	if err != nil {
		return gpucore.InvalidID, err
	}
	if err := dev.WriteBuffer(id, 0, kernel.BlurUniforms(flip)); err != nil {
		dev.DestroyBuffer(id)
		return gpucore.InvalidID, err
	}
	return id, nil
}

func (b *Compute) teardown(dev gpucore.Device) {
	if b.pipeline != gpucore.InvalidID {
		dev.DestroyComputePipeline(b.pipeline)
		b.pipeline = gpucore.InvalidID
	}
	for _, id := range []*gpucore.BufferID{&b.horizontal, &b.vertical} {
		if *id != gpucore.InvalidID {
			dev.DestroyBuffer(*id)
			*id = gpucore.InvalidID
		}
	}
}

func (b *Compute) render(ctx context.Context, in gpucore.TextureID, frame *vfx.FrameBuffer) (*vfx.FrameBuffer, error) {
	w, h := frame.DisplayWidth(), frame.DisplayHeight()

	out, err := b.texture(keyOutputTexture, w, h, outputUsage)
	if err != nil {
		return nil, err
	}
	target := out
	if b.cfg.DirectOutput {
		if target, err = b.surface.ensure(b.dev, w, h, b.format, computeSurfaceUsage); err != nil {
			return nil, fmt.Errorf("backend %s: surface: %w", b.name, err)
		}
	}

	if b.cfg.Blur {
		tmp, err := b.texture(keyBlurTexture, w, h, blurUsage)
		if err != nil {
			return nil, err
		}
		if err := b.dispatch(ctx, "blur-horizontal", in, tmp, b.horizontal, kernel.TiledGroups(w, h, b.geometry, false)); err != nil {
			return nil, err
		}
		if err := b.dispatch(ctx, "blur-vertical", tmp, target, b.vertical, kernel.TiledGroups(w, h, b.geometry, true)); err != nil {
			return nil, err
		}
	} else if err := b.dispatch(ctx, "copy", in, target, gpucore.InvalidID, kernel.CopyGroups(w, h, b.cfg.Workgroup)); err != nil {
		return nil, err
	}

	if target != out {
		if err := b.dev.CopyTexture(ctx, target, out); err != nil {
			return nil, renderErr(b.name, "copy surface", err)
		}
	}
	return b.readback(ctx, out, frame)
}

func (b *Compute) dispatch(ctx context.Context, label string, in, out gpucore.TextureID, uniforms gpucore.BufferID, groups [2]uint32) error {
	err := b.dev.Dispatch(ctx, &gpucore.ComputePass{
		Label:    label,
		Pipeline: b.pipeline,
		Input:    in,
		Output:   out,
		Sampler:  b.sampler,
		Uniforms: uniforms,
		Groups:   groups,
	})
	if err != nil {
		return renderErr(b.name, label, err)
	}
	return nil
}
