// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/vfx"
	"github.com/gogpu/vfx/gpucore"
)

// fenceTimeout bounds every wait when the context has no earlier deadline.
const fenceTimeout = 5 * time.Second

// writeSurface fills the Surface uniform read by every shader.
func (d *Device) writeSurface(in, out *texture, filter gpucore.FilterMode) {
	var data [surfaceUniformSize]byte
	binary.LittleEndian.PutUint32(data[0:], uint32(in.desc.Width))
	binary.LittleEndian.PutUint32(data[4:], uint32(in.desc.Height))
	binary.LittleEndian.PutUint32(data[8:], uint32(out.desc.Width))
	binary.LittleEndian.PutUint32(data[12:], uint32(out.desc.Height))
	binary.LittleEndian.PutUint32(data[16:], uint32(filter))
	d.queue.WriteBuffer(d.surface, 0, data[:])
}

func (d *Device) uniformBinding(id gpucore.BufferID, size int) (gputypes.BindGroupEntry, error) {
	b, ok := d.buffers[id]
	if !ok {
		return gputypes.BindGroupEntry{}, fmt.Errorf("native: %w: unknown uniform buffer %d", vfx.ErrRender, id)
	}
	if b.desc.Size < size {
		return gputypes.BindGroupEntry{}, fmt.Errorf("native: %w: uniform buffer %q has %d bytes, needs %d",
			vfx.ErrRender, b.desc.Label, b.desc.Size, size)
	}
	return gputypes.BindGroupEntry{
		Binding:  3,
		Resource: gputypes.BufferBinding{Buffer: b.buf.NativeHandle(), Offset: 0, Size: uint64(size)},
	}, nil
}

// Dispatch encodes one compute pass and waits for it.
func (d *Device) Dispatch(ctx context.Context, pass *gpucore.ComputePass) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	in, err := d.texture(pass.Input, gpucore.TextureUsageTextureBinding, "input")
	if err != nil {
		return err
	}
	out, err := d.texture(pass.Output, gpucore.TextureUsageStorageBinding, "output")
	if err != nil {
		return err
	}
	p, ok := d.computes[pass.Pipeline]
	if !ok {
		return fmt.Errorf("native: %w: unknown compute pipeline %d", vfx.ErrRender, pass.Pipeline)
	}
	filter, ok := d.samplers[pass.Sampler]
	if !ok {
		return fmt.Errorf("native: %w: unknown sampler %d", vfx.ErrRender, pass.Sampler)
	}

	entries := []gputypes.BindGroupEntry{
		{Binding: 0, Resource: gputypes.BufferBinding{Buffer: in.buf.NativeHandle(), Offset: 0, Size: in.size}},
		{Binding: 1, Resource: gputypes.BufferBinding{Buffer: out.buf.NativeHandle(), Offset: 0, Size: out.size}},
		{Binding: 2, Resource: gputypes.BufferBinding{Buffer: d.surface.NativeHandle(), Offset: 0, Size: surfaceUniformSize}},
	}
	if p.kernel.UniformSize > 0 {
		e, err := d.uniformBinding(pass.Uniforms, p.kernel.UniformSize)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}
	bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   pass.Label + "_bind",
		Layout:  p.bindings,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("native: %w: %s bind group: %w", vfx.ErrRender, pass.Label, err)
	}
	defer d.device.DestroyBindGroup(bg)

	d.writeSurface(in, out, filter)

	return d.submit(ctx, pass.Label, func(encoder hal.CommandEncoder) error {
		cp := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: pass.Label})
		cp.SetPipeline(p.pipeline)
		cp.SetBindGroup(0, bg, nil)
		cp.Dispatch(pass.Groups[0], pass.Groups[1], 1)
		cp.End()
		return nil
	})
}

// Draw encodes one render pass into the target's HAL texture, then copies
// the result back into the target's texel buffer.
func (d *Device) Draw(ctx context.Context, pass *gpucore.RenderPass) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	in, err := d.texture(pass.Input, gpucore.TextureUsageTextureBinding, "input")
	if err != nil {
		return err
	}
	target, err := d.texture(pass.Target, gpucore.TextureUsageRenderAttachment, "target")
	if err != nil {
		return err
	}
	p, ok := d.renderers[pass.Pipeline]
	if !ok {
		return fmt.Errorf("native: %w: unknown render pipeline %d", vfx.ErrRender, pass.Pipeline)
	}
	filter, ok := d.samplers[pass.Sampler]
	if !ok {
		return fmt.Errorf("native: %w: unknown sampler %d", vfx.ErrRender, pass.Sampler)
	}
	vb, ok := d.buffers[pass.Vertices]
	if !ok || vb.desc.Usage&gpucore.BufferUsageVertex == 0 {
		return fmt.Errorf("native: %w: vertex buffer %d missing or without vertex usage", vfx.ErrRender, pass.Vertices)
	}
	if pass.VertexCount*gpucore.VertexStride > vb.desc.Size {
		return fmt.Errorf("native: %w: %d vertices overflow buffer %q", vfx.ErrRender, pass.VertexCount, vb.desc.Label)
	}

	entries := []gputypes.BindGroupEntry{
		{Binding: 0, Resource: gputypes.BufferBinding{Buffer: in.buf.NativeHandle(), Offset: 0, Size: in.size}},
		{Binding: 2, Resource: gputypes.BufferBinding{Buffer: d.surface.NativeHandle(), Offset: 0, Size: surfaceUniformSize}},
	}
	if p.program.UniformSize > 0 {
		e, err := d.uniformBinding(pass.Uniforms, p.program.UniformSize)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}
	bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   pass.Label + "_bind",
		Layout:  p.bindings,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("native: %w: %s bind group: %w", vfx.ErrRender, pass.Label, err)
	}
	defer d.device.DestroyBindGroup(bg)

	w, h := uint32(target.desc.Width), uint32(target.desc.Height)
	rowBytes := uint64(w) * 4
	paddedRow := alignUp(rowBytes, copyRowAlignment)
	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: pass.Label + "_staging",
		Size:  paddedRow * uint64(h),
		Usage: gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("native: %w: %s staging buffer: %w", vfx.ErrRender, pass.Label, err)
	}
	defer d.device.DestroyBuffer(staging)

	d.writeSurface(in, target, filter)

	return d.submit(ctx, pass.Label, func(encoder hal.CommandEncoder) error {
		rp := encoder.BeginRenderPass(&hal.RenderPassDescriptor{
			Label: pass.Label,
			ColorAttachments: []hal.RenderPassColorAttachment{
				{
					View:    target.view,
					LoadOp:  gputypes.LoadOpClear,
					StoreOp: gputypes.StoreOpStore,
					ClearValue: gputypes.Color{
						R: float64(pass.Clear[0]),
						G: float64(pass.Clear[1]),
						B: float64(pass.Clear[2]),
						A: float64(pass.Clear[3]),
					},
				},
			},
		})
		rp.SetPipeline(p.pipeline)
		rp.SetBindGroup(0, bg, nil)
		rp.SetVertexBuffer(0, vb.buf, 0)
		rp.Draw(uint32(pass.VertexCount), 1, 0, 0)
		rp.End()

		encoder.TransitionTextures([]hal.TextureBarrier{{
			Texture: target.tex,
			Usage: hal.TextureUsageTransition{
				OldUsage: gputypes.TextureUsageRenderAttachment,
				NewUsage: gputypes.TextureUsageCopySrc,
			},
		}})
		encoder.CopyTextureToBuffer(target.tex, staging, []hal.BufferTextureCopy{{
			BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: uint32(paddedRow), RowsPerImage: h},
			TextureBase:  hal.ImageCopyTexture{Texture: target.tex, MipLevel: 0},
			Size:         hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
		}})

		// Strip the row padding into the texel buffer.
		regions := make([]hal.BufferCopy, h)
		for y := range regions {
			regions[y] = hal.BufferCopy{
				SrcOffset: uint64(y) * paddedRow,
				DstOffset: uint64(y) * rowBytes,
				Size:      rowBytes,
			}
		}
		encoder.CopyBufferToBuffer(staging, target.buf, regions)
		return nil
	})
}

// ReadTexture copies a CopySrc texture into dst.
func (d *Device) ReadTexture(ctx context.Context, id gpucore.TextureID, dst *image.RGBA) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, err := d.texture(id, gpucore.TextureUsageCopySrc, "readback")
	if err != nil {
		return err
	}
	b := dst.Bounds()
	if b.Dx() != t.desc.Width || b.Dy() != t.desc.Height {
		return fmt.Errorf("native: %w: read %dx%d texture %q into %dx%d image",
			vfx.ErrRender, t.desc.Width, t.desc.Height, t.desc.Label, b.Dx(), b.Dy())
	}
	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: t.desc.Label + "_readback",
		Size:  t.size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("native: %w: readback buffer: %w", vfx.ErrRender, err)
	}
	defer d.device.DestroyBuffer(staging)

	err = d.submit(ctx, "vfx_readback", func(encoder hal.CommandEncoder) error {
		encoder.CopyBufferToBuffer(t.buf, staging, []hal.BufferCopy{{SrcOffset: 0, DstOffset: 0, Size: t.size}})
		return nil
	})
	if err != nil {
		return err
	}

	pixels := make([]byte, t.size)
	if err := d.queue.ReadBuffer(staging, 0, pixels); err != nil {
		return fmt.Errorf("native: %w: read buffer: %w", vfx.ErrRender, err)
	}
	rowBytes := b.Dx() * 4
	for y := 0; y < b.Dy(); y++ {
		off := dst.PixOffset(b.Min.X, b.Min.Y+y)
		copy(dst.Pix[off:off+rowBytes], pixels[y*rowBytes:])
	}
	return nil
}

// CopyTexture copies src into dst on the GPU.
func (d *Device) CopyTexture(ctx context.Context, src, dst gpucore.TextureID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, err := d.texture(src, gpucore.TextureUsageCopySrc, "copy source")
	if err != nil {
		return err
	}
	t, err := d.texture(dst, gpucore.TextureUsageCopyDst, "copy destination")
	if err != nil {
		return err
	}
	if s.desc.Width != t.desc.Width || s.desc.Height != t.desc.Height || s.desc.Format != t.desc.Format {
		return fmt.Errorf("native: %w: copy %q (%dx%d %v) into %q (%dx%d %v)", vfx.ErrRender,
			s.desc.Label, s.desc.Width, s.desc.Height, s.desc.Format,
			t.desc.Label, t.desc.Width, t.desc.Height, t.desc.Format)
	}
	return d.submit(ctx, "vfx_copy", func(encoder hal.CommandEncoder) error {
		encoder.CopyBufferToBuffer(s.buf, t.buf, []hal.BufferCopy{{SrcOffset: 0, DstOffset: 0, Size: s.size}})
		return nil
	})
}

// submit records commands with encode, submits them and waits on a fence.
// The caller holds d.mu.
func (d *Device) submit(ctx context.Context, label string, encode func(hal.CommandEncoder) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("native: %w: %s: %w", vfx.ErrRender, label, err)
	}
	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return fmt.Errorf("native: %w: create command encoder: %w", vfx.ErrRender, err)
	}
	if err := encoder.BeginEncoding(label); err != nil {
		return fmt.Errorf("native: %w: begin encoding: %w", vfx.ErrRender, err)
	}
	if err := encode(encoder); err != nil {
		encoder.DiscardEncoding()
		return err
	}
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("native: %w: end encoding: %w", vfx.ErrRender, err)
	}
	defer d.device.FreeCommandBuffer(cmdBuf)

	fence, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("native: %w: create fence: %w", vfx.ErrRender, err)
	}
	defer d.device.DestroyFence(fence)

	if err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("native: %w: submit: %w", vfx.ErrRender, err)
	}
	timeout := fenceTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = max(left, time.Millisecond)
		}
	}
	ok, err := d.device.Wait(fence, 1, timeout)
	if err != nil || !ok {
		return fmt.Errorf("native: %w: wait for GPU: ok=%v err=%v", vfx.ErrRender, ok, err)
	}
	return nil
}
