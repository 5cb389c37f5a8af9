// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/vfx"
	"github.com/gogpu/vfx/gpucore"
)

// compileSPIRV compiles WGSL source to SPIR-V words.
func compileSPIRV(wgslSource string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(wgslSource)
	if err != nil {
		return nil, fmt.Errorf("compile shader: %w", err)
	}
	// SPIR-V is little-endian 32-bit words.
	spirv := make([]uint32, len(spirvBytes)/4)
	for i := range spirv {
		spirv[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return spirv, nil
}

func (d *Device) createShaderModule(label, wgsl string) (hal.ShaderModule, error) {
	spirv, err := compileSPIRV(wgsl)
	if err != nil {
		return nil, err
	}
	return d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
}

// CreateComputePipeline compiles the kernel's WGSL. Bindings:
// 0 source texels, 1 destination texels, 2 Surface, 3 kernel uniforms.
func (d *Device) CreateComputePipeline(k *gpucore.ComputeKernel) (gpucore.ComputePipelineID, error) {
	if err := k.Validate(); err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: %w: %w", vfx.ErrResourceCreation, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, fmt.Errorf("native: %w", vfx.ErrClosed)
	}

	p := &computePipeline{kernel: k}
	fail := func(what string, err error) (gpucore.ComputePipelineID, error) {
		d.destroyCompute(p)
		return gpucore.InvalidID, fmt.Errorf("native: %w: %s %s: %w", vfx.ErrResourceCreation, k.Label, what, err)
	}

	var err error
	if p.module, err = d.createShaderModule(k.Label, k.WGSL); err != nil {
		return fail("shader", err)
	}
	entries := []gputypes.BindGroupLayoutEntry{
		{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
		{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		{Binding: 2, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
	}
	if k.UniformSize > 0 {
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding: 3, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
		})
	}
	if p.bindings, err = d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   k.Label + "_bind_layout",
		Entries: entries,
	}); err != nil {
		return fail("bind group layout", err)
	}
	if p.layout, err = d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            k.Label + "_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{p.bindings},
	}); err != nil {
		return fail("pipeline layout", err)
	}
	if p.pipeline, err = d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   k.Label,
		Layout:  p.layout,
		Compute: hal.ComputeState{Module: p.module, EntryPoint: k.EntryPoint},
	}); err != nil {
		return fail("pipeline", err)
	}

	id := gpucore.ComputePipelineID(d.id())
	d.computes[id] = p
	return id, nil
}

func (d *Device) destroyCompute(p *computePipeline) {
	if p.pipeline != nil {
		d.device.DestroyComputePipeline(p.pipeline)
	}
	if p.layout != nil {
		d.device.DestroyPipelineLayout(p.layout)
	}
	if p.bindings != nil {
		d.device.DestroyBindGroupLayout(p.bindings)
	}
	if p.module != nil {
		d.device.DestroyShaderModule(p.module)
	}
}

// DestroyComputePipeline releases a compute pipeline.
func (d *Device) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.computes[id]; ok {
		delete(d.computes, id)
		d.destroyCompute(p)
	}
}

// quadVertexLayout matches gpucore.Vertex: position then uv.
func quadVertexLayout() []gputypes.VertexBufferLayout {
	return []gputypes.VertexBufferLayout{
		{
			ArrayStride: gpucore.VertexStride,
			StepMode:    gputypes.VertexStepModeVertex,
			Attributes: []gputypes.VertexAttribute{
				{Format: gputypes.VertexFormatFloat32x2, Offset: 0, ShaderLocation: 0}, // position
				{Format: gputypes.VertexFormatFloat32x2, Offset: 8, ShaderLocation: 1}, // uv
			},
		},
	}
}

// CreateRenderPipeline compiles the program's WGSL. Bindings:
// 0 source texels, 2 Surface, 3 program uniforms.
func (d *Device) CreateRenderPipeline(prog *gpucore.RenderProgram) (gpucore.RenderPipelineID, error) {
	if err := prog.Validate(); err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: %w: %w", vfx.ErrResourceCreation, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, fmt.Errorf("native: %w", vfx.ErrClosed)
	}

	p := &renderPipeline{program: prog}
	fail := func(what string, err error) (gpucore.RenderPipelineID, error) {
		d.destroyRender(p)
		return gpucore.InvalidID, fmt.Errorf("native: %w: %s %s: %w", vfx.ErrResourceCreation, prog.Label, what, err)
	}

	var err error
	if p.module, err = d.createShaderModule(prog.Label, prog.WGSL); err != nil {
		return fail("shader", err)
	}
	entries := []gputypes.BindGroupLayoutEntry{
		{Binding: 0, Visibility: gputypes.ShaderStageFragment, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
		{Binding: 2, Visibility: gputypes.ShaderStageVertex | gputypes.ShaderStageFragment, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
	}
	if prog.UniformSize > 0 {
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding: 3, Visibility: gputypes.ShaderStageFragment, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
		})
	}
	if p.bindings, err = d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   prog.Label + "_bind_layout",
		Entries: entries,
	}); err != nil {
		return fail("bind group layout", err)
	}
	if p.layout, err = d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            prog.Label + "_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{p.bindings},
	}); err != nil {
		return fail("pipeline layout", err)
	}
	if p.pipeline, err = d.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  prog.Label,
		Layout: p.layout,
		Vertex: hal.VertexState{
			Module:     p.module,
			EntryPoint: prog.VertexEntry,
			Buffers:    quadVertexLayout(),
		},
		Fragment: &hal.FragmentState{
			Module:     p.module,
			EntryPoint: prog.FragmentEntry,
			Targets: []gputypes.ColorTargetState{
				{
					Format:    gputypes.TextureFormatRGBA8Unorm,
					WriteMask: gputypes.ColorWriteMaskAll,
				},
			},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	}); err != nil {
		return fail("pipeline", err)
	}

	id := gpucore.RenderPipelineID(d.id())
	d.renderers[id] = p
	return id, nil
}

func (d *Device) destroyRender(p *renderPipeline) {
	if p.pipeline != nil {
		d.device.DestroyRenderPipeline(p.pipeline)
	}
	if p.layout != nil {
		d.device.DestroyPipelineLayout(p.layout)
	}
	if p.bindings != nil {
		d.device.DestroyBindGroupLayout(p.bindings)
	}
	if p.module != nil {
		d.device.DestroyShaderModule(p.module)
	}
}

// DestroyRenderPipeline releases a render pipeline.
func (d *Device) DestroyRenderPipeline(id gpucore.RenderPipelineID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.renderers[id]; ok {
		delete(d.renderers, id)
		d.destroyRender(p)
	}
}
