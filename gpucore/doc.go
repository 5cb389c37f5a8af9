// Package gpucore defines the device abstraction the vfx backends render on.
//
// A [Device] hands out opaque resource IDs (textures, samplers, buffers and
// pipelines) and executes two kinds of passes:
//
//   - [ComputePass]: dispatches a [ComputeKernel] over a 2D grid of workgroups
//   - [RenderPass]: draws a [RenderProgram] into a render-attachment texture
//
// # Architecture
//
// Kernels are described once and carried to every device implementation:
//
//	               +------------------+
//	               |  ComputeKernel   |
//	               |  RenderProgram   |
//	               +--------+---------+
//	                        |
//	         +--------------+--------------+
//	         |                             |
//	+--------v--------+          +--------v--------+
//	| device/native   |          | device/software |
//	| WGSL -> naga -> |          | Go phases on a  |
//	| SPIR-V on HAL   |          | worker pool     |
//	+-----------------+          +-----------------+
//
// The native device compiles the WGSL source. The software device runs the
// kernel's Phases per invocation, completing every phase for the whole
// workgroup before the next one starts, which is what a workgroupBarrier
// guarantees on hardware.
//
// # Resource lifecycle
//
// Resources are created via Create* methods and must be explicitly destroyed
// via Destroy* methods. IDs become invalid after destruction and are never
// reused by the same device.
package gpucore
