package gpucore

import (
	"context"
	"image"

	"github.com/gogpu/gputypes"
)

// Device abstracts over the GPU implementations a backend can render on.
//
// A Device is used by one backend at a time; the backend never issues two
// passes concurrently. Implementations must still tolerate Destroy* calls
// from a different goroutine than the one that rendered.
type Device interface {
	// === Capabilities ===

	// Name returns a human-readable adapter name for logs.
	Name() string

	Capabilities() Capabilities

	// HasComputeSupport reports whether Dispatch can be used.
	HasComputeSupport() bool

	// HasRequiredFeature reports whether an optional feature is enabled.
	HasRequiredFeature(name string) bool

	// PreferredSurfaceFormat is the format presentation surfaces use.
	PreferredSurfaceFormat() gputypes.TextureFormat

	// === Textures ===

	CreateTexture(desc *TextureDescriptor) (TextureID, error)
	DestroyTexture(id TextureID)

	// ImportExternalTexture exposes img as a sampleable texture without an
	// explicit upload pass. The texture is valid until ReleaseExternalTexture,
	// and img must not be modified meanwhile.
	ImportExternalTexture(img *image.RGBA) (TextureID, error)
	ReleaseExternalTexture(id TextureID)

	// WriteTexture uploads img into a texture with CopyDst usage.
	// The image bounds must match the texture size.
	WriteTexture(id TextureID, img *image.RGBA) error

	// ReadTexture copies a texture with CopySrc usage into dst.
	ReadTexture(ctx context.Context, id TextureID, dst *image.RGBA) error

	// CopyTexture copies src (CopySrc) into dst (CopyDst).
	// Both must have the same size and format.
	CopyTexture(ctx context.Context, src, dst TextureID) error

	// === Samplers and buffers ===

	CreateSampler(desc *SamplerDescriptor) (SamplerID, error)
	DestroySampler(id SamplerID)

	CreateBuffer(desc *BufferDescriptor) (BufferID, error)
	WriteBuffer(id BufferID, offset int, data []byte) error
	DestroyBuffer(id BufferID)

	// === Pipelines ===

	CreateComputePipeline(k *ComputeKernel) (ComputePipelineID, error)
	DestroyComputePipeline(id ComputePipelineID)

	CreateRenderPipeline(p *RenderProgram) (RenderPipelineID, error)
	DestroyRenderPipeline(id RenderPipelineID)

	// === Execution ===

	// Dispatch runs a compute pass and waits for it to complete.
	Dispatch(ctx context.Context, pass *ComputePass) error

	// Draw runs a render pass and waits for it to complete.
	Draw(ctx context.Context, pass *RenderPass) error

	// Destroy releases the device and every resource still alive on it.
	Destroy()
}

// ComputePass binds the fixed kernel slots and the workgroup grid.
//
// Binding slots, in the order kernels see them:
//
//	0: Input    sampled texture (TextureBinding)
//	1: Output   storage texture (StorageBinding)
//	2: Sampler  filter used by SampleLevel
//	3: Uniforms optional kernel uniform block
type ComputePass struct {
	Label    string
	Pipeline ComputePipelineID
	Input    TextureID
	Output   TextureID
	Sampler  SamplerID
	Uniforms BufferID
	Groups   [2]uint32
}

// RenderPass draws VertexCount vertices from Vertices into Target.
type RenderPass struct {
	Label       string
	Pipeline    RenderPipelineID
	Input       TextureID
	Target      TextureID
	Sampler     SamplerID
	Uniforms    BufferID
	Vertices    BufferID
	VertexCount int
	Clear       Vec4
}
