package gpucore

import (
	"fmt"
	"slices"

	"github.com/gogpu/gputypes"
)

// Resource IDs
//
// These opaque IDs represent device resources. Each device implementation
// maintains a mapping between IDs and actual backend resources.

// TextureID is an opaque handle to a 2D texture.
type TextureID uint64

// SamplerID is an opaque handle to a sampler.
type SamplerID uint64

// BufferID is an opaque handle to a buffer.
type BufferID uint64

// ComputePipelineID is an opaque handle to a compiled compute kernel.
type ComputePipelineID uint64

// RenderPipelineID is an opaque handle to a compiled render program.
type RenderPipelineID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// TextureUsage is a bitmask specifying how a texture will be used.
type TextureUsage uint32

// Texture usage flags. The values follow WebGPU's GPUTextureUsage.
const (
	TextureUsageCopySrc          TextureUsage = 1 << 0
	TextureUsageCopyDst          TextureUsage = 1 << 1
	TextureUsageTextureBinding   TextureUsage = 1 << 2
	TextureUsageStorageBinding   TextureUsage = 1 << 3
	TextureUsageRenderAttachment TextureUsage = 1 << 4
)

// Contains reports whether all flags in other are set in u.
func (u TextureUsage) Contains(other TextureUsage) bool { return u&other == other }

func (u TextureUsage) String() string {
	names := []struct {
		flag TextureUsage
		name string
	}{
		{TextureUsageCopySrc, "COPY_SRC"},
		{TextureUsageCopyDst, "COPY_DST"},
		{TextureUsageTextureBinding, "TEXTURE_BINDING"},
		{TextureUsageStorageBinding, "STORAGE_BINDING"},
		{TextureUsageRenderAttachment, "RENDER_ATTACHMENT"},
	}
	s := ""
	for _, n := range names {
		if u&n.flag != 0 {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	if s == "" {
		return "NONE"
	}
	return s
}

// BufferUsage is a bitmask specifying how a buffer will be used.
type BufferUsage uint32

// Buffer usage flags.
const (
	BufferUsageCopyDst BufferUsage = 1 << 0
	BufferUsageUniform BufferUsage = 1 << 1
	BufferUsageVertex  BufferUsage = 1 << 2
)

// FilterMode selects how a sampler reads between texel centres.
type FilterMode uint32

const (
	// FilterNearest returns the closest texel.
	FilterNearest FilterMode = iota
	// FilterLinear blends the four closest texels.
	FilterLinear
)

func (f FilterMode) String() string {
	if f == FilterLinear {
		return "linear"
	}
	return "nearest"
}

// TextureDescriptor describes a 2D texture.
type TextureDescriptor struct {
	Label  string
	Width  int
	Height int
	Format gputypes.TextureFormat
	Usage  TextureUsage
}

// Validate checks dimensions and format.
func (d *TextureDescriptor) Validate(maxDim int) error {
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("texture %q: invalid size %dx%d", d.Label, d.Width, d.Height)
	}
	if maxDim > 0 && (d.Width > maxDim || d.Height > maxDim) {
		return fmt.Errorf("texture %q: size %dx%d exceeds limit %d", d.Label, d.Width, d.Height, maxDim)
	}
	if !IsSupportedFormat(d.Format) {
		return fmt.Errorf("texture %q: unsupported format %v", d.Label, d.Format)
	}
	if d.Usage == 0 {
		return fmt.Errorf("texture %q: empty usage", d.Label)
	}
	return nil
}

// IsSupportedFormat reports whether devices in this module can store f.
func IsSupportedFormat(f gputypes.TextureFormat) bool {
	return f == gputypes.TextureFormatRGBA8Unorm || f == gputypes.TextureFormatBGRA8Unorm
}

// SamplerDescriptor describes a clamp-to-edge sampler.
type SamplerDescriptor struct {
	Label  string
	Filter FilterMode
}

// BufferDescriptor describes a small host-visible buffer
// (uniform blocks and vertex data).
type BufferDescriptor struct {
	Label string
	Size  int
	Usage BufferUsage
}

// Feature names reported by Capabilities.
const (
	// FeatureBGRA8UnormStorage allows BGRA8Unorm textures as storage
	// bindings, needed for compute output written straight to a BGRA surface.
	FeatureBGRA8UnormStorage = "bgra8unorm-storage"
)

// Capabilities describes what a device supports.
type Capabilities struct {
	Compute  bool
	Graphics bool
	Features []string

	// MaxTextureDimension2D is the largest allowed texture side.
	MaxTextureDimension2D int

	// MaxWorkgroupInvocations bounds Workgroup.X * Workgroup.Y.
	MaxWorkgroupInvocations int
}

// HasFeature reports whether name is listed in Features.
func (c *Capabilities) HasFeature(name string) bool {
	return slices.Contains(c.Features, name)
}
