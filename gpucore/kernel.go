package gpucore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Vec4 is an RGBA color with components in [0, 1].
type Vec4 [4]float32

// Add returns v + o.
func (v Vec4) Add(o Vec4) Vec4 { return Vec4{v[0] + o[0], v[1] + o[1], v[2] + o[2], v[3] + o[3]} }

// Scale returns v * s.
func (v Vec4) Scale(s float32) Vec4 { return Vec4{v[0] * s, v[1] * s, v[2] * s, v[3] * s} }

// Lerp returns v + (o - v) * t.
func (v Vec4) Lerp(o Vec4, t float32) Vec4 {
	return Vec4{
		v[0] + (o[0]-v[0])*t,
		v[1] + (o[1]-v[1])*t,
		v[2] + (o[2]-v[2])*t,
		v[3] + (o[3]-v[3])*t,
	}
}

// UnpackRGBA8 converts 8-bit unorm channels to a Vec4.
func UnpackRGBA8(r, g, b, a uint8) Vec4 {
	return Vec4{float32(r) / 255, float32(g) / 255, float32(b) / 255, float32(a) / 255}
}

// Quantize converts a unorm float to 8 bits with round-to-nearest,
// clamping out-of-range values like a GPU store does.
func Quantize(v float32) uint8 {
	if !(v > 0) {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

// RGBA8 quantizes every channel of v.
func (v Vec4) RGBA8() [4]uint8 {
	return [4]uint8{Quantize(v[0]), Quantize(v[1]), Quantize(v[2]), Quantize(v[3])}
}

// Texels is a readable 2D texture as seen by a kernel.
// Load clamps coordinates to the edge.
type Texels interface {
	Size() (w, h int)
	Load(x, y int) Vec4
}

// StorageTexels is a writable 2D texture as seen by a kernel.
// Stores outside the texture are discarded.
type StorageTexels interface {
	Size() (w, h int)
	Store(x, y int, c Vec4)
}

// SampleLevel samples t at normalized coordinates (u, v) with
// clamp-to-edge addressing, matching textureSampleLevel(.., 0.0).
func SampleLevel(t Texels, u, v float32, filter FilterMode) Vec4 {
	w, h := t.Size()
	if filter == FilterNearest {
		x := int(math.Floor(float64(u) * float64(w)))
		y := int(math.Floor(float64(v) * float64(h)))
		return t.Load(x, y)
	}
	fx := float64(u)*float64(w) - 0.5
	fy := float64(v)*float64(h) - 0.5
	x0 := math.Floor(fx)
	y0 := math.Floor(fy)
	tx := float32(fx - x0)
	ty := float32(fy - y0)
	ix, iy := int(x0), int(y0)
	top := t.Load(ix, iy).Lerp(t.Load(ix+1, iy), tx)
	bottom := t.Load(ix, iy+1).Lerp(t.Load(ix+1, iy+1), tx)
	return top.Lerp(bottom, ty)
}

// Invocation carries the WGSL builtins of one compute invocation.
type Invocation struct {
	GlobalID    [3]uint32
	LocalID     [3]uint32
	WorkgroupID [3]uint32

	// Shared is the workgroup's var<workgroup> storage, common to all
	// invocations of the same workgroup.
	Shared []Vec4
}

// KernelBindings are the resources bound to a compute pass.
type KernelBindings struct {
	Input    Texels
	Output   StorageTexels
	Filter   FilterMode
	Uniforms []byte
}

// KernelPhase is the code between two workgroup barriers.
type KernelPhase func(inv *Invocation, b *KernelBindings)

// ComputeKernel describes a compute shader in both of its forms.
type ComputeKernel struct {
	Label string

	// WGSL source compiled by GPU devices. It declares the slots documented
	// on ComputePass.
	WGSL       string
	EntryPoint string

	WorkgroupSize [2]uint32

	// SharedTexels is the size of workgroup memory in Vec4 units.
	SharedTexels int

	// UniformSize is the size of the kernel uniform block, 0 if unused.
	UniformSize int

	// Phases run in order; every invocation of a workgroup finishes a
	// phase before any starts the next.
	Phases []KernelPhase
}

// Validate checks the kernel description.
func (k *ComputeKernel) Validate() error {
	if k.WorkgroupSize[0] == 0 || k.WorkgroupSize[1] == 0 {
		return fmt.Errorf("kernel %q: zero workgroup size", k.Label)
	}
	if len(k.Phases) == 0 {
		return fmt.Errorf("kernel %q: no phases", k.Label)
	}
	if k.WGSL == "" || k.EntryPoint == "" {
		return fmt.Errorf("kernel %q: missing WGSL entry point", k.Label)
	}
	return nil
}

// Vertex is the vertex layout of render programs: float32x2 position at
// location 0 and float32x2 texture coordinate at location 1.
type Vertex struct {
	Position [2]float32
	UV       [2]float32
}

// VertexStride is the size of an encoded Vertex in bytes.
const VertexStride = 16

// EncodeVertices packs vertices little-endian, ready for WriteBuffer.
func EncodeVertices(vs []Vertex) []byte {
	out := make([]byte, 0, len(vs)*VertexStride)
	for _, v := range vs {
		for _, f := range [4]float32{v.Position[0], v.Position[1], v.UV[0], v.UV[1]} {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
		}
	}
	return out
}

// DecodeVertices is the inverse of EncodeVertices.
func DecodeVertices(data []byte) ([]Vertex, error) {
	if len(data)%VertexStride != 0 {
		return nil, errors.New("gpucore: vertex data is not a multiple of the stride")
	}
	vs := make([]Vertex, len(data)/VertexStride)
	for i := range vs {
		f := func(k int) float32 {
			return math.Float32frombits(binary.LittleEndian.Uint32(data[i*VertexStride+k*4:]))
		}
		vs[i] = Vertex{Position: [2]float32{f(0), f(1)}, UV: [2]float32{f(2), f(3)}}
	}
	return vs, nil
}

// Varying is the output of a vertex stage.
type Varying struct {
	// Position in clip space; w is 1 for the programs in this module.
	Position [4]float32
	UV       [2]float32
}

// FragmentBindings are the resources a fragment stage reads.
type FragmentBindings struct {
	Input    Texels
	Filter   FilterMode
	Uniforms []byte
}

// RenderProgram describes a vertex + fragment program in both forms.
type RenderProgram struct {
	Label string

	WGSL          string
	VertexEntry   string
	FragmentEntry string

	UniformSize int

	Vertex   func(v Vertex) Varying
	Fragment func(uv [2]float32, b *FragmentBindings) Vec4
}

// Validate checks the program description.
func (p *RenderProgram) Validate() error {
	if p.Vertex == nil || p.Fragment == nil {
		return fmt.Errorf("program %q: missing stage", p.Label)
	}
	if p.WGSL == "" || p.VertexEntry == "" || p.FragmentEntry == "" {
		return fmt.Errorf("program %q: missing WGSL entry point", p.Label)
	}
	return nil
}

// Float32At reads a little-endian float32 uniform field at byte offset off.
// Missing bytes read as zero.
func Float32At(data []byte, off int) float32 {
	if off+4 > len(data) {
		return 0
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
}

// Uint32At reads a little-endian uint32 uniform field at byte offset off.
func Uint32At(data []byte, off int) uint32 {
	if off+4 > len(data) {
		return 0
	}
	return binary.LittleEndian.Uint32(data[off:])
}
