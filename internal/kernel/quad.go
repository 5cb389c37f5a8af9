// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kernel

import (
	"encoding/binary"
	"math"

	"github.com/gogpu/vfx/gpucore"
)

// QuadUniformSize is the size of the graphics blur uniform block:
// resolution (vec2), blur amount and radius.
const QuadUniformSize = 16

// FullScreenQuad is the triangle list covering clip space. Texture
// coordinates grow upward here; the vertex stage flips v.
var FullScreenQuad = []gpucore.Vertex{
	{Position: [2]float32{-1, -1}, UV: [2]float32{0, 0}},
	{Position: [2]float32{1, -1}, UV: [2]float32{1, 0}},
	{Position: [2]float32{-1, 1}, UV: [2]float32{0, 1}},
	{Position: [2]float32{-1, 1}, UV: [2]float32{0, 1}},
	{Position: [2]float32{1, -1}, UV: [2]float32{1, 0}},
	{Position: [2]float32{1, 1}, UV: [2]float32{1, 1}},
}

// QuadUniforms encodes the graphics blur uniform block.
func QuadUniforms(width, height int, amount float32, radius int) []byte {
	buf := make([]byte, 0, QuadUniformSize)
	for _, f := range [4]float32{float32(width), float32(height), amount, float32(radius)} {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	return buf
}

// Quad returns the full-screen quad program, with the weighted blur
// fragment stage when blur is set.
func Quad(blur bool) *gpucore.RenderProgram {
	p := &gpucore.RenderProgram{
		Label:         "quad-copy",
		WGSL:          assemble(nil, shaderTexel, shaderQuad, shaderQuadCopy),
		VertexEntry:   "vs_main",
		FragmentEntry: "fs_main",
		Vertex:        quadVertex,
		Fragment:      quadCopy,
	}
	if blur {
		p.Label = "quad-blur"
		p.WGSL = assemble(nil, shaderTexel, shaderQuad, shaderQuadBlur)
		p.UniformSize = QuadUniformSize
		p.Fragment = quadBlur
	}
	return p
}

func quadVertex(v gpucore.Vertex) gpucore.Varying {
	return gpucore.Varying{
		Position: [4]float32{v.Position[0], v.Position[1], 0, 1},
		UV:       [2]float32{v.UV[0], 1 - v.UV[1]},
	}
}

func quadCopy(uv [2]float32, b *gpucore.FragmentBindings) gpucore.Vec4 {
	return gpucore.SampleLevel(b.Input, uv[0], uv[1], b.Filter)
}

func quadBlur(uv [2]float32, b *gpucore.FragmentBindings) gpucore.Vec4 {
	resX := gpucore.Float32At(b.Uniforms, 0)
	resY := gpucore.Float32At(b.Uniforms, 4)
	amount := gpucore.Float32At(b.Uniforms, 8)
	r := int(gpucore.Float32At(b.Uniforms, 12))

	var color gpucore.Vec4
	var total float32
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			ox := float32(dx) * amount / resX
			oy := float32(dy) * amount / resY
			weight := float32(1 / (1 + math.Hypot(float64(dx), float64(dy))))
			s := gpucore.SampleLevel(b.Input, uv[0]+ox, uv[1]+oy, b.Filter)
			color = color.Add(s.Scale(weight))
			total += weight
		}
	}
	out := color.Scale(1 / total)
	out[3] = 1
	return out
}
