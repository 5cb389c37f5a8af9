// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kernel

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/vfx"
	"github.com/gogpu/vfx/gpucore"
)

// Tiled blur constants.
const (
	// FilterSize is the blur width the tile margin is sized for.
	FilterSize = 15

	// FilterDim is the number of taps averaged per output texel.
	FilterDim = FilterSize + 1

	// FilterOffset is the tile margin on each side of the output block.
	FilterOffset = (FilterSize + 1 - 1) / 2

	// TileRows is the height of a tile and of an output block.
	TileRows = 4

	// TexelsPerInvocation is the number of texels each invocation loads per row.
	TexelsPerInvocation = 4

	// MaxTileDim is the width of the workgroup's shared tile.
	MaxTileDim = 128

	// BlurUniformSize is the size of the tiled blur uniform block.
	BlurUniformSize = 16
)

// TileGeometry is the tiling derived from a workgroup size.
type TileGeometry struct {
	// TileDim is the number of texels a workgroup loads per row.
	TileDim int
	// BlockDim is the number of texels a workgroup writes per row.
	BlockDim int
}

// Geometry returns the tiling for wgs without validating it.
func Geometry(wgs vfx.Workgroup) TileGeometry {
	tileDim := wgs.X * TexelsPerInvocation
	return TileGeometry{TileDim: tileDim, BlockDim: tileDim - FilterSize}
}

// ValidateTiled rejects workgroup sizes the tiled kernel cannot run with:
// a non-positive output block (wgs.X <= 3) or a tile wider than the
// shared buffer (wgs.X > 32).
func ValidateTiled(wgs vfx.Workgroup) (TileGeometry, error) {
	g := Geometry(wgs)
	if g.BlockDim <= 0 {
		return g, &vfx.ConfigError{
			Field:  "Workgroup.X",
			Reason: fmt.Sprintf("tiled blur needs blockDim = %d*4-%d > 0, got %d", wgs.X, FilterSize, g.BlockDim),
		}
	}
	if g.TileDim > MaxTileDim {
		return g, &vfx.ConfigError{
			Field:  "Workgroup.X",
			Reason: fmt.Sprintf("tile of %d texels exceeds the %d-texel shared buffer", g.TileDim, MaxTileDim),
		}
	}
	if wgs.Y < 1 {
		return g, &vfx.ConfigError{Field: "Workgroup.Y", Reason: "must be positive"}
	}
	return g, nil
}

// TiledGroups returns the dispatch grid of one tiled pass over a w x h
// texture. A flipped pass walks columns, so the grid is transposed.
func TiledGroups(w, h int, g TileGeometry, flip bool) [2]uint32 {
	if flip {
		w, h = h, w
	}
	return [2]uint32{uint32(ceilDiv(w, g.BlockDim)), uint32(ceilDiv(h, TileRows))}
}

// BlurUniforms encodes the tiled blur uniform block.
func BlurUniforms(flip bool) []byte {
	buf := make([]byte, BlurUniformSize)
	if flip {
		binary.LittleEndian.PutUint32(buf, 1)
	}
	return buf
}

// TiledBlur returns the tiled blur kernel for wgs.
func TiledBlur(wgs vfx.Workgroup) (*gpucore.ComputeKernel, error) {
	g, err := ValidateTiled(wgs)
	if err != nil {
		return nil, err
	}
	t := &tiledBlur{wgs: wgs, geom: g}
	return &gpucore.ComputeKernel{
		Label: fmt.Sprintf("tiled-blur-%dx%d", wgs.X, wgs.Y),
		WGSL: assemble(map[string]int{
			"WG_X":      wgs.X,
			"WG_Y":      wgs.Y,
			"BLOCK_DIM": g.BlockDim,
			"TILE_DIM":  g.TileDim,
		}, shaderTexel, shaderStorage, shaderBlurTiled),
		EntryPoint:    "main",
		WorkgroupSize: [2]uint32{uint32(wgs.X), uint32(wgs.Y)},
		SharedTexels:  TileRows * MaxTileDim,
		UniformSize:   BlurUniformSize,
		Phases:        []gpucore.KernelPhase{t.load, t.store},
	}, nil
}

type tiledBlur struct {
	wgs  vfx.Workgroup
	geom TileGeometry
}

func (t *tiledBlur) origin(inv *gpucore.Invocation) (int, int) {
	return int(inv.WorkgroupID[0])*t.geom.BlockDim - FilterOffset, int(inv.WorkgroupID[1]) * TileRows
}

func coord(bx, by, col, row int, flip bool) (int, int) {
	if flip {
		return by + row, bx + col
	}
	return bx + col, by + row
}

// load fills the invocation's texels of the shared tile.
func (t *tiledBlur) load(inv *gpucore.Invocation, b *gpucore.KernelBindings) {
	flip := gpucore.Uint32At(b.Uniforms, 0) != 0
	bx, by := t.origin(inv)
	for r := int(inv.LocalID[1]); r < TileRows; r += t.wgs.Y {
		for c := 0; c < TexelsPerInvocation; c++ {
			col := TexelsPerInvocation*int(inv.LocalID[0]) + c
			x, y := coord(bx, by, col, r, flip)
			inv.Shared[r*MaxTileDim+col] = b.Input.Load(x, y)
		}
	}
}

// store averages the FilterDim-tap window around every texel of the output block.
func (t *tiledBlur) store(inv *gpucore.Invocation, b *gpucore.KernelBindings) {
	flip := gpucore.Uint32At(b.Uniforms, 0) != 0
	bx, by := t.origin(inv)
	for r := int(inv.LocalID[1]); r < TileRows; r += t.wgs.Y {
		row := inv.Shared[r*MaxTileDim : (r+1)*MaxTileDim]
		for c := 0; c < TexelsPerInvocation; c++ {
			col := TexelsPerInvocation*int(inv.LocalID[0]) + c
			if col < FilterOffset || col >= FilterOffset+t.geom.BlockDim {
				continue
			}
			var acc gpucore.Vec4
			for f := 0; f < FilterDim; f++ {
				acc = acc.Add(row[col+f-FilterOffset].Scale(1.0 / FilterDim))
			}
			x, y := coord(bx, by, col, r, flip)
			b.Output.Store(x, y, acc)
		}
	}
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
