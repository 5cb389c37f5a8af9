// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kernel

import (
	"fmt"

	"github.com/gogpu/vfx"
	"github.com/gogpu/vfx/gpucore"
)

// Copy returns the plain sampling kernel for wgs.
func Copy(wgs vfx.Workgroup) *gpucore.ComputeKernel {
	return &gpucore.ComputeKernel{
		Label:         fmt.Sprintf("copy-%dx%d", wgs.X, wgs.Y),
		WGSL:          assemble(map[string]int{"WG_X": wgs.X, "WG_Y": wgs.Y}, shaderTexel, shaderStorage, shaderCopy),
		EntryPoint:    "main",
		WorkgroupSize: [2]uint32{uint32(wgs.X), uint32(wgs.Y)},
		Phases:        []gpucore.KernelPhase{copyTexel},
	}
}

// CopyGroups returns the dispatch grid of the plain kernel:
// ceil(w/wgs.X) x ceil(h/wgs.Y).
func CopyGroups(w, h int, wgs vfx.Workgroup) [2]uint32 {
	return [2]uint32{uint32(ceilDiv(w, wgs.X)), uint32(ceilDiv(h, wgs.Y))}
}

func copyTexel(inv *gpucore.Invocation, b *gpucore.KernelBindings) {
	w, h := b.Output.Size()
	x, y := int(inv.GlobalID[0]), int(inv.GlobalID[1])
	if x >= w || y >= h {
		return
	}
	u := (float32(x) + 0.5) / float32(w)
	v := (float32(y) + 0.5) / float32(h)
	b.Output.Store(x, y, gpucore.SampleLevel(b.Input, u, v, b.Filter))
}
