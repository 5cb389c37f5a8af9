// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kernel

import (
	"strings"
	"testing"

	"github.com/gogpu/naga"

	"github.com/gogpu/vfx"
)

// TestShadersCompile checks that every assembled WGSL source compiles to SPIR-V.
func TestShadersCompile(t *testing.T) {
	blur, err := TiledBlur(vfx.Workgroup{X: 8, Y: 4})
	if err != nil {
		t.Fatal(err)
	}
	sources := map[string]string{
		"copy":       Copy(vfx.Workgroup{X: 8, Y: 8}).WGSL,
		"tiled-blur": blur.WGSL,
		"quad-copy":  Quad(false).WGSL,
		"quad-blur":  Quad(true).WGSL,
	}
	for name, src := range sources {
		t.Run(name, func(t *testing.T) {
			if strings.Contains(src, "{{") {
				t.Fatalf("unsubstituted placeholder in %s", name)
			}
			spirv, err := naga.Compile(src)
			if err != nil {
				errStr := err.Error()
				if strings.Contains(errStr, "not yet implemented") || strings.Contains(errStr, "not supported") {
					t.Skipf("Skipping: naga feature not yet implemented: %v", err)
				}
				t.Fatalf("failed to compile %s: %v", name, err)
			}
			if len(spirv) < 4 {
				t.Fatal("SPIR-V too short")
			}
			magic := uint32(spirv[0]) | uint32(spirv[1])<<8 | uint32(spirv[2])<<16 | uint32(spirv[3])<<24
			if magic != 0x07230203 {
				t.Errorf("invalid SPIR-V magic: 0x%08X, want 0x07230203", magic)
			}
		})
	}
}

func TestAssembleSubstitutesWorkgroup(t *testing.T) {
	k := Copy(vfx.Workgroup{X: 16, Y: 2})
	if !strings.Contains(k.WGSL, "@workgroup_size(16, 2, 1)") {
		t.Error("workgroup size not substituted into the copy kernel")
	}
	blur, _ := TiledBlur(vfx.Workgroup{X: 8, Y: 4})
	if !strings.Contains(blur.WGSL, "wid.x * 17u") {
		t.Error("block size not substituted into the tiled kernel")
	}
}
