// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kernel

import (
	_ "embed"
	"strconv"
	"strings"
)

//go:embed shaders/texel.wgsl
var shaderTexel string

//go:embed shaders/storage.wgsl
var shaderStorage string

//go:embed shaders/copy.wgsl
var shaderCopy string

//go:embed shaders/blur_tiled.wgsl
var shaderBlurTiled string

//go:embed shaders/quad.wgsl
var shaderQuad string

//go:embed shaders/quad_copy.wgsl
var shaderQuadCopy string

//go:embed shaders/quad_blur.wgsl
var shaderQuadBlur string

// assemble joins shader parts and fills the {{NAME}} placeholders.
// Workgroup sizes must be literals in WGSL, so they are substituted here.
func assemble(vars map[string]int, parts ...string) string {
	src := strings.Join(parts, "\n")
	if len(vars) == 0 {
		return src
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", strconv.Itoa(v))
	}
	return strings.NewReplacer(pairs...).Replace(src)
}
