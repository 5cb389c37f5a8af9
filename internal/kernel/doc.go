// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package kernel holds the compute kernels and render programs of the blur
// engine, each in two forms: WGSL for GPU devices and phased Go code for the
// software device. The two forms compute the same values texel for texel.
//
// Kernels:
//   - Copy: one invocation per output texel, samples the input at the
//     texel centre with the configured filter.
//   - TiledBlur: a shared-memory box blur along one axis. Running it twice,
//     the second time with flip set, gives the separable 2D blur.
//   - Quad: the full-screen quad program of the graphics backend, either a
//     single sample or the weighted radius blur.
package kernel
