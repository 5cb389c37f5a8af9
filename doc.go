// Package vfx applies a real-time blur effect to a stream of video frames
// on a GPU, at a bounded frame rate, falling back to a degraded path when
// the preferred device is unavailable.
//
// # Overview
//
// A session pulls frames from a [FrameSource], throttles them to the
// configured rate, renders each accepted frame on a backend and writes the
// result to an [OutputSink]:
//
//	source -> pump (throttle) -> backend.Render -> sink
//
// # Quick Start
//
//	cfg := vfx.DefaultConfig()
//	cfg.Blur = true
//	cfg.Workgroup = vfx.Workgroup{X: 8, Y: 4}
//
//	s, err := pipeline.Start(ctx, cfg, source, sink)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Stop(context.Background())
//
// # Backends
//
// Three backend variants exist (see package backend):
//   - compute: plain copy or a shared-memory tiled box blur
//   - graphics: a full-screen quad with a weighted blur fragment stage
//   - passthrough: forwards frames unchanged, used for degradation
//
// Backends run on a gpucore.Device. The native device drives gogpu/wgpu
// through its HAL and compiles WGSL with naga; the software device executes
// the same kernels on the CPU.
//
// # Logging
//
// vfx is silent by default. Call [SetLogger] to route diagnostics to a
// slog.Logger.
package vfx
