// Package backend renders video frames on a gpucore.Device.
//
// Three variants are registered on import:
//
//   - "compute": a plain copy kernel, or the separable tiled blur, run as
//     compute dispatches.
//   - "graphics": a full-screen quad with a weighted blur in the fragment
//     stage.
//   - "passthrough": emits a copy of the input and uses no device.
//
// # Lifecycle
//
// A backend is built by New, which rejects invalid configurations with a
// *vfx.ConfigError, and becomes usable after Initialize:
//
//	b, err := backend.New(vfx.RendererCompute, cfg, device.Named(device.NameSoftware))
//	if err != nil {
//		return err
//	}
//	if err := b.Initialize(ctx); err != nil {
//		return err // ErrDeviceUnavailable or ErrResourceCreation
//	}
//	defer b.Close()
//
//	out, err := b.Render(ctx, frame)
//
// # Resources
//
// Intermediate textures live in a keyed resource cache ("sourceTexture",
// "outputTexture", "blurTexture") and are recreated when the frame size
// changes. Close destroys every cached texture, the pipelines and the
// device.
package backend
