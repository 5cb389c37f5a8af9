// Package pipeline runs frames from a vfx.FrameSource through a backend
// into a vfx.OutputSink.
//
// A Session selects a backend (falling back once to a passthrough renderer
// when the requested one cannot start), then drives a Pump: frames arriving
// faster than the target rate are dropped, accepted frames are rendered one
// at a time and written to the sink.
//
//	s, err := pipeline.Start(ctx, cfg, source, sink)
//	if err != nil {
//		return err
//	}
//	defer s.Stop(context.Background())
//	return s.Wait()
package pipeline
