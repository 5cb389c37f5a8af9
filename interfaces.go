package vfx

import "context"

// FrameSource produces frames for a session.
//
// NextFrame blocks until a frame is available, the context is done, or the
// stream ends. At end of stream it returns io.EOF. Frames handed out are
// owned by the caller.
type FrameSource interface {
	NextFrame(ctx context.Context) (*FrameBuffer, error)
	DisplayWidth() int
	DisplayHeight() int
}

// OutputSink consumes processed frames.
//
// Write must not retain the frame after it returns; the pump releases it.
// A sink that needs the pixels later copies them (FrameBuffer.Clone).
// Close is called exactly once when the session stops.
type OutputSink interface {
	Write(frame *FrameBuffer) error
	Close() error
}

// CapabilityQuery reports what a device can do.
type CapabilityQuery interface {
	HasComputeSupport() bool
	HasRequiredFeature(name string) bool
}
