package vfx

import (
	"image"
	"sync/atomic"
	"time"
)

// FrameBuffer is one video frame travelling through the pipeline.
//
// A FrameBuffer is exclusively owned by whichever stage currently holds it
// and must be released exactly once: by the pump when it drops the frame,
// or after the frame has been rendered and the output written to the sink.
type FrameBuffer struct {
	img       *image.RGBA
	timestamp time.Duration
	duration  time.Duration

	released  atomic.Bool
	onRelease func(*image.RGBA)
}

// NewFrame wraps img as a frame. The frame takes ownership of img.
func NewFrame(img *image.RGBA, timestamp, duration time.Duration) *FrameBuffer {
	return &FrameBuffer{img: img, timestamp: timestamp, duration: duration}
}

// NewFrameWithRelease is like NewFrame but calls onRelease with the pixel
// buffer when the frame is released, so a source can recycle it.
func NewFrameWithRelease(img *image.RGBA, timestamp, duration time.Duration, onRelease func(*image.RGBA)) *FrameBuffer {
	return &FrameBuffer{img: img, timestamp: timestamp, duration: duration, onRelease: onRelease}
}

// Image returns the pixel payload. It must not be used after Release.
func (f *FrameBuffer) Image() *image.RGBA { return f.img }

// Timestamp returns the presentation timestamp relative to stream start.
func (f *FrameBuffer) Timestamp() time.Duration { return f.timestamp }

// Duration returns how long the frame is displayed.
func (f *FrameBuffer) Duration() time.Duration { return f.duration }

// DisplayWidth returns the frame width in pixels.
func (f *FrameBuffer) DisplayWidth() int {
	if f.img == nil {
		return 0
	}
	return f.img.Rect.Dx()
}

// DisplayHeight returns the frame height in pixels.
func (f *FrameBuffer) DisplayHeight() int {
	if f.img == nil {
		return 0
	}
	return f.img.Rect.Dy()
}

// Released reports whether Release has been called.
func (f *FrameBuffer) Released() bool { return f.released.Load() }

// Release gives the frame back to its producer.
// Calling Release more than once returns ErrFrameReleased.
func (f *FrameBuffer) Release() error {
	if !f.released.CompareAndSwap(false, true) {
		return ErrFrameReleased
	}
	img := f.img
	f.img = nil
	if f.onRelease != nil && img != nil {
		f.onRelease(img)
	}
	return nil
}

// Clone returns an independent copy of the frame with the same timing.
func (f *FrameBuffer) Clone() *FrameBuffer {
	var img *image.RGBA
	if f.img != nil {
		b := f.img.Rect
		img = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		for y := 0; y < b.Dy(); y++ {
			off := f.img.PixOffset(b.Min.X, b.Min.Y+y)
			copy(img.Pix[y*img.Stride:], f.img.Pix[off:off+b.Dx()*4])
		}
	}
	return NewFrame(img, f.timestamp, f.duration)
}
