package pipeline

import (
	"context"
	"io"
	"sync"

	"github.com/gogpu/vfx"
)

// ChannelSource is a push-based vfx.FrameSource. Producers call Push; the
// pump receives frames in order. Close ends the stream with io.EOF once
// the buffered frames are consumed.
type ChannelSource struct {
	width, height int
	frames        chan *vfx.FrameBuffer

	closeOnce sync.Once
	closed    chan struct{}
}

var _ vfx.FrameSource = (*ChannelSource)(nil)

// NewChannelSource returns a source of width x height frames buffering up
// to buffer frames.
func NewChannelSource(width, height, buffer int) *ChannelSource {
	return &ChannelSource{
		width:  width,
		height: height,
		frames: make(chan *vfx.FrameBuffer, buffer),
		closed: make(chan struct{}),
	}
}

// Push hands a frame to the source, blocking while the buffer is full.
// On error the frame is released.
func (s *ChannelSource) Push(ctx context.Context, frame *vfx.FrameBuffer) error {
	select {
	case <-s.closed:
		_ = frame.Release()
		return vfx.ErrClosed
	default:
	}
	select {
	case s.frames <- frame:
		return nil
	case <-s.closed:
		_ = frame.Release()
		return vfx.ErrClosed
	case <-ctx.Done():
		_ = frame.Release()
		return ctx.Err()
	}
}

// Close ends the stream. Frames already pushed are still delivered.
func (s *ChannelSource) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// NextFrame implements vfx.FrameSource.
func (s *ChannelSource) NextFrame(ctx context.Context) (*vfx.FrameBuffer, error) {
	select {
	case f := <-s.frames:
		return f, nil
	default:
	}
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.closed:
		select {
		case f := <-s.frames:
			return f, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DisplayWidth implements vfx.FrameSource.
func (s *ChannelSource) DisplayWidth() int { return s.width }

// DisplayHeight implements vfx.FrameSource.
func (s *ChannelSource) DisplayHeight() int { return s.height }

// FuncSink adapts a function to vfx.OutputSink. The frame passed to the
// function is released after it returns; copy anything that is kept.
type FuncSink func(frame *vfx.FrameBuffer) error

var _ vfx.OutputSink = FuncSink(nil)

// Write calls f.
func (f FuncSink) Write(frame *vfx.FrameBuffer) error { return f(frame) }

// Close does nothing.
func (f FuncSink) Close() error { return nil }
