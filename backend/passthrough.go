package backend

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/gogpu/vfx"
	"github.com/gogpu/vfx/device"
)

func init() {
	Register(vfx.RendererPassthrough, func(cfg vfx.Config, _ device.Opener) (Backend, error) {
		return NewPassthrough(cfg)
	})
}

// Passthrough emits a copy of every input frame. It uses no device and
// cannot fail to initialize, which makes it the default fallback.
type Passthrough struct {
	cfg      vfx.Config
	state    atomic.Int32
	inFlight atomic.Bool
}

var _ Backend = (*Passthrough)(nil)

// NewPassthrough returns an uninitialized passthrough backend. Blur is a
// configuration error.
func NewPassthrough(cfg vfx.Config) (*Passthrough, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Blur {
		return nil, &vfx.ConfigError{Field: "Blur", Reason: "the passthrough renderer cannot blur"}
	}
	return &Passthrough{cfg: cfg}, nil
}

// Name returns "passthrough".
func (p *Passthrough) Name() string { return vfx.RendererPassthrough.String() }

// Capabilities is empty.
func (p *Passthrough) Capabilities() Capabilities { return Capabilities{} }

// State returns the lifecycle state.
func (p *Passthrough) State() State { return State(p.state.Load()) }

// Initialize marks the backend ready.
func (p *Passthrough) Initialize(ctx context.Context) error {
	if p.State() == StateClosed {
		return fmt.Errorf("backend passthrough: %w", vfx.ErrClosed)
	}
	p.state.CompareAndSwap(int32(StateUninitialized), int32(StateReady))
	return nil
}

// Render returns a clone of frame with the same timing.
func (p *Passthrough) Render(ctx context.Context, frame *vfx.FrameBuffer) (*vfx.FrameBuffer, error) {
	if !p.inFlight.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("backend passthrough: %w: render already in flight", vfx.ErrRender)
	}
	defer p.inFlight.Store(false)

	switch st := p.State(); st {
	case StateReady:
	case StateClosed:
		return nil, fmt.Errorf("backend passthrough: %w", vfx.ErrClosed)
	default:
		return nil, fmt.Errorf("backend passthrough: %w: backend is %s", vfx.ErrRender, st)
	}
	if frame == nil || frame.Released() {
		return nil, fmt.Errorf("backend passthrough: %w: no frame data", vfx.ErrRender)
	}
	return frame.Clone(), nil
}

// Close marks the backend closed.
func (p *Passthrough) Close() error {
	p.state.Store(int32(StateClosed))
	return nil
}
