package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/vfx"
	"github.com/gogpu/vfx/backend"
)

// PumpState is the lifecycle state of a Pump.
type PumpState int32

const (
	PumpIdle PumpState = iota
	PumpRunning
	PumpStopping
)

func (s PumpState) String() string {
	switch s {
	case PumpIdle:
		return "idle"
	case PumpRunning:
		return "running"
	case PumpStopping:
		return "stopping"
	}
	return fmt.Sprintf("PumpState(%d)", int32(s))
}

// Counters are the frame counters of a pump.
type Counters struct {
	Received     uint64
	Dropped      uint64
	Rendered     uint64
	RenderErrors uint64
	WriteErrors  uint64
	Emitted      uint64
}

type counters struct {
	received, dropped, rendered        atomic.Uint64
	renderErrors, writeErrors, emitted atomic.Uint64
}

// Pump moves frames from a source through a backend into a sink, one at a
// time. Frames arriving sooner than the minimum interval after the last
// accepted frame are dropped; there is no queue.
type Pump struct {
	source      vfx.FrameSource
	sink        vfx.OutputSink
	backend     backend.Backend
	minInterval time.Duration
	now         func() time.Time

	state    atomic.Int32
	counters counters
	fps      fpsMeter

	mu            sync.Mutex
	cancelAcquire context.CancelFunc
	cancelRender  context.CancelFunc
	done          chan struct{}
	err           error

	// Throttle state, owned by the run goroutine.
	accepted      bool
	lastAccepted  time.Time
	lastTimestamp time.Duration
}

// NewPump returns an idle pump. A nil clock uses time.Now.
func NewPump(source vfx.FrameSource, sink vfx.OutputSink, b backend.Backend, minInterval time.Duration, now func() time.Time) *Pump {
	if now == nil {
		now = time.Now
	}
	return &Pump{
		source:      source,
		sink:        sink,
		backend:     b,
		minInterval: minInterval,
		now:         now,
	}
}

// State returns the lifecycle state.
func (p *Pump) State() PumpState { return PumpState(p.state.Load()) }

// Counters returns a snapshot of the frame counters.
func (p *Pump) Counters() Counters {
	c := &p.counters
	return Counters{
		Received:     c.received.Load(),
		Dropped:      c.dropped.Load(),
		Rendered:     c.rendered.Load(),
		RenderErrors: c.renderErrors.Load(),
		WriteErrors:  c.writeErrors.Load(),
		Emitted:      c.emitted.Load(),
	}
}

// FPS returns the emitted frame rate of the last complete one-second window.
func (p *Pump) FPS() float64 { return p.fps.value() }

// Start launches the pump goroutine. It fails if the pump is not idle.
func (p *Pump) Start(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(PumpIdle), int32(PumpRunning)) {
		return fmt.Errorf("pipeline: pump is %s", p.State())
	}
	acquireCtx, cancelAcquire := context.WithCancel(ctx)
	renderCtx, cancelRender := context.WithCancel(ctx)

	p.mu.Lock()
	p.cancelAcquire = cancelAcquire
	p.cancelRender = cancelRender
	p.done = make(chan struct{})
	p.err = nil
	done := p.done
	p.mu.Unlock()

	go func() {
		err := p.run(acquireCtx, renderCtx)
		cancelAcquire()
		cancelRender()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		p.state.Store(int32(PumpIdle))
		close(done)
	}()
	return nil
}

// Run starts the pump and waits for it to finish.
func (p *Pump) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	return p.Wait()
}

// Wait blocks until the pump goroutine exits. It returns nil when the
// source ended or the pump was stopped.
func (p *Pump) Wait() error {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stop stops frame acquisition and waits for the in-flight render. If ctx
// ends first, the render context is cancelled and Stop still waits for
// the pump goroutine to exit, returning the context error.
func (p *Pump) Stop(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(PumpRunning), int32(PumpStopping)) && p.State() == PumpIdle {
		return nil
	}
	p.mu.Lock()
	cancelAcquire, cancelRender, done := p.cancelAcquire, p.cancelRender, p.done
	p.mu.Unlock()

	cancelAcquire()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		vfx.Logger().Warn("pipeline: stop deadline reached, cancelling render")
		cancelRender()
		<-done
		return fmt.Errorf("pipeline: stop: %w", ctx.Err())
	}
}

func (p *Pump) stopping() bool { return p.State() == PumpStopping }

func (p *Pump) run(acquireCtx, renderCtx context.Context) error {
	log := vfx.Logger()
	log.Debug("pipeline: pump started", "backend", p.backend.Name(), "minInterval", p.minInterval)
	defer log.Debug("pipeline: pump finished")

	for !p.stopping() {
		frame, err := p.source.NextFrame(acquireCtx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if acquireCtx.Err() != nil {
				return nil
			}
			return fmt.Errorf("pipeline: source: %w", err)
		}
		if p.stopping() {
			_ = frame.Release()
			return nil
		}
		p.counters.received.Add(1)
		p.process(renderCtx, frame)
	}
	return nil
}

// process throttles, renders and emits one frame. It releases frame.
func (p *Pump) process(ctx context.Context, frame *vfx.FrameBuffer) {
	log := vfx.Logger()
	now := p.now()
	ts := frame.Timestamp()

	if p.accepted && (now.Sub(p.lastAccepted) < p.minInterval || ts < p.lastTimestamp) {
		p.counters.dropped.Add(1)
		_ = frame.Release()
		return
	}
	p.accepted = true
	p.lastAccepted = now
	p.lastTimestamp = ts

	out, err := p.backend.Render(ctx, frame)
	if err != nil {
		p.counters.renderErrors.Add(1)
		log.Warn("pipeline: render failed", "timestamp", ts, "err", err)
		_ = frame.Release()
		return
	}
	p.counters.rendered.Add(1)
	if out == nil {
		_ = frame.Release()
		return
	}

	if err := p.sink.Write(out); err != nil {
		p.counters.writeErrors.Add(1)
		log.Warn("pipeline: sink write failed", "timestamp", ts, "err", fmt.Errorf("%w: %w", vfx.ErrSinkWrite, err))
	} else {
		p.counters.emitted.Add(1)
		if p.fps.tick(now) {
			log.Debug("pipeline: rate", "fps", p.fps.value())
		}
	}
	_ = out.Release()
	_ = frame.Release()
}
