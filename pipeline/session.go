package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/vfx"
	"github.com/gogpu/vfx/backend"
)

// Stats is a snapshot of a session.
type Stats struct {
	Counters

	// Renderer is the name of the active backend.
	Renderer string
	Degraded bool
	Raw      bool
	Running  bool

	// FPS is the emitted frame rate of the last complete second.
	FPS float64
}

// Session owns a backend, a pump and the sink for one stream.
type Session struct {
	cfg       vfx.Config
	selection *Selection
	pump      *Pump
	sink      vfx.OutputSink

	shutdownOnce sync.Once
	shutdownErr  error
}

// Start selects a backend for cfg and starts pumping frames from source to
// sink. Configuration errors, and failures of both the requested and the
// fallback renderer, are returned before anything runs; the sink is not
// closed in that case.
func Start(ctx context.Context, cfg vfx.Config, source vfx.FrameSource, sink vfx.OutputSink, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	sel, err := selectBackend(ctx, cfg, o)
	if err != nil {
		return nil, err
	}
	s := &Session{
		cfg:       cfg,
		selection: sel,
		sink:      sink,
		pump:      NewPump(source, sink, sel.Backend, cfg.MinInterval(), o.now),
	}
	if err := s.pump.Start(ctx); err != nil {
		_ = sel.Backend.Close()
		return nil, err
	}
	vfx.Logger().Info("pipeline: session started",
		"renderer", sel.Backend.Name(), "degraded", sel.Degraded, "targetFPS", cfg.TargetFPS,
		"width", source.DisplayWidth(), "height", source.DisplayHeight())
	return s, nil
}

// Stop stops the pump, waiting for the in-flight render until ctx ends,
// then closes the backend and the sink. It is safe to call more than once
// and from any goroutine.
func (s *Session) Stop(ctx context.Context) error {
	stopErr := s.pump.Stop(ctx)
	return errors.Join(stopErr, s.shutdown())
}

// Wait blocks until the source ends or the session is stopped, then
// releases the session resources. It returns the pump error, if any.
func (s *Session) Wait() error {
	err := s.pump.Wait()
	return errors.Join(err, s.shutdown())
}

func (s *Session) shutdown() error {
	s.shutdownOnce.Do(func() {
		var errs []error
		if err := s.selection.Backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close backend: %w", err))
		}
		if err := s.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink: %w: %w", vfx.ErrSinkWrite, err))
		}
		s.shutdownErr = errors.Join(errs...)
		c := s.pump.Counters()
		vfx.Logger().Info("pipeline: session stopped",
			"received", c.Received, "dropped", c.Dropped, "rendered", c.Rendered,
			"renderErrors", c.RenderErrors, "writeErrors", c.WriteErrors, "emitted", c.Emitted)
	})
	return s.shutdownErr
}

// Degraded reports whether the fallback renderer is active. It never
// changes after Start.
func (s *Session) Degraded() bool { return s.selection.Degraded }

// Backend returns the active backend.
func (s *Session) Backend() backend.Backend { return s.selection.Backend }

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		Counters: s.pump.Counters(),
		Renderer: s.selection.Backend.Name(),
		Degraded: s.selection.Degraded,
		Raw:      s.selection.Raw,
		Running:  s.pump.State() != PumpIdle,
		FPS:      s.pump.FPS(),
	}
}
