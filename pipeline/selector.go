package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/vfx"
	"github.com/gogpu/vfx/backend"
)

// Selection is the backend chosen for a session.
type Selection struct {
	Backend backend.Backend

	// Degraded is set when the fallback replaced the requested renderer.
	Degraded bool

	// Raw is set when the fallback cannot apply the requested blur and
	// frames reach the sink unprocessed.
	Raw bool

	// Cause is the primary failure that triggered the fallback.
	Cause error
}

// Select builds and initializes the renderer requested by cfg. If it fails
// with vfx.ErrDeviceUnavailable or vfx.ErrResourceCreation, the fallback
// renderer is tried exactly once. Configuration errors are returned
// immediately. If both fail, the error joins both causes.
func Select(ctx context.Context, cfg vfx.Config, opts ...Option) (*Selection, error) {
	o := newOptions(opts)
	return selectBackend(ctx, cfg, o)
}

func selectBackend(ctx context.Context, cfg vfx.Config, o options) (*Selection, error) {
	log := vfx.Logger()

	primary, err := backend.New(cfg.Renderer, cfg, o.opener)
	if err != nil {
		return nil, err
	}
	perr := primary.Initialize(ctx)
	if perr == nil {
		log.Info("pipeline: renderer selected", "renderer", primary.Name())
		return &Selection{Backend: primary}, nil
	}
	_ = primary.Close()

	recoverable := errors.Is(perr, vfx.ErrDeviceUnavailable) || errors.Is(perr, vfx.ErrResourceCreation)
	if !recoverable || o.noFallback {
		return nil, fmt.Errorf("pipeline: %s renderer: %w", cfg.Renderer, perr)
	}

	log.Warn("pipeline: renderer unavailable, falling back",
		"renderer", cfg.Renderer.String(), "fallback", o.fallback.String(), "err", perr)

	fallback, raw, ferr := buildFallback(cfg, o)
	if ferr == nil {
		if ferr = fallback.Initialize(ctx); ferr != nil {
			_ = fallback.Close()
		}
	}
	if ferr != nil {
		return nil, fmt.Errorf("pipeline: no renderer could start: %w", errors.Join(perr, ferr))
	}

	log.Warn("pipeline: degraded", "renderer", fallback.Name(), "raw", raw)
	return &Selection{Backend: fallback, Degraded: true, Raw: raw, Cause: perr}, nil
}

// buildFallback constructs the fallback without blur first to learn its
// capabilities; it is rebuilt with blur when it can apply it.
func buildFallback(cfg vfx.Config, o options) (backend.Backend, bool, error) {
	plain := cfg
	plain.Blur = false
	b, err := backend.New(o.fallback, plain, o.fallbackOpener)
	if err != nil {
		return nil, false, err
	}
	if !cfg.Blur {
		return b, false, nil
	}
	if !b.Capabilities().Blur {
		return b, true, nil
	}
	_ = b.Close()
	b, err = backend.New(o.fallback, cfg, o.fallbackOpener)
	return b, false, err
}
