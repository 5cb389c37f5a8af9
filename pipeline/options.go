package pipeline

import (
	"time"

	"github.com/gogpu/vfx"
	"github.com/gogpu/vfx/device"
)

// Option configures Select and Start.
type Option func(*options)

type options struct {
	opener         device.Opener
	fallback       vfx.RendererKind
	fallbackOpener device.Opener
	noFallback     bool
	now            func() time.Time
}

func newOptions(opts []Option) options {
	o := options{
		fallback: vfx.RendererPassthrough,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fallbackOpener == nil {
		o.fallbackOpener = o.opener
	}
	return o
}

// WithOpener sets the device opener of the primary backend.
// The default is device.Default.
func WithOpener(open device.Opener) Option {
	return func(o *options) { o.opener = open }
}

// WithFallback sets the renderer used when the primary cannot start.
// A nil opener reuses the primary opener.
func WithFallback(kind vfx.RendererKind, open device.Opener) Option {
	return func(o *options) {
		o.fallback = kind
		o.fallbackOpener = open
	}
}

// WithoutFallback makes a primary failure fatal.
func WithoutFallback() Option {
	return func(o *options) { o.noFallback = true }
}

// WithClock replaces time.Now for throttling and rate measurement.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}
