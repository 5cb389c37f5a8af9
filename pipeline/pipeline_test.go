package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/vfx"
	"github.com/gogpu/vfx/backend"
	"github.com/gogpu/vfx/device"
	"github.com/gogpu/vfx/device/software"
	"github.com/gogpu/vfx/gpucore"
)

const frame60 = time.Second / 60

// fakeClock is advanced by the scripted source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// scriptedSource delivers n frames spaced by interval, moving the clock to
// each frame's timestamp, then io.EOF.
type scriptedSource struct {
	clock      *fakeClock
	base       time.Time
	n          int
	interval   time.Duration
	timestamps []time.Duration
	next       int
	w, h       int
}

func newScriptedSource(clock *fakeClock, n int, interval time.Duration) *scriptedSource {
	return &scriptedSource{clock: clock, base: clock.Now(), n: n, interval: interval, w: 8, h: 8}
}

func (s *scriptedSource) NextFrame(ctx context.Context) (*vfx.FrameBuffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= s.n {
		return nil, io.EOF
	}
	ts := time.Duration(s.next) * s.interval
	if s.timestamps != nil {
		ts = s.timestamps[s.next]
	}
	s.next++
	s.clock.Set(s.base.Add(ts))
	return vfx.NewFrame(testImage(s.w, s.h, uint8(s.next)), ts, s.interval), nil
}

func (s *scriptedSource) DisplayWidth() int  { return s.w }
func (s *scriptedSource) DisplayHeight() int { return s.h }

func testImage(w, h int, seed uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), B: seed, A: 255})
		}
	}
	return img
}

// recordingSink keeps copies of written frames and counts Close calls.
type recordingSink struct {
	mu       sync.Mutex
	frames   []*vfx.FrameBuffer
	closes   atomic.Int32
	writeErr error
}

func (s *recordingSink) Write(f *vfx.FrameBuffer) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f.Clone())
	return nil
}

func (s *recordingSink) Close() error {
	s.closes.Add(1)
	return nil
}

func (s *recordingSink) written() []*vfx.FrameBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*vfx.FrameBuffer(nil), s.frames...)
}

func softwareOpener() device.Opener {
	return func(ctx context.Context) (gpucore.Device, error) { return software.Open(ctx) }
}

func unavailableOpener(context.Context) (gpucore.Device, error) {
	return nil, fmt.Errorf("no adapter: %w", vfx.ErrDeviceUnavailable)
}

// brokenPipelines is a software device whose pipelines never compile.
type brokenPipelines struct{ *software.Device }

func (d brokenPipelines) CreateComputePipeline(*gpucore.ComputeKernel) (gpucore.ComputePipelineID, error) {
	return gpucore.InvalidID, fmt.Errorf("shader rejected: %w", vfx.ErrResourceCreation)
}

func brokenOpener(ctx context.Context) (gpucore.Device, error) {
	d, err := software.Open(ctx)
	if err != nil {
		return nil, err
	}
	return brokenPipelines{d}, nil
}

func TestThrottle60To20(t *testing.T) {
	clock := newFakeClock()
	src := newScriptedSource(clock, 60, frame60)
	sink := &recordingSink{}

	cfg := vfx.DefaultConfig()
	cfg.TargetFPS = 20
	s, err := Start(context.Background(), cfg, src, sink, WithOpener(softwareOpener()), WithClock(clock.Now))
	require.NoError(t, err)
	require.NoError(t, s.Wait())

	frames := sink.written()
	require.Len(t, frames, 15)
	for i := 1; i < len(frames); i++ {
		gap := frames[i].Timestamp() - frames[i-1].Timestamp()
		assert.GreaterOrEqual(t, gap, 50*time.Millisecond, "frames %d and %d", i-1, i)
	}

	st := s.Stats()
	assert.Equal(t, uint64(60), st.Received)
	assert.Equal(t, uint64(45), st.Dropped)
	assert.Equal(t, uint64(15), st.Rendered)
	assert.Equal(t, uint64(15), st.Emitted)
	assert.Equal(t, "compute", st.Renderer)
	assert.False(t, st.Degraded)
	assert.False(t, st.Running)
	assert.Equal(t, int32(1), sink.closes.Load())
}

func TestBackwardsTimestampDropped(t *testing.T) {
	clock := newFakeClock()
	src := newScriptedSource(clock, 4, 100*time.Millisecond)
	src.timestamps = []time.Duration{0, 200 * time.Millisecond, 100 * time.Millisecond, 400 * time.Millisecond}
	sink := &recordingSink{}

	cfg := vfx.DefaultConfig()
	cfg.Renderer = vfx.RendererPassthrough
	p := NewPump(src, sink, mustBackend(t, cfg, nil), cfg.MinInterval(), clock.Now)
	require.NoError(t, p.Run(context.Background()))

	var got []time.Duration
	for _, f := range sink.written() {
		got = append(got, f.Timestamp())
	}
	assert.Equal(t, []time.Duration{0, 200 * time.Millisecond, 400 * time.Millisecond}, got)
	assert.Equal(t, uint64(1), p.Counters().Dropped)
}

func TestDegradationRoutesRawFrames(t *testing.T) {
	clock := newFakeClock()
	src := newScriptedSource(clock, 5, 100*time.Millisecond)
	sink := &recordingSink{}

	cfg := vfx.DefaultConfig()
	cfg.Blur = true
	s, err := Start(context.Background(), cfg, src, sink, WithOpener(unavailableOpener), WithClock(clock.Now))
	require.NoError(t, err)
	assert.True(t, s.Degraded())

	require.NoError(t, s.Wait())
	st := s.Stats()
	assert.True(t, st.Degraded, "degraded must stay set")
	assert.True(t, st.Raw)
	assert.Equal(t, "passthrough", st.Renderer)
	assert.Equal(t, uint64(5), st.Emitted)

	for i, f := range sink.written() {
		assert.Equal(t, testImage(8, 8, uint8(i+1)).Pix, f.Image().Pix, "frame %d should be unprocessed", i)
	}
	require.NoError(t, s.Stop(context.Background()))
	assert.True(t, s.Degraded())
}

func TestDegradationToBlurCapableFallback(t *testing.T) {
	cfg := vfx.DefaultConfig()
	cfg.Blur = true
	sel, err := Select(context.Background(), cfg,
		WithOpener(unavailableOpener), WithFallback(vfx.RendererGraphics, softwareOpener()))
	require.NoError(t, err)
	defer sel.Backend.Close()

	assert.True(t, sel.Degraded)
	assert.False(t, sel.Raw)
	assert.Equal(t, "graphics", sel.Backend.Name())
	assert.ErrorIs(t, sel.Cause, vfx.ErrDeviceUnavailable)
}

func TestBothRenderersFail(t *testing.T) {
	sink := &recordingSink{}
	src := newScriptedSource(newFakeClock(), 1, frame60)

	s, err := Start(context.Background(), vfx.DefaultConfig(), src, sink,
		WithOpener(brokenOpener), WithFallback(vfx.RendererCompute, brokenOpener))
	require.Error(t, err)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, vfx.ErrResourceCreation)
	assert.Equal(t, int32(0), sink.closes.Load())
}

func TestWithoutFallback(t *testing.T) {
	_, err := Select(context.Background(), vfx.DefaultConfig(), WithOpener(unavailableOpener), WithoutFallback())
	assert.ErrorIs(t, err, vfx.ErrDeviceUnavailable)
}

func TestConfigErrorIsNotRecovered(t *testing.T) {
	cfg := vfx.DefaultConfig()
	cfg.Blur = true
	cfg.Workgroup = vfx.Workgroup{X: 2, Y: 4}
	_, err := Start(context.Background(), cfg, newScriptedSource(newFakeClock(), 1, frame60), &recordingSink{},
		WithOpener(softwareOpener()))
	var cerr *vfx.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "Workgroup.X", cerr.Field)
}

func TestStopClosesSinkOnce(t *testing.T) {
	src := NewChannelSource(8, 8, 1)
	sink := &recordingSink{}
	s, err := Start(context.Background(), vfx.DefaultConfig(), src, sink, WithOpener(softwareOpener()))
	require.NoError(t, err)

	require.NoError(t, src.Push(context.Background(), vfx.NewFrame(testImage(8, 8, 1), 0, frame60)))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Stop(context.Background()))
		}()
	}
	wg.Wait()
	require.NoError(t, s.Wait())

	assert.Equal(t, int32(1), sink.closes.Load())
	assert.Equal(t, backend.StateClosed, s.Backend().State())
	assert.False(t, s.Stats().Running)
}

func TestSinkWriteErrorsCounted(t *testing.T) {
	clock := newFakeClock()
	src := newScriptedSource(clock, 3, 100*time.Millisecond)
	sink := &recordingSink{writeErr: errors.New("disk full")}

	s, err := Start(context.Background(), vfx.DefaultConfig(), src, sink, WithOpener(softwareOpener()), WithClock(clock.Now))
	require.NoError(t, err)
	require.NoError(t, s.Wait())

	st := s.Stats()
	assert.Equal(t, uint64(3), st.Rendered)
	assert.Equal(t, uint64(3), st.WriteErrors)
	assert.Equal(t, uint64(0), st.Emitted)
}

// blockingBackend renders until its context is cancelled.
type blockingBackend struct {
	started chan struct{}
	renders atomic.Int32
}

func (b *blockingBackend) Name() string                         { return "blocking" }
func (b *blockingBackend) Capabilities() backend.Capabilities   { return backend.Capabilities{} }
func (b *blockingBackend) State() backend.State                 { return backend.StateReady }
func (b *blockingBackend) Initialize(ctx context.Context) error { return nil }
func (b *blockingBackend) Close() error                         { return nil }

func (b *blockingBackend) Render(ctx context.Context, f *vfx.FrameBuffer) (*vfx.FrameBuffer, error) {
	if b.renders.Add(1) == 1 {
		close(b.started)
	}
	<-ctx.Done()
	return nil, fmt.Errorf("%w: %w", vfx.ErrRender, ctx.Err())
}

func TestStopDeadlineCancelsRender(t *testing.T) {
	src := NewChannelSource(8, 8, 1)
	b := &blockingBackend{started: make(chan struct{})}
	p := NewPump(src, &recordingSink{}, b, 0, nil)
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, src.Push(context.Background(), vfx.NewFrame(testImage(8, 8, 1), 0, frame60)))
	<-b.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, PumpIdle, p.State())
	assert.Equal(t, uint64(1), p.Counters().RenderErrors)
}

func TestPumpStartTwice(t *testing.T) {
	src := NewChannelSource(8, 8, 0)
	p := NewPump(src, &recordingSink{}, mustBackend(t, passthroughConfig(), nil), 0, nil)
	require.NoError(t, p.Start(context.Background()))
	assert.Error(t, p.Start(context.Background()))
	src.Close()
	assert.NoError(t, p.Wait())
	assert.NoError(t, p.Stop(context.Background()))
}

func TestChannelSource(t *testing.T) {
	src := NewChannelSource(4, 2, 2)
	assert.Equal(t, 4, src.DisplayWidth())
	assert.Equal(t, 2, src.DisplayHeight())

	ctx := context.Background()
	require.NoError(t, src.Push(ctx, vfx.NewFrame(testImage(4, 2, 1), 0, 0)))
	require.NoError(t, src.Push(ctx, vfx.NewFrame(testImage(4, 2, 2), time.Millisecond, 0)))
	src.Close()

	late := vfx.NewFrame(testImage(4, 2, 3), 0, 0)
	assert.ErrorIs(t, src.Push(ctx, late), vfx.ErrClosed)
	assert.True(t, late.Released(), "rejected frames are released")

	for want := time.Duration(0); want <= time.Millisecond; want += time.Millisecond {
		f, err := src.NextFrame(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, f.Timestamp())
	}
	_, err := src.NextFrame(ctx)
	assert.ErrorIs(t, err, io.EOF)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = NewChannelSource(1, 1, 0).NextFrame(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFuncSink(t *testing.T) {
	var got time.Duration
	sink := FuncSink(func(f *vfx.FrameBuffer) error {
		got = f.Timestamp()
		return nil
	})
	require.NoError(t, sink.Write(vfx.NewFrame(testImage(1, 1, 0), 7*time.Millisecond, 0)))
	assert.Equal(t, 7*time.Millisecond, got)
	assert.NoError(t, sink.Close())
}

func TestFPSMeter(t *testing.T) {
	var m fpsMeter
	start := time.Unix(0, 0)
	for i := 0; i < 20; i++ {
		assert.False(t, m.tick(start.Add(time.Duration(i)*50*time.Millisecond)))
	}
	assert.True(t, m.tick(start.Add(time.Second)))
	assert.InDelta(t, 21.0, m.value(), 0.01)
}

func passthroughConfig() vfx.Config {
	cfg := vfx.DefaultConfig()
	cfg.Renderer = vfx.RendererPassthrough
	return cfg
}

func mustBackend(t *testing.T, cfg vfx.Config, open device.Opener) backend.Backend {
	t.Helper()
	b, err := backend.NewFromConfig(cfg, open)
	require.NoError(t, err)
	require.NoError(t, b.Initialize(context.Background()))
	t.Cleanup(func() { _ = b.Close() })
	return b
}
