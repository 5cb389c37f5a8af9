package pipeline

import (
	"math"
	"sync/atomic"
	"time"
)

// fpsMeter publishes the number of frames emitted per second, measured over
// one-second windows of the pump clock.
type fpsMeter struct {
	windowStart time.Time
	frames      int
	rate        atomic.Uint64 // math.Float64bits
}

// tick records one frame at now and reports whether a new rate was
// published.
func (m *fpsMeter) tick(now time.Time) bool {
	if m.windowStart.IsZero() {
		m.windowStart = now
	}
	m.frames++
	elapsed := now.Sub(m.windowStart)
	if elapsed < time.Second {
		return false
	}
	m.rate.Store(math.Float64bits(float64(m.frames) / elapsed.Seconds()))
	m.windowStart = now
	m.frames = 0
	return true
}

func (m *fpsMeter) value() float64 {
	return math.Float64frombits(m.rate.Load())
}
