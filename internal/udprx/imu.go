package udprx

import (
	"math"
	"sync/atomic"
	"time"
)

func floatBits(f float32) uint32 { return math.Float32bits(f) }
func bitsFloat(b uint32) float32 { return math.Float32frombits(b) }

// IMUState keeps the exponentially smoothed accelerometer X axis and the
// time of the last packet. Readers live on other threads, so both values
// are atomics.
type IMUState struct {
	alpha     float64
	filteredX atomic.Uint64 // float64 bits
	lastNanos atomic.Int64
	hasValue  atomic.Bool
}

// NewIMUState creates a filter with the given EMA coefficient in (0, 1].
func NewIMUState(alpha float64) *IMUState {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.1
	}
	return &IMUState{alpha: alpha}
}

// Update feeds one packet.
func (s *IMUState) Update(p *IMUPacket, now time.Time) {
	prev := s.FilteredX()
	next := prev + s.alpha*(float64(p.Acc[0])-prev)
	s.filteredX.Store(math.Float64bits(next))
	s.lastNanos.Store(now.UnixNano())
	s.hasValue.Store(true)
}

// FilteredX returns the smoothed accelerometer X value.
func (s *IMUState) FilteredX() float64 {
	return math.Float64frombits(s.filteredX.Load())
}

// LastActivity returns the time of the most recent packet and whether any
// packet has arrived at all.
func (s *IMUState) LastActivity() (time.Time, bool) {
	if !s.hasValue.Load() {
		return time.Time{}, false
	}
	return time.Unix(0, s.lastNanos.Load()), true
}
