package imagebuf

import (
	"sync/atomic"
	"time"
)

// OutputBuffer is the two-slot hand-off between a synthesis engine and the
// mixer callback. The producer waits (bounded) for a free slot, fills it
// and publishes with a release store on the slot's ready flag; the callback
// acquires ready, drains the slot and releases it. The callback side never
// blocks.
type OutputBuffer struct {
	slots [2]OutputSlot
	// write is owned by the single producer.
	write int
}

// OutputSlot is one stereo buffer plus its ready flag.
type OutputSlot struct {
	L, R  []float32
	ready atomic.Int32
}

// Ready reports whether the slot holds unconsumed audio.
func (s *OutputSlot) Ready() bool { return s.ready.Load() == 1 }

// NewOutputBuffer creates a buffer with two slots of frames samples each.
func NewOutputBuffer(frames int) *OutputBuffer {
	b := &OutputBuffer{}
	for i := range b.slots {
		b.slots[i].L = make([]float32, frames)
		b.slots[i].R = make([]float32, frames)
	}
	return b
}

// WaitWritable blocks the producer until the current write slot has been
// consumed, sleeping 100µs between checks. Returns false if maxSpins checks
// elapse first; the caller then reuses the slot as-is and continues.
func (b *OutputBuffer) WaitWritable(maxSpins int) (*OutputSlot, bool) {
	slot := &b.slots[b.write]
	for i := 0; i < maxSpins; i++ {
		if slot.ready.Load() == 0 {
			return slot, true
		}
		time.Sleep(100 * time.Microsecond)
	}
	return slot, false
}

// Publish marks the current write slot ready and advances the producer.
func (b *OutputBuffer) Publish() {
	b.slots[b.write].ready.Store(1)
	b.write = 1 - b.write
}

// Slot returns slot i for the consumer side.
func (b *OutputBuffer) Slot(i int) *OutputSlot { return &b.slots[i] }

// Release marks slot i consumed.
func (b *OutputBuffer) Release(i int) {
	b.slots[i].ready.Store(0)
}
