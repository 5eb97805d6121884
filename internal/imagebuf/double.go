// Package imagebuf holds the hand-off primitives between the UDP producer,
// the preprocessor and the audio domain: a mutex-guarded RGB double buffer
// for non-realtime consumers, a lock-free triple buffer for the audio
// thread, a lock-free pan-gain double buffer, and the per-engine output
// double buffer consumed by the mixer callback.
package imagebuf

import (
	"sync"

	"github.com/sp3ctra/sp3ctra/internal/preprocess"
)

// Planes is one RGB scan line.
type Planes struct {
	R, G, B []byte
}

func newPlanes(width int) Planes {
	return Planes{R: make([]byte, width), G: make([]byte, width), B: make([]byte, width)}
}

// NewPlanes allocates a standalone line, typically as snapshot scratch.
func NewPlanes(width int) *Planes {
	p := newPlanes(width)
	return &p
}

func (p *Planes) copyFrom(src *Planes) {
	copy(p.R, src.R)
	copy(p.G, src.G)
	copy(p.B, src.B)
}

// DoubleBuffer is the producer/consumer image buffer for non-realtime
// consumers (display, debug). It keeps a last-valid copy so readers always
// have a complete line even before the first swap, and carries the
// preprocessed snapshot published together with the image.
type DoubleBuffer struct {
	mu        sync.Mutex
	cond      *sync.Cond
	active    Planes
	process   Planes
	lastValid Planes
	data      *preprocess.Data
	dataReady bool
	seq       uint64
	closed    bool
}

// NewDoubleBuffer creates a buffer for lines of the given width.
func NewDoubleBuffer(width int) *DoubleBuffer {
	b := &DoubleBuffer{
		active:    newPlanes(width),
		process:   newPlanes(width),
		lastValid: newPlanes(width),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Active returns the producer-side planes. Only the UDP thread writes them.
func (b *DoubleBuffer) Active() *Planes { return &b.active }

// Publish swaps active and processing sides, refreshes the last-valid copy,
// attaches the preprocessed snapshot and wakes waiting consumers.
func (b *DoubleBuffer) Publish(data *preprocess.Data) {
	b.mu.Lock()
	b.active, b.process = b.process, b.active
	b.lastValid.copyFrom(&b.process)
	b.data = data
	b.dataReady = true
	b.seq++
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Snapshot copies the last valid image into dst and returns the attached
// preprocessed data along with the publication sequence number.
func (b *DoubleBuffer) Snapshot(dst *Planes) (*preprocess.Data, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	dst.copyFrom(&b.lastValid)
	return b.data, b.seq
}

// Data returns the most recently published preprocessed snapshot and its
// sequence number without copying the image. The pointer stays valid while
// the producer fills its other snapshot slot.
func (b *DoubleBuffer) Data() (*preprocess.Data, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data, b.seq
}

// WaitData blocks until a publication newer than seq, returning the new
// sequence number. Wake-ups caused by Close return the current value.
func (b *DoubleBuffer) WaitData(seq uint64) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.seq == seq && !b.closed {
		b.cond.Wait()
	}
	return b.seq
}

// Close wakes all waiters; used at shutdown.
func (b *DoubleBuffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
}
