package imagebuf

import "sync/atomic"

// TripleBuffer delivers scan lines to the audio thread without locks.
// Three slots: the writer fills a slot distinct from the published read
// index and commits it with a release store; readers acquire the index and
// see either the newest complete line or the previous one, never a torn
// write. Readers never block, even when the producer stalls.
type TripleBuffer struct {
	slots     [3]Planes
	readIndex atomic.Int32
	// writeIndex is owned by the single writer.
	writeIndex int
}

// NewTripleBuffer creates a triple buffer for lines of the given width.
func NewTripleBuffer(width int) *TripleBuffer {
	t := &TripleBuffer{writeIndex: 1}
	for i := range t.slots {
		t.slots[i] = newPlanes(width)
	}
	return t
}

// WriteSlot returns the planes of a slot that no reader can currently
// observe. The writer fills it, then calls Commit.
func (t *TripleBuffer) WriteSlot() *Planes {
	read := int(t.readIndex.Load())
	if t.writeIndex == read {
		t.writeIndex = (t.writeIndex + 1) % 3
	}
	return &t.slots[t.writeIndex]
}

// Commit publishes the slot previously returned by WriteSlot and advances
// the writer to the next free slot.
func (t *TripleBuffer) Commit() {
	t.readIndex.Store(int32(t.writeIndex))
	next := (t.writeIndex + 1) % 3
	if next == int(t.readIndex.Load()) {
		next = (next + 1) % 3
	}
	t.writeIndex = next
}

// Acquire returns the most recently committed planes. Never blocks.
func (t *TripleBuffer) Acquire() *Planes {
	return &t.slots[t.readIndex.Load()]
}
