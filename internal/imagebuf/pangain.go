package imagebuf

import "sync/atomic"

// PanGainBuffer publishes per-note stereo gains from the preprocessor to
// the additive workers without locking. Two sides; the writer fills the
// inactive side and then release-stores three pointers (left, right, pan).
// Readers acquire all three in sequence. A one-publication skew between the
// arrays is tolerated: gains are only accumulated additively and are
// republished on every scan line.
type PanGainBuffer struct {
	sides [2]struct {
		left, right, pan []float32
	}
	left  atomic.Pointer[[]float32]
	right atomic.Pointer[[]float32]
	pan   atomic.Pointer[[]float32]
	// inactive is owned by the single writer.
	inactive int
}

// NewPanGainBuffer creates a buffer for the given note count, publishing
// center-pan gains initially.
func NewPanGainBuffer(numNotes int) *PanGainBuffer {
	b := &PanGainBuffer{}
	const center = 0.70710678
	for i := range b.sides {
		b.sides[i].left = make([]float32, numNotes)
		b.sides[i].right = make([]float32, numNotes)
		b.sides[i].pan = make([]float32, numNotes)
		for n := 0; n < numNotes; n++ {
			b.sides[i].left[n] = center
			b.sides[i].right[n] = center
		}
	}
	b.left.Store(&b.sides[0].left)
	b.right.Store(&b.sides[0].right)
	b.pan.Store(&b.sides[0].pan)
	b.inactive = 1
	return b
}

// Publish copies the gain arrays into the inactive side and swaps it in.
func (b *PanGainBuffer) Publish(left, right, pan []float32) {
	side := &b.sides[b.inactive]
	copy(side.left, left)
	copy(side.right, right)
	copy(side.pan, pan)
	b.left.Store(&side.left)
	b.right.Store(&side.right)
	b.pan.Store(&side.pan)
	b.inactive = 1 - b.inactive
}

// Read returns the three published arrays.
func (b *PanGainBuffer) Read() (left, right, pan []float32) {
	return *b.left.Load(), *b.right.Load(), *b.pan.Load()
}
