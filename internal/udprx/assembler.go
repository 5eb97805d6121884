package udprx

import "github.com/sp3ctra/sp3ctra/internal/imagebuf"

// Assembler rebuilds one scan line from out-of-order fragments. Fragments
// are written straight into the destination planes; duplicates are
// idempotent and a new line id abandons any incomplete line.
type Assembler struct {
	width    int
	lineID   uint32
	received []bool
	count    int
	total    int
	started  bool
}

// NewAssembler creates an assembler for lines of the given width.
func NewAssembler(width int) *Assembler {
	return &Assembler{width: width}
}

// Add applies one fragment to every destination plane set. complete reports
// a fully assembled line; abandoned reports that a previous incomplete line
// was discarded by this fragment's new line id.
func (a *Assembler) Add(p *ImagePacket, dsts ...*imagebuf.Planes) (complete, abandoned bool) {
	if a.started && p.LineID != a.lineID {
		abandoned = a.count > 0 && a.count < a.total
		a.reset()
	}
	if !a.started {
		a.lineID = p.LineID
		a.total = int(p.TotalFragments)
		if cap(a.received) < a.total {
			a.received = make([]bool, a.total)
		} else {
			a.received = a.received[:a.total]
			clear(a.received)
		}
		a.count = 0
		a.started = true
	}
	if p.LineID != a.lineID || int(p.FragmentID) >= a.total {
		return false, abandoned
	}
	if a.received[p.FragmentID] {
		return false, abandoned
	}

	off := int(p.FragmentID) * int(p.FragmentSize)
	for _, dst := range dsts {
		copySpan(dst.R, off, p.R)
		copySpan(dst.G, off, p.G)
		copySpan(dst.B, off, p.B)
	}
	a.received[p.FragmentID] = true
	a.count++

	if a.count == a.total {
		a.reset()
		return true, abandoned
	}
	return false, abandoned
}

func (a *Assembler) reset() {
	a.started = false
	a.count = 0
}

func copySpan(dst []byte, off int, src []byte) {
	if off >= len(dst) {
		return
	}
	copy(dst[off:], src)
}
