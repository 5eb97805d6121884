package luxstral

import (
	"math"
	"testing"

	"github.com/sp3ctra/sp3ctra/internal/config"
	"github.com/sp3ctra/sp3ctra/internal/imagebuf"
	"github.com/sp3ctra/sp3ctra/internal/rtlog"
	"github.com/sp3ctra/sp3ctra/internal/wavegen"
)

func newTestEngine(t *testing.T) (*Engine, *config.Config, *imagebuf.TripleBuffer) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.SensorDPI = 200
	cfg.AudioBufferSize = 64
	if err := cfg.Derive(); err != nil {
		t.Fatalf("Derive: %v", err)
	}
	table, err := wavegen.Build(&cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	triple := imagebuf.NewTripleBuffer(cfg.Pixels)
	pan := imagebuf.NewPanGainBuffer(cfg.NumNotes)
	e := New(&cfg, table, triple, pan, rtlog.NewRing(64))
	t.Cleanup(e.Stop)
	return e, &cfg, triple
}

func commitSolid(tb *imagebuf.TripleBuffer, v byte) {
	slot := tb.WriteSlot()
	for i := range slot.R {
		slot.R[i] = v
		slot.G[i] = v
		slot.B[i] = v
	}
	tb.Commit()
}

// render produces one buffer and immediately consumes it, returning the
// rendered slot contents.
func render(t *testing.T, e *Engine) ([]float32, []float32) {
	t.Helper()
	e.RenderBuffer()
	out := e.Output()
	for i := 0; i < 2; i++ {
		s := out.Slot(i)
		if s.Ready() {
			l := append([]float32(nil), s.L...)
			r := append([]float32(nil), s.R...)
			out.Release(i)
			return l, r
		}
	}
	t.Fatal("no ready slot after render")
	return nil, nil
}

func peak(xs []float32) float64 {
	var p float64
	for _, x := range xs {
		if v := math.Abs(float64(x)); v > p {
			p = v
		}
	}
	return p
}

func TestZeroImageStaysSilent(t *testing.T) {
	e, _, tb := newTestEngine(t)
	commitSolid(tb, 0)
	var maxPeak float64
	for i := 0; i < 20; i++ {
		l, r := render(t, e)
		if p := peak(l); p > maxPeak {
			maxPeak = p
		}
		if p := peak(r); p > maxPeak {
			maxPeak = p
		}
	}
	if maxPeak > 1e-6 {
		t.Errorf("peak = %g, want silence", maxPeak)
	}
}

func TestOutputStaysInRange(t *testing.T) {
	e, _, tb := newTestEngine(t)
	commitSolid(tb, 255)
	for i := 0; i < 30; i++ {
		l, r := render(t, e)
		if p := peak(l); p > 1 {
			t.Fatalf("left peak %g exceeds 1", p)
		}
		if p := peak(r); p > 1 {
			t.Fatalf("right peak %g exceeds 1", p)
		}
	}
}

func TestSlewNeverOvershoots(t *testing.T) {
	e, _, tb := newTestEngine(t)
	commitSolid(tb, 255)

	prev := make([]float32, len(e.notes))
	for i := 0; i < 10; i++ {
		for n := range e.notes {
			prev[n] = e.notes[n].currentVolume
		}
		e.RenderBuffer()
		for j := 0; j < 2; j++ {
			if e.out.Slot(j).Ready() {
				e.out.Release(j)
			}
		}
		for n := range e.notes {
			v0 := float64(prev[n])
			v1 := float64(e.notes[n].currentVolume)
			target := float64(e.notes[n].targetVolume)
			if math.Abs(v1-v0) > math.Abs(target-v0)+1e-9 {
				t.Fatalf("note %d overshoot: %g -> %g, target %g", n, v0, v1, target)
			}
		}
	}
}

func TestPhaseAdvanceIsMonotoneModuloArea(t *testing.T) {
	e, _, tb := newTestEngine(t)
	commitSolid(tb, 128)

	idx0 := e.notes[0].currentIdx
	e.RenderBuffer()
	e.out.Release(0)
	area := e.table.Notes[0].AreaSize
	coeff := e.table.Notes[0].OctaveCoeff
	b := e.cfg.AudioBufferSize
	want := (idx0 + coeff*b) % area
	if got := e.notes[0].currentIdx; got != want {
		t.Errorf("idx = %d, want %d", got, want)
	}
	if got := e.notes[0].currentIdx; got < 0 || got >= area {
		t.Errorf("idx %d outside [0,%d)", got, area)
	}
}

func TestStrideLargerThanPeriodWraps(t *testing.T) {
	e, cfg, tb := newTestEngine(t)
	commitSolid(tb, 128)

	// A sensor line can derive more octaves than the frequency range
	// covers, so a top-note stride may span multiple periods.
	area := e.table.Notes[0].AreaSize
	e.table.Notes[0].OctaveCoeff = 2*area + 3

	idx0 := e.notes[0].currentIdx
	e.RenderBuffer()
	e.out.Release(0)
	want := (idx0 + (2*area+3)*cfg.AudioBufferSize) % area
	if got := e.notes[0].currentIdx; got != want {
		t.Errorf("idx = %d, want %d", got, want)
	}
	if got := e.notes[0].currentIdx; got < 0 || got >= area {
		t.Errorf("idx %d outside [0,%d)", got, area)
	}
}

func TestContrastScalesOutput(t *testing.T) {
	e, _, tb := newTestEngine(t)
	commitSolid(tb, 200)

	// Settle envelopes at full contrast.
	e.SetContrast(1.0)
	var refPeak float64
	for i := 0; i < 40; i++ {
		l, _ := render(t, e)
		refPeak = peak(l)
	}
	if refPeak == 0 {
		t.Fatal("no reference signal")
	}

	e.SetContrast(0.01)
	l, _ := render(t, e)
	if got := peak(l); got > refPeak*0.011+1e-6 {
		t.Errorf("low-contrast peak %g, want <= %g", got, refPeak*0.011)
	}
}

func TestFreezeHoldsImage(t *testing.T) {
	e, _, tb := newTestEngine(t)
	commitSolid(tb, 255)
	for i := 0; i < 20; i++ {
		render(t, e)
	}

	e.SetFreeze(true)
	if !e.Frozen() {
		t.Fatal("engine not frozen")
	}
	// Even after the live line goes dark, the frozen grayscale drives
	// the targets.
	commitSolid(tb, 0)
	for i := 0; i < 5; i++ {
		render(t, e)
	}
	if got := e.notes[10].targetVolume; got < 0.9 {
		t.Errorf("frozen target = %g, want near 1", got)
	}

	// Unfreeze starts the crossfade toward the live (dark) line.
	e.SetFreeze(false)
	if e.Frozen() {
		t.Fatal("engine still frozen")
	}
	if !e.fading.Load() {
		t.Fatal("crossfade not active")
	}
	first := e.notes[10].targetVolume
	for i := 0; i < 10; i++ {
		render(t, e)
	}
	if got := e.notes[10].targetVolume; got >= first {
		t.Errorf("target did not decay during crossfade: %g -> %g", first, got)
	}
}

func TestInvertIntensity(t *testing.T) {
	e, cfg, tb := newTestEngine(t)
	cfg.InvertIntensity = true
	commitSolid(tb, 255)
	e.RenderBuffer()
	e.out.Release(0)
	if got := e.notes[0].targetVolume; got != 0 {
		t.Errorf("inverted white target = %g, want 0", got)
	}
}
