package luxwave

import (
	"math"
	"testing"

	"github.com/sp3ctra/sp3ctra/internal/config"
	"github.com/sp3ctra/sp3ctra/internal/imagebuf"
	"github.com/sp3ctra/sp3ctra/internal/luxsynth"
	"github.com/sp3ctra/sp3ctra/internal/rtlog"
)

func newTestEngine(t *testing.T) (*Engine, *config.Config, *imagebuf.TripleBuffer) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.SensorDPI = 200
	cfg.AudioBufferSize = 64
	cfg.Photowave.NumVoices = 4
	if err := cfg.Derive(); err != nil {
		t.Fatalf("Derive: %v", err)
	}
	triple := imagebuf.NewTripleBuffer(cfg.Pixels)
	return New(&cfg, triple, rtlog.NewRing(64)), &cfg, triple
}

func commitRamp(tb *imagebuf.TripleBuffer) {
	slot := tb.WriteSlot()
	n := len(slot.R)
	for i := range slot.R {
		v := byte(i * 255 / (n - 1))
		slot.R[i] = v
		slot.G[i] = v
		slot.B[i] = v
	}
	tb.Commit()
}

func consume(e *Engine) []float32 {
	for i := 0; i < 2; i++ {
		s := e.out.Slot(i)
		if s.Ready() {
			l := append([]float32(nil), s.L...)
			e.out.Release(i)
			return l
		}
	}
	return nil
}

func TestScanModeMapping(t *testing.T) {
	e, _, tb := newTestEngine(t)
	commitRamp(tb)
	e.refreshWave()

	// A ramp line: left edge is dark (-1), right edge bright (+1).
	l2r0 := e.sampleWave(0, config.ScanLeftToRight, config.InterpLinear)
	l2r1 := e.sampleWave(0.999, config.ScanLeftToRight, config.InterpLinear)
	if l2r0 > -0.99 || l2r1 < 0.98 {
		t.Errorf("L2R edges = %g, %g", l2r0, l2r1)
	}

	// Right-to-left mirrors the mapping.
	r2l0 := e.sampleWave(0, config.ScanRightToLeft, config.InterpLinear)
	if math.Abs(r2l0-l2r1) > 0.01 {
		t.Errorf("R2L at phase 0 = %g, want %g", r2l0, l2r1)
	}

	// Ping-pong reflects at phase 0.5.
	ppMid := e.sampleWave(0.5, config.ScanPingPong, config.InterpLinear)
	if ppMid < 0.98 {
		t.Errorf("ping-pong midpoint = %g, want right edge", ppMid)
	}
	ppQuarter := e.sampleWave(0.25, config.ScanPingPong, config.InterpLinear)
	ppThreeQ := e.sampleWave(0.75, config.ScanPingPong, config.InterpLinear)
	if math.Abs(ppQuarter-ppThreeQ) > 0.01 {
		t.Errorf("ping-pong not symmetric: %g vs %g", ppQuarter, ppThreeQ)
	}
}

func TestInterpolationOnKnownPoints(t *testing.T) {
	e, _, _ := newTestEngine(t)
	for i := range e.wave {
		e.wave[i] = 0
	}
	e.wave[10] = 1.0

	n := float64(len(e.wave) - 1)
	exact := e.sampleWave(10/n, config.ScanLeftToRight, config.InterpLinear)
	if math.Abs(exact-1.0) > 1e-6 {
		t.Errorf("linear at pixel 10 = %g, want 1", exact)
	}
	half := e.sampleWave(10.5/n, config.ScanLeftToRight, config.InterpLinear)
	if math.Abs(half-0.5) > 1e-6 {
		t.Errorf("linear midway = %g, want 0.5", half)
	}

	// Catmull-Rom passes through the control points.
	cubic := e.sampleWave(10/n, config.ScanLeftToRight, config.InterpCubic)
	if math.Abs(cubic-1.0) > 1e-6 {
		t.Errorf("cubic at pixel 10 = %g, want 1", cubic)
	}
}

func TestControlChangeMap(t *testing.T) {
	e, _, _ := newTestEngine(t)

	e.ControlChange(1, 0)
	if got := config.ScanMode(e.scanMode.Load()); got != config.ScanLeftToRight {
		t.Errorf("CC1=0: %v", got)
	}
	e.ControlChange(1, 60)
	if got := config.ScanMode(e.scanMode.Load()); got != config.ScanRightToLeft {
		t.Errorf("CC1=60: %v", got)
	}
	e.ControlChange(1, 100)
	if got := config.ScanMode(e.scanMode.Load()); got != config.ScanPingPong {
		t.Errorf("CC1=100: %v", got)
	}

	e.ControlChange(7, 127)
	if got := math.Float32frombits(e.amplitude.Load()); math.Abs(float64(got)-1) > 1e-5 {
		t.Errorf("CC7=127: amplitude %g", got)
	}

	e.ControlChange(74, 63)
	if got := config.InterpMode(e.interpMode.Load()); got != config.InterpLinear {
		t.Errorf("CC74=63: %v", got)
	}
	e.ControlChange(74, 64)
	if got := config.InterpMode(e.interpMode.Load()); got != config.InterpCubic {
		t.Errorf("CC74=64: %v", got)
	}

	e.ControlChange(71, 127)
	if got := math.Float32frombits(e.blurAmount.Load()); math.Abs(float64(got)-1) > 1e-5 {
		t.Errorf("CC71=127: blur %g", got)
	}
}

func TestNoteProducesBoundedAudio(t *testing.T) {
	e, _, tb := newTestEngine(t)
	commitRamp(tb)

	e.NoteOn(64, 127)
	var peak float64
	for i := 0; i < 20; i++ {
		e.RenderBuffer()
		for _, s := range consume(e) {
			v := math.Abs(float64(s))
			if v > 1 {
				t.Fatalf("sample %g out of range", s)
			}
			if v > peak {
				peak = v
			}
		}
	}
	if peak == 0 {
		t.Error("held note produced silence")
	}
}

func TestDuplicateNoteOffFindsReleasingVoice(t *testing.T) {
	e, _, tb := newTestEngine(t)
	commitRamp(tb)

	e.NoteOn(62, 100)
	e.RenderBuffer()
	consume(e)
	e.NoteOff(62)
	e.RenderBuffer()
	consume(e)
	if got := e.voices[0].volEnv.State(); got != luxsynth.EnvRelease {
		t.Fatalf("state = %d, want release", got)
	}
	// The tag survives the release so a late note-off can still match.
	if got := e.voices[0].midiNote; got != 62 {
		t.Fatalf("releasing voice note = %d, want 62", got)
	}

	e.NoteOff(62)
	e.RenderBuffer()
	consume(e)
	if got := e.voices[0].midiNote; got != -1 {
		t.Errorf("voice note = %d after duplicate note-off, want -1", got)
	}
	for i := range e.voices {
		if st := e.voices[i].volEnv.State(); st == luxsynth.EnvAttack {
			t.Errorf("voice %d retriggered by duplicate note-off", i)
		}
	}
}

func TestPolyphonyNormalisation(t *testing.T) {
	e, _, tb := newTestEngine(t)
	commitRamp(tb)

	// With N active voices the mix is divided by sqrt(N); four identical
	// voices must not exceed twice one voice's level.
	e.NoteOn(60, 127)
	for i := 0; i < 30; i++ {
		e.RenderBuffer()
		consume(e)
	}
	var onePeak float64
	e.RenderBuffer()
	for _, s := range consume(e) {
		if v := math.Abs(float64(s)); v > onePeak {
			onePeak = v
		}
	}

	for _, n := range []int{60, 60, 60} {
		e.NoteOn(n, 127)
	}
	for i := 0; i < 30; i++ {
		e.RenderBuffer()
		consume(e)
	}
	var fourPeak float64
	e.RenderBuffer()
	for _, s := range consume(e) {
		if v := math.Abs(float64(s)); v > fourPeak {
			fourPeak = v
		}
	}
	if onePeak > 0 && fourPeak > onePeak*2.5 {
		t.Errorf("four voices peak %g vs one voice %g, normalisation missing", fourPeak, onePeak)
	}
}

func TestContinuousModePlaysWithoutNotes(t *testing.T) {
	e, _, tb := newTestEngine(t)
	commitRamp(tb)
	e.SetContinuousMode(true)

	var peak float64
	for i := 0; i < 10; i++ {
		e.RenderBuffer()
		for _, s := range consume(e) {
			if v := math.Abs(float64(s)); v > peak {
				peak = v
			}
		}
	}
	if peak == 0 {
		t.Error("continuous mode produced silence")
	}
}

func TestNoteFrequencyRange(t *testing.T) {
	e, cfg, _ := newTestEngine(t)
	if f := e.noteFrequency(0); math.Abs(f-e.fMin) > 1e-9 {
		t.Errorf("note 0 = %g, want fMin %g", f, e.fMin)
	}
	if f := e.noteFrequency(127); math.Abs(f-cfg.Photowave.MaxFrequencyHz) > 1e-6 {
		t.Errorf("note 127 = %g, want %g", f, cfg.Photowave.MaxFrequencyHz)
	}
}
