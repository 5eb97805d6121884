package luxsynth

import (
	"math"
	"testing"

	"github.com/sp3ctra/sp3ctra/internal/config"
	"github.com/sp3ctra/sp3ctra/internal/preprocess"
	"github.com/sp3ctra/sp3ctra/internal/rtlog"
)

func testConfig() *config.Config {
	c := config.DefaultConfig()
	c.SensorDPI = 200
	c.AudioBufferSize = 64
	c.Polyphonic.NumVoices = 4
	c.Polyphonic.MaxOscillators = 8
	_ = c.Derive()
	return &c
}

func newTestEngine() (*Engine, *config.Config) {
	cfg := testConfig()
	return New(cfg, rtlog.NewRing(64)), cfg
}

func brightData(cfg *config.Config) *preprocess.Data {
	p := preprocess.New(cfg)
	d := p.NewData()
	for i := range d.FFTMagnitudes {
		d.FFTMagnitudes[i] = 1.0 / float32(i+1)
		d.FFTLeftGain[i] = 0.7
		d.FFTRightGain[i] = 0.7
		d.Harmonicity[i] = 0.9
		d.InharmonicRatio[i] = float32(i + 1)
	}
	return d
}

func consume(e *Engine) ([]float32, []float32) {
	for i := 0; i < 2; i++ {
		s := e.out.Slot(i)
		if s.Ready() {
			l := append([]float32(nil), s.L...)
			r := append([]float32(nil), s.R...)
			e.out.Release(i)
			return l, r
		}
	}
	return nil, nil
}

func TestADSRSegmentTraversal(t *testing.T) {
	fs := 48000.0
	env := NewADSR(0.010, 0.050, 0.5, 0.200, fs)
	env.Trigger()

	// 30 ms in: past attack (10 ms), inside decay (50 ms), sustain skipped.
	sawDecay := false
	for i := 0; i < int(0.030*fs); i++ {
		env.Process()
		if env.State() == EnvDecay {
			sawDecay = true
		}
	}
	if !sawDecay {
		t.Error("never entered decay")
	}
	if env.State() == EnvSustain {
		t.Error("reached sustain before decay elapsed")
	}

	env.Release()
	if env.State() != EnvRelease {
		t.Fatalf("state = %d, want release", env.State())
	}
	// Must reach zero within the release time plus one buffer of slack.
	limit := int(0.200*fs) + 512
	for i := 0; i < limit; i++ {
		env.Process()
		if env.State() == EnvIdle {
			return
		}
	}
	t.Errorf("envelope never reached idle, output %g", env.Output())
}

func TestADSRAttackReachesOneOnTime(t *testing.T) {
	fs := 48000.0
	env := NewADSR(0.010, 0.050, 0.5, 0.200, fs)
	env.Trigger()
	n := int(0.010*fs) + 2
	for i := 0; i < n; i++ {
		env.Process()
	}
	if env.State() == EnvAttack {
		t.Errorf("still in attack after %d samples, output %g", n, env.Output())
	}
}

func TestADSRRecalculateRatesIsContinuous(t *testing.T) {
	fs := 48000.0
	env := NewADSR(0.100, 0.050, 0.5, 0.200, fs)
	env.Trigger()
	for i := 0; i < int(0.050*fs); i++ {
		env.Process()
	}
	before := env.Output()

	// Halving the attack mid-flight must not step the output.
	env.UpdateSettingsAndRecalculateRates(0.050, 0.050, 0.5, 0.200)
	after := env.Process()
	if math.Abs(after-before) > 0.01 {
		t.Errorf("output stepped %g -> %g on settings update", before, after)
	}
	// And the segment still completes.
	for i := 0; i < int(0.100*fs); i++ {
		env.Process()
	}
	if env.State() == EnvAttack {
		t.Error("attack never completed after recalculation")
	}
}

func TestNoteCycleReturnsToIdle(t *testing.T) {
	e, cfg := newTestEngine()
	e.SetImageData(brightData(cfg))

	e.NoteOn(60, 100)
	e.RenderBuffer()
	consume(e)
	if !e.voices[0].active() {
		t.Fatal("voice not active after note-on")
	}

	e.NoteOff(60)
	// Render enough buffers to cover the release tail.
	buffers := cfg.SampleRate/cfg.AudioBufferSize + 1
	for i := 0; i < buffers; i++ {
		e.RenderBuffer()
		consume(e)
	}
	if e.voices[0].active() {
		t.Errorf("voice still active, env state %d", e.voices[0].volEnv.State())
	}
}

func TestDuplicateNoteOffTolerated(t *testing.T) {
	e, _ := newTestEngine()

	e.NoteOn(62, 100)
	e.RenderBuffer()
	consume(e)
	e.NoteOff(62)
	e.RenderBuffer()
	consume(e)
	if got := e.voices[0].volEnv.State(); got != EnvRelease {
		t.Fatalf("state = %d, want release", got)
	}
	// The releasing voice keeps its note tag so late note-offs can find it.
	if got := e.voices[0].midiNote; got != 62 {
		t.Fatalf("releasing voice note = %d, want 62", got)
	}

	// Second note-off lands on the releasing voice and consumes the tag.
	e.NoteOff(62)
	e.RenderBuffer()
	consume(e)
	if got := e.voices[0].midiNote; got != -1 {
		t.Errorf("voice note = %d after duplicate note-off, want -1", got)
	}
	for i := range e.voices {
		if st := e.voices[i].volEnv.State(); st == EnvAttack {
			t.Errorf("voice %d retriggered by duplicate note-off", i)
		}
	}
	for {
		rec, ok := e.ring.Pop()
		if !ok {
			break
		}
		if rec.Msg == "luxsynth: note-off without voice" {
			t.Error("duplicate note-off fell through every search")
		}
	}
}

func TestLateNoteOffMatchesIdleVoice(t *testing.T) {
	e, cfg := newTestEngine()

	e.NoteOn(64, 100)
	e.RenderBuffer()
	consume(e)
	e.NoteOff(64)
	buffers := cfg.SampleRate/cfg.AudioBufferSize + 1
	for i := 0; i < buffers; i++ {
		e.RenderBuffer()
		consume(e)
	}
	if e.voices[0].active() {
		t.Fatal("voice did not reach idle")
	}
	if got := e.voices[0].midiNote; got != 64 {
		t.Fatalf("idle voice note = %d, want 64", got)
	}

	// A note-off arriving after the tail is absorbed by the idle voice.
	e.NoteOff(64)
	e.RenderBuffer()
	consume(e)
	if got := e.voices[0].midiNote; got != -1 {
		t.Errorf("idle voice note = %d after late note-off, want -1", got)
	}
}

func TestVoiceStealPrefersIdleThenQuietestRelease(t *testing.T) {
	e, _ := newTestEngine()

	// Fill all four voices.
	for i, n := range []int{60, 61, 62, 63} {
		e.NoteOn(n, 100)
		e.RenderBuffer()
		consume(e)
		if !e.voices[i].active() {
			t.Fatalf("voice %d not active", i)
		}
	}

	// Release one; the next note must reuse it rather than steal a held one.
	e.NoteOff(61)
	e.RenderBuffer()
	consume(e)
	e.NoteOn(70, 100)
	e.RenderBuffer()
	consume(e)
	if e.voices[1].midiNote != 70 {
		t.Errorf("expected voice 1 reuse, notes: %d %d %d %d",
			e.voices[0].midiNote, e.voices[1].midiNote, e.voices[2].midiNote, e.voices[3].midiNote)
	}
}

func TestVoiceStealTakesOldestHeld(t *testing.T) {
	e, _ := newTestEngine()
	for _, n := range []int{60, 61, 62, 63} {
		e.NoteOn(n, 100)
	}
	e.RenderBuffer()
	consume(e)

	// All voices held: the oldest (note 60, lowest trigger order) is stolen.
	e.NoteOn(72, 100)
	e.RenderBuffer()
	consume(e)
	if e.voices[0].midiNote != 72 {
		t.Errorf("voice 0 note = %d, want 72", e.voices[0].midiNote)
	}
	for i := 1; i < 4; i++ {
		if e.voices[i].midiNote == 72 {
			t.Errorf("newer voice %d was stolen", i)
		}
	}
}

func TestRenderBoundedAndAudible(t *testing.T) {
	e, cfg := newTestEngine()
	e.SetImageData(brightData(cfg))
	e.NoteOn(60, 127)

	var peakV float64
	for i := 0; i < 20; i++ {
		e.RenderBuffer()
		l, r := consume(e)
		for j := range l {
			if v := math.Abs(float64(l[j])); v > peakV {
				peakV = v
			}
			if math.Abs(float64(l[j])) > 1 || math.Abs(float64(r[j])) > 1 {
				t.Fatalf("sample out of range at %d", j)
			}
		}
	}
	if peakV == 0 {
		t.Error("engine produced silence for a held note")
	}
}

func TestRenderSilentWithoutImageData(t *testing.T) {
	e, _ := newTestEngine()
	e.NoteOn(60, 127)
	for i := 0; i < 5; i++ {
		e.RenderBuffer()
		l, _ := consume(e)
		for j := range l {
			if l[j] != 0 {
				t.Fatalf("nonzero output %g without image data", l[j])
			}
		}
	}
}

func TestEffectiveHarmonicsReduction(t *testing.T) {
	e, cfg := newTestEngine()
	limit := cfg.Polyphonic.HighFreqHarmonicLimitHz
	full := cfg.Polyphonic.MaxOscillators
	if got := e.effectiveHarmonics(limit / 4); got != full {
		t.Errorf("low f0: %d, want %d", got, full)
	}
	if got := e.effectiveHarmonics(limit * 0.75); got != full/2 {
		t.Errorf("mid f0: %d, want %d", got, full/2)
	}
	if got := e.effectiveHarmonics(limit * 2); got != full/4 {
		t.Errorf("high f0: %d, want %d", got, full/4)
	}
}

func TestMidiToFreq(t *testing.T) {
	if f := midiToFreq(69); math.Abs(f-440) > 1e-9 {
		t.Errorf("A4 = %g", f)
	}
	if f := midiToFreq(81); math.Abs(f-880) > 1e-9 {
		t.Errorf("A5 = %g", f)
	}
}
