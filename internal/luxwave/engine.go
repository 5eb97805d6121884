// Package luxwave implements the photo-wavetable engine: polyphonic sampler
// voices that read the current scan line as a single-cycle waveform. The
// scan mode maps phase to pixel position, interpolation is linear or
// Catmull-Rom, and each voice carries the usual envelope, vibrato and
// low-pass trio. A continuous mode plays the line without note gating.
package luxwave

import (
	"math"
	"sync/atomic"

	"github.com/sp3ctra/sp3ctra/internal/config"
	"github.com/sp3ctra/sp3ctra/internal/imagebuf"
	"github.com/sp3ctra/sp3ctra/internal/lfo"
	"github.com/sp3ctra/sp3ctra/internal/luxsynth"
	"github.com/sp3ctra/sp3ctra/internal/rtlog"
)

const (
	producerMaxSpins   = 100 // 100µs each, ~10ms bound
	continuousVelocity = 100
)

type voice struct {
	phase        float64
	phaseInc     float64
	midiNote     int
	velocity     float64
	triggerOrder uint64

	volEnv  *luxsynth.ADSR
	filtEnv *luxsynth.ADSR
	lpState float64
}

func (v *voice) active() bool { return v.volEnv.State() != luxsynth.EnvIdle }

type eventKind int

const (
	evNoteOn eventKind = iota
	evNoteOff
)

type event struct {
	kind     eventKind
	note     int
	velocity int
}

// Engine is the photo-wavetable sampler bank.
type Engine struct {
	cfg  *config.Config
	ring *rtlog.Ring
	out  *imagebuf.OutputBuffer

	triple *imagebuf.TripleBuffer

	voices       []voice
	triggerOrder uint64
	events       chan event
	vibrato      lfo.LFO

	// Engine-level parameters, written from control threads.
	scanMode   atomic.Int32
	interpMode atomic.Int32
	amplitude  atomic.Uint32 // float32 bits
	blurAmount atomic.Uint32 // float32 bits
	blurRadius atomic.Int32
	continuous atomic.Bool

	// Working grayscale waveform, refreshed per buffer.
	wave     []float64
	blurred  []float64
	fMin     float64
	fMax     float64

	// Continuous-mode phase, independent of the voice bank.
	contPhase    float64
	contPhaseInc float64

	TimeoutCount uint64
}

// New builds the engine reading lines from the given triple buffer.
func New(cfg *config.Config, triple *imagebuf.TripleBuffer, ring *rtlog.Ring) *Engine {
	pw := cfg.Photowave
	fs := float64(cfg.SampleRate)
	e := &Engine{
		cfg:     cfg,
		ring:    ring,
		out:     imagebuf.NewOutputBuffer(cfg.AudioBufferSize),
		triple:  triple,
		voices:  make([]voice, pw.NumVoices),
		events:  make(chan event, 64),
		wave:    make([]float64, cfg.Pixels),
		blurred: make([]float64, cfg.Pixels),
		fMin:    fs / float64(cfg.Pixels),
		fMax:    pw.MaxFrequencyHz,
	}
	for i := range e.voices {
		v := &e.voices[i]
		v.midiNote = -1
		v.volEnv = luxsynth.NewADSR(pw.VolumeADSR.AttackS, pw.VolumeADSR.DecayS, pw.VolumeADSR.Sustain, pw.VolumeADSR.ReleaseS, fs)
		v.filtEnv = luxsynth.NewADSR(pw.FilterADSR.AttackS, pw.FilterADSR.DecayS, pw.FilterADSR.Sustain, pw.FilterADSR.ReleaseS, fs)
	}
	e.vibrato.Set(1, pw.LFO.RateHz, lfo.WaveSine)
	e.scanMode.Store(int32(pw.ScanMode))
	e.interpMode.Store(int32(pw.InterpMode))
	e.amplitude.Store(math.Float32bits(float32(pw.Amplitude)))
	e.blurAmount.Store(math.Float32bits(float32(pw.BlurAmount)))
	e.blurRadius.Store(int32(pw.BlurRadius))
	e.continuous.Store(pw.ContinuousMode)
	e.contPhaseInc = e.phaseIncrement(e.fMin)
	return e
}

// Output returns the double buffer the mixer consumes.
func (e *Engine) Output() *imagebuf.OutputBuffer { return e.out }

// SetScanMode selects the phase-to-pixel mapping.
func (e *Engine) SetScanMode(m config.ScanMode) { e.scanMode.Store(int32(m)) }

// SetInterpMode selects linear or cubic interpolation.
func (e *Engine) SetInterpMode(m config.InterpMode) { e.interpMode.Store(int32(m)) }

// SetAmplitude sets the engine output amplitude in [0,1].
func (e *Engine) SetAmplitude(a float64) {
	e.amplitude.Store(math.Float32bits(float32(clampF(a, 0, 1))))
}

// SetBlur configures the spatial box blur of the waveform.
func (e *Engine) SetBlur(radius int, amount float64) {
	if radius < 0 {
		radius = 0
	}
	e.blurRadius.Store(int32(radius))
	e.blurAmount.Store(math.Float32bits(float32(clampF(amount, 0, 1))))
}

// SetContinuousMode bypasses the note gate when enabled.
func (e *Engine) SetContinuousMode(on bool) { e.continuous.Store(on) }

// NoteOn queues a note-on. Velocity 0 is a note-off.
func (e *Engine) NoteOn(note, velocity int) {
	if velocity == 0 {
		e.NoteOff(note)
		return
	}
	e.push(event{kind: evNoteOn, note: note, velocity: velocity})
}

// NoteOff queues a note-off.
func (e *Engine) NoteOff(note int) { e.push(event{kind: evNoteOff, note: note}) }

// ControlChange applies the engine's CC map: CC1 scan mode, CC7 amplitude,
// CC71 blur amount, CC74 interpolation.
func (e *Engine) ControlChange(cc, value int) {
	switch cc {
	case 1:
		switch {
		case value < 43:
			e.SetScanMode(config.ScanLeftToRight)
		case value < 85:
			e.SetScanMode(config.ScanRightToLeft)
		default:
			e.SetScanMode(config.ScanPingPong)
		}
	case 7:
		e.SetAmplitude(float64(value) / 127.0)
	case 71:
		e.SetBlur(int(e.blurRadius.Load()), float64(value)/127.0)
	case 74:
		if value < 64 {
			e.SetInterpMode(config.InterpLinear)
		} else {
			e.SetInterpMode(config.InterpCubic)
		}
	}
}

func (e *Engine) push(ev event) {
	select {
	case e.events <- ev:
	default:
		e.ring.Push(rtlog.Record{Level: rtlog.LevelWarn, Msg: "luxwave: event queue full"})
	}
}

// noteFrequency maps MIDI notes exponentially over [fMin, fMax], so note 0
// plays the whole line once per fMin period and note 127 reaches the
// configured ceiling.
func (e *Engine) noteFrequency(note int) float64 {
	n := clampF(float64(note)/127.0, 0, 1)
	return e.fMin * math.Pow(e.fMax/e.fMin, n)
}

// phaseIncrement converts a frequency to per-sample phase. Ping-pong scans
// the line twice per period, doubling the effective rate.
func (e *Engine) phaseIncrement(freq float64) float64 {
	mult := 1.0
	if config.ScanMode(e.scanMode.Load()) == config.ScanPingPong {
		mult = 2.0
	}
	return freq * mult / float64(e.cfg.SampleRate)
}

func (e *Engine) drainEvents() {
	for {
		select {
		case ev := <-e.events:
			switch ev.kind {
			case evNoteOn:
				e.noteOn(ev.note, ev.velocity)
			case evNoteOff:
				e.noteOff(ev.note)
			}
		default:
			return
		}
	}
}

// noteOn uses the same steal policy as the polyphonic engine: idle first,
// then the quietest releasing voice, then the oldest held one.
func (e *Engine) noteOn(note, velocity int) {
	e.triggerOrder++
	v := e.allocate()
	pw := e.cfg.Photowave

	v.midiNote = note
	v.velocity = float64(velocity) / 127.0
	v.triggerOrder = e.triggerOrder
	v.phase = 0
	v.phaseInc = e.phaseIncrement(clampF(e.noteFrequency(note), e.fMin, e.fMax))
	v.lpState = 0
	v.volEnv.UpdateSettingsAndRecalculateRates(pw.VolumeADSR.AttackS, pw.VolumeADSR.DecayS, pw.VolumeADSR.Sustain, pw.VolumeADSR.ReleaseS)
	v.filtEnv.UpdateSettingsAndRecalculateRates(pw.FilterADSR.AttackS, pw.FilterADSR.DecayS, pw.FilterADSR.Sustain, pw.FilterADSR.ReleaseS)
	v.volEnv.Trigger()
	v.filtEnv.Trigger()
}

func (e *Engine) allocate() *voice {
	for i := range e.voices {
		if e.voices[i].volEnv.State() == luxsynth.EnvIdle {
			return &e.voices[i]
		}
	}
	var quietest *voice
	for i := range e.voices {
		v := &e.voices[i]
		if v.volEnv.State() != luxsynth.EnvRelease {
			continue
		}
		if quietest == nil || v.volEnv.Output() < quietest.volEnv.Output() {
			quietest = v
		}
	}
	if quietest != nil {
		return quietest
	}
	var oldest *voice
	for i := range e.voices {
		v := &e.voices[i]
		st := v.volEnv.State()
		if st == luxsynth.EnvRelease || st == luxsynth.EnvIdle {
			continue
		}
		if oldest == nil || v.triggerOrder < oldest.triggerOrder {
			oldest = v
		}
	}
	if oldest != nil {
		return oldest
	}
	return &e.voices[0]
}

func (e *Engine) noteOff(note int) {
	var target *voice
	for i := range e.voices {
		v := &e.voices[i]
		st := v.volEnv.State()
		if st == luxsynth.EnvIdle || st == luxsynth.EnvRelease || v.midiNote != note {
			continue
		}
		if target == nil || v.triggerOrder < target.triggerOrder {
			target = v
		}
	}
	if target != nil {
		target.volEnv.Release()
		target.filtEnv.Release()
		return
	}
	for i := range e.voices {
		v := &e.voices[i]
		st := v.volEnv.State()
		if (st == luxsynth.EnvRelease || st == luxsynth.EnvIdle) && v.midiNote == note {
			v.midiNote = -1
			return
		}
	}
}

// RenderBuffer produces one audio buffer into the output double buffer.
func (e *Engine) RenderBuffer() {
	slot, ok := e.out.WaitWritable(producerMaxSpins)
	if !ok {
		e.TimeoutCount++
		e.ring.Push(rtlog.Record{Level: rtlog.LevelWarn, Msg: "luxwave: output slot timeout", A: int64(e.TimeoutCount)})
	}

	e.drainEvents()
	e.refreshWave()
	e.render(slot.L, slot.R)
	e.out.Publish()
}

// refreshWave rebuilds the working waveform from the current line and
// applies the box blur when configured.
func (e *Engine) refreshWave() {
	planes := e.triple.Acquire()
	for i := range e.wave {
		gray := 0.299*float64(planes.R[i]) + 0.587*float64(planes.G[i]) + 0.114*float64(planes.B[i])
		e.wave[i] = gray/127.5 - 1.0
	}

	radius := int(e.blurRadius.Load())
	amount := float64(math.Float32frombits(e.blurAmount.Load()))
	if radius <= 0 || amount <= 0 {
		return
	}
	n := len(e.wave)
	for i := 0; i < n; i++ {
		var sum float64
		count := 0
		for j := -radius; j <= radius; j++ {
			if k := i + j; k >= 0 && k < n {
				sum += e.wave[k]
				count++
			}
		}
		e.blurred[i] = sum / float64(count)
	}
	for i := 0; i < n; i++ {
		e.wave[i] = e.wave[i]*(1-amount) + e.blurred[i]*amount
	}
}

func (e *Engine) render(outL, outR []float32) {
	pw := e.cfg.Photowave
	fs := float64(e.cfg.SampleRate)
	amp := float64(math.Float32frombits(e.amplitude.Load()))
	scan := config.ScanMode(e.scanMode.Load())
	interp := config.InterpMode(e.interpMode.Load())
	depth := pw.LFO.DepthSemitone
	continuous := e.continuous.Load()

	active := 0
	for i := range e.voices {
		if e.voices[i].active() {
			active++
		}
	}
	norm := 1.0
	if active > 1 {
		norm = 1 / math.Sqrt(float64(active))
	}

	for i := range outL {
		lfoSample := e.vibrato.Sample(fs)
		ratio := math.Exp2(lfoSample * depth / 12.0)

		var mix float64
		for vi := range e.voices {
			v := &e.voices[vi]
			volEnv := v.volEnv.Process()
			filtEnv := v.filtEnv.Process()
			if !v.active() {
				continue
			}

			s := e.sampleWave(v.phase, scan, interp)

			fc := clampF(pw.FilterCutoffHz+filtEnv*pw.FilterEnvDepth, 20, fs/2-1)
			a := 1 - math.Exp(-2*math.Pi*fc/fs)
			v.lpState += a * (s - v.lpState)

			mix += v.lpState * volEnv * v.velocity

			v.phase += v.phaseInc * ratio
			v.phase -= math.Floor(v.phase)
		}
		mix *= norm

		if continuous {
			s := e.sampleWave(e.contPhase, scan, interp)
			mix += s * float64(continuousVelocity) / 127.0
			e.contPhase += e.contPhaseInc * ratio
			e.contPhase -= math.Floor(e.contPhase)
		}

		mix *= amp
		out := float32(clampF(mix, -1, 1))
		outL[i] = out
		outR[i] = out
	}
}

// sampleWave reads the waveform at the given phase under the scan mode.
func (e *Engine) sampleWave(phase float64, scan config.ScanMode, interp config.InterpMode) float64 {
	n := len(e.wave)
	if n < 2 {
		return 0
	}
	phase -= math.Floor(phase)

	var pos float64
	switch scan {
	case config.ScanRightToLeft:
		pos = (1 - phase) * float64(n-1)
	case config.ScanPingPong:
		if phase < 0.5 {
			pos = phase * 2 * float64(n-1)
		} else {
			pos = (1 - phase) * 2 * float64(n-1)
		}
	default:
		pos = phase * float64(n-1)
	}

	idx := int(pos)
	if idx < 0 {
		idx = 0
	}
	if idx > n-2 {
		idx = n - 2
	}
	frac := pos - float64(idx)

	if interp == config.InterpCubic {
		return catmullRom(e.wave, idx, frac)
	}
	return e.wave[idx] + frac*(e.wave[idx+1]-e.wave[idx])
}

// catmullRom interpolates between wave[idx] and wave[idx+1] using the two
// neighbouring points, clamped at the line edges.
func catmullRom(wave []float64, idx int, t float64) float64 {
	n := len(wave)
	at := func(i int) float64 {
		if i < 0 {
			i = 0
		}
		if i > n-1 {
			i = n - 1
		}
		return wave[i]
	}
	p0, p1, p2, p3 := at(idx-1), at(idx), at(idx+1), at(idx+2)
	t2 := t * t
	t3 := t2 * t
	return 0.5 * ((2 * p1) +
		(-p0+p2)*t +
		(2*p0-5*p1+4*p2-p3)*t2 +
		(-p0+3*p1-3*p2+p3)*t3)
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
