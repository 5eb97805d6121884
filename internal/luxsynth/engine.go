// Package luxsynth implements the polyphonic engine: a bank of MIDI-driven
// voices whose partials are shaped by the preprocessed scan line. Each voice
// carries a volume and a filter envelope, a shared vibrato LFO modulates the
// fundamental, and the per-harmonic colour data steers the partial series
// between harmonic and bell-like inharmonic regimes.
package luxsynth

import (
	"math"
	"sync/atomic"

	"github.com/sp3ctra/sp3ctra/internal/config"
	"github.com/sp3ctra/sp3ctra/internal/imagebuf"
	"github.com/sp3ctra/sp3ctra/internal/lfo"
	"github.com/sp3ctra/sp3ctra/internal/preprocess"
	"github.com/sp3ctra/sp3ctra/internal/rtlog"
)

const (
	producerMaxSpins = 500 // 100µs each, ~50ms bound

	magnitudeSmoothing = 0.1
	envEpsilon         = 1e-5
)

type voice struct {
	fundamental  float64
	midiNote     int
	velocity     float64
	triggerOrder uint64

	volEnv  *ADSR
	filtEnv *ADSR
	phases  []float64
}

func (v *voice) active() bool { return v.volEnv.State() != EnvIdle }

type eventKind int

const (
	evNoteOn eventKind = iota
	evNoteOff
	evVolumeADSR
	evFilterADSR
)

type event struct {
	kind     eventKind
	note     int
	velocity int
	adsr     config.ADSR
}

// Engine is the polyphonic voice bank. Note events arrive through a queue
// drained at buffer start so voice state is only ever touched by the
// producer goroutine.
type Engine struct {
	cfg  *config.Config
	ring *rtlog.Ring
	out  *imagebuf.OutputBuffer

	voices       []voice
	triggerOrder uint64
	events       chan event
	vibrato      lfo.LFO

	data     atomic.Pointer[preprocess.Data]
	smoothed []float64

	masterVolume atomic.Uint64 // float64 bits

	TimeoutCount uint64
}

// New builds the engine with the configured voice and harmonic counts.
func New(cfg *config.Config, ring *rtlog.Ring) *Engine {
	p := cfg.Polyphonic
	fs := float64(cfg.SampleRate)
	e := &Engine{
		cfg:      cfg,
		ring:     ring,
		out:      imagebuf.NewOutputBuffer(cfg.AudioBufferSize),
		voices:   make([]voice, p.NumVoices),
		events:   make(chan event, 128),
		smoothed: make([]float64, p.MaxOscillators),
	}
	e.masterVolume.Store(math.Float64bits(1))
	for i := range e.voices {
		v := &e.voices[i]
		v.midiNote = -1
		v.volEnv = NewADSR(p.VolumeADSR.AttackS, p.VolumeADSR.DecayS, p.VolumeADSR.Sustain, p.VolumeADSR.ReleaseS, fs)
		v.filtEnv = NewADSR(p.FilterADSR.AttackS, p.FilterADSR.DecayS, p.FilterADSR.Sustain, p.FilterADSR.ReleaseS, fs)
		v.phases = make([]float64, p.MaxOscillators)
	}
	e.vibrato.Set(1, p.LFO.RateHz, lfo.WaveSine)
	return e
}

// Output returns the double buffer the mixer consumes.
func (e *Engine) Output() *imagebuf.OutputBuffer { return e.out }

// SetImageData publishes a preprocessed snapshot for the next buffers.
func (e *Engine) SetImageData(d *preprocess.Data) { e.data.Store(d) }

// SetMasterVolume adjusts the engine-level gain.
func (e *Engine) SetMasterVolume(v float64) {
	e.masterVolume.Store(math.Float64bits(clampF(v, 0, 2)))
}

// NoteOn queues a note-on. Velocity 0 is treated as a note-off.
func (e *Engine) NoteOn(note, velocity int) {
	if velocity == 0 {
		e.NoteOff(note)
		return
	}
	e.push(event{kind: evNoteOn, note: note, velocity: velocity})
}

// NoteOff queues a note-off.
func (e *Engine) NoteOff(note int) {
	e.push(event{kind: evNoteOff, note: note})
}

// SetVolumeADSR retargets every voice's volume envelope, including ones
// mid-flight.
func (e *Engine) SetVolumeADSR(a config.ADSR) {
	e.push(event{kind: evVolumeADSR, adsr: a})
}

// SetFilterADSR retargets every voice's filter envelope.
func (e *Engine) SetFilterADSR(a config.ADSR) {
	e.push(event{kind: evFilterADSR, adsr: a})
}

func (e *Engine) push(ev event) {
	select {
	case e.events <- ev:
	default:
		e.ring.Push(rtlog.Record{Level: rtlog.LevelWarn, Msg: "luxsynth: event queue full"})
	}
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
			case evVolumeADSR:
				for i := range e.voices {
					e.voices[i].volEnv.UpdateSettingsAndRecalculateRates(ev.adsr.AttackS, ev.adsr.DecayS, ev.adsr.Sustain, ev.adsr.ReleaseS)
				}
			case evFilterADSR:
				for i := range e.voices {
					e.voices[i].filtEnv.UpdateSettingsAndRecalculateRates(ev.adsr.AttackS, ev.adsr.DecayS, ev.adsr.Sustain, ev.adsr.ReleaseS)
				}
			}
		default:
			return
		}
	}
}

// noteOn allocates a voice: an idle one, else the quietest releasing one,
// else the oldest held one, else voice 0.
func (e *Engine) noteOn(note, velocity int) {
	e.triggerOrder++
	v := e.allocate()

	p := e.cfg.Polyphonic
	v.fundamental = midiToFreq(note)
	v.midiNote = note
	v.velocity = float64(velocity) / 127.0
	v.triggerOrder = e.triggerOrder
	for i := range v.phases {
		v.phases[i] = 0
	}
	v.volEnv.UpdateSettingsAndRecalculateRates(p.VolumeADSR.AttackS, p.VolumeADSR.DecayS, p.VolumeADSR.Sustain, p.VolumeADSR.ReleaseS)
	v.filtEnv.UpdateSettingsAndRecalculateRates(p.FilterADSR.AttackS, p.FilterADSR.DecayS, p.FilterADSR.Sustain, p.FilterADSR.ReleaseS)
	v.volEnv.Trigger()
	v.filtEnv.Trigger()
}

func (e *Engine) allocate() *voice {
	for i := range e.voices {
		if e.voices[i].volEnv.State() == EnvIdle {
			return &e.voices[i]
		}
	}
	var quietest *voice
	for i := range e.voices {
		v := &e.voices[i]
		if v.volEnv.State() != EnvRelease {
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
		if v.volEnv.State() == EnvRelease || v.volEnv.State() == EnvIdle {
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

// noteOff releases the oldest held voice playing the note. A releasing
// voice absorbs duplicate note-offs; an idle voice still tagged with the
// note absorbs late ones.
func (e *Engine) noteOff(note int) {
	var target *voice
	for i := range e.voices {
		v := &e.voices[i]
		st := v.volEnv.State()
		if st == EnvIdle || st == EnvRelease || v.midiNote != note {
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
		if v.volEnv.State() == EnvRelease && v.midiNote == note {
			v.midiNote = -1
			return
		}
	}
	for i := range e.voices {
		v := &e.voices[i]
		if v.volEnv.State() == EnvIdle && v.midiNote == note {
			v.midiNote = -1
			return
		}
	}
	e.ring.Push(rtlog.Record{Level: rtlog.LevelDebug, Msg: "luxsynth: note-off without voice", A: int64(note)})
}

// RenderBuffer produces one audio buffer into the output double buffer.
func (e *Engine) RenderBuffer() {
	slot, ok := e.out.WaitWritable(producerMaxSpins)
	if !ok {
		e.TimeoutCount++
		e.ring.Push(rtlog.Record{Level: rtlog.LevelWarn, Msg: "luxsynth: output slot timeout", A: int64(e.TimeoutCount)})
	}

	e.drainEvents()
	e.smoothMagnitudes()
	e.render(slot.L, slot.R)
	e.out.Publish()
}

// smoothMagnitudes tracks the published magnitudes with a one-pole EMA so a
// new scan line cannot step the partial amplitudes.
func (e *Engine) smoothMagnitudes() {
	d := e.data.Load()
	if d == nil {
		return
	}
	for i := range e.smoothed {
		target := 0.0
		if i < len(d.FFTMagnitudes) {
			target = float64(d.FFTMagnitudes[i])
		}
		e.smoothed[i] += magnitudeSmoothing * (target - e.smoothed[i])
	}
}

func (e *Engine) render(outL, outR []float32) {
	p := e.cfg.Polyphonic
	fs := float64(e.cfg.SampleRate)
	nyquist := fs / 2
	d := e.data.Load()
	master := math.Float64frombits(e.masterVolume.Load())
	depth := p.LFO.DepthSemitone

	for i := range outL {
		outL[i] = 0
		outR[i] = 0
	}

	for i := range outL {
		lfoSample := e.vibrato.Sample(fs)
		ratio := math.Exp2(lfoSample * depth / 12.0)

		var mixL, mixR float64
		for vi := range e.voices {
			v := &e.voices[vi]
			volEnv := v.volEnv.Process()
			filtEnv := v.filtEnv.Process()
			if volEnv < envEpsilon && v.volEnv.State() == EnvIdle {
				continue
			}

			fc := clampF(p.FilterCutoffHz+filtEnv*p.FilterEnvDepthHz, 20, nyquist-1)
			f0 := v.fundamental * ratio

			mEff := e.effectiveHarmonics(f0)
			var vl, vr float64
			for m := 0; m < mEff; m++ {
				f := f0 * e.harmonicMultiple(d, m)
				if f >= nyquist {
					break
				}
				amp := math.Pow(e.smoothed[m], p.AmplitudeGamma) * onePoleAtten(f, fc)
				inc := 2 * math.Pi * f / fs
				if amp < p.MinAudibleAmplitude {
					v.phases[m] += inc
					if v.phases[m] > 2*math.Pi {
						v.phases[m] -= 2 * math.Pi
					}
					continue
				}
				s := amp * math.Sin(v.phases[m])
				gl, gr := 0.5, 0.5
				if d != nil && m < len(d.FFTLeftGain) {
					gl = float64(d.FFTLeftGain[m])
					gr = float64(d.FFTRightGain[m])
				}
				vl += s * gl
				vr += s * gr
				v.phases[m] += inc
				if v.phases[m] > 2*math.Pi {
					v.phases[m] -= 2 * math.Pi
				}
			}

			gain := volEnv * v.velocity
			mixL += vl * gain
			mixR += vr * gain
		}

		mixL *= master
		mixR *= master
		outL[i] = float32(clampF(mixL, -1, 1))
		outR[i] = float32(clampF(mixR, -1, 1))
	}
}

// effectiveHarmonics trades partial count against CPU above the configured
// high-frequency limit.
func (e *Engine) effectiveHarmonics(f0 float64) int {
	m := e.cfg.Polyphonic.MaxOscillators
	limit := e.cfg.Polyphonic.HighFreqHarmonicLimitHz
	if limit > 0 {
		if f0 > limit {
			m /= 4
		} else if f0 > limit/2 {
			m /= 2
		}
	}
	if m < 1 {
		m = 1
	}
	return m
}

// harmonicMultiple chooses the partial ratio by harmonicity regime: near
// integer ratios with detune for harmonic colour, the published inharmonic
// ratios for bell-like colour.
func (e *Engine) harmonicMultiple(d *preprocess.Data, m int) float64 {
	if d == nil || m >= len(d.Harmonicity) {
		return float64(m + 1)
	}
	h := float64(d.Harmonicity[m])
	if h > 0.3 {
		return float64(m+1) + float64(d.DetuneCents[m])/1200.0
	}
	return float64(d.InharmonicRatio[m])
}

func onePoleAtten(f, fc float64) float64 {
	r := f / fc
	return 1 / math.Sqrt(1+r*r)
}

func midiToFreq(note int) float64 {
	return 440.0 * math.Exp2(float64(note-69)/12.0)
}
