// Package mix implements the realtime output stage. The host audio
// callback calls Mixer.Process once per buffer; it drains the three
// engine output buffers, applies mix levels, the shared reverb send and
// the master insert chain, and never blocks or allocates.
package mix

import (
	"math"
	"sync/atomic"

	"github.com/sp3ctra/sp3ctra/internal/config"
	"github.com/sp3ctra/sp3ctra/internal/effects"
	"github.com/sp3ctra/sp3ctra/internal/imagebuf"
	"github.com/sp3ctra/sp3ctra/internal/rtlog"
)

// controlInterval is how often, in samples, the callback re-reads the
// control atomics and pushes reverb parameter changes.
const controlInterval = 256

// wavetableGate is the mix level below which the wavetable engine is
// skipped entirely.
const wavetableGate = 0.01

// atomicF32 is a float32 published between control threads and the
// audio callback, stored as raw bits.
type atomicF32 struct{ bits atomic.Uint32 }

func (a *atomicF32) Store(v float32) { a.bits.Store(math.Float32bits(v)) }
func (a *atomicF32) Load() float32   { return math.Float32frombits(a.bits.Load()) }

// tap tracks the consumer side of one engine output buffer: which slot
// to read next and how far into it the callback has read.
type tap struct {
	buf    *imagebuf.OutputBuffer
	slot   int
	offset int
	active bool
}

// next returns the following sample pair, or ok=false when the engine
// has not published a slot yet.
func (t *tap) next() (l, r float32, ok bool) {
	if !t.active {
		if !t.buf.Slot(t.slot).Ready() {
			return 0, 0, false
		}
		t.active = true
		t.offset = 0
	}
	s := t.buf.Slot(t.slot)
	l, r = s.L[t.offset], s.R[t.offset]
	t.offset++
	if t.offset >= len(s.L) {
		t.buf.Release(t.slot)
		t.slot = 1 - t.slot
		t.active = false
	}
	return l, r, true
}

// skip advances past one sample without reading, used when an engine is
// gated out but must keep pace with its producer.
func (t *tap) skip() {
	if _, _, ok := t.next(); !ok {
		return
	}
}

// Mixer combines the three engine outputs into the host's stereo buffer.
type Mixer struct {
	additive   tap
	polyphonic tap
	wavetable  tap

	levelA atomicF32
	levelP atomicF32
	levelW atomicF32

	midiVolume atomicF32
	autoVolume atomicF32

	reverbEnabled  atomic.Bool
	reverbMix      atomicF32
	reverbRoomSize atomicF32
	reverbDamping  atomicF32
	reverbWidth    atomicF32
	sendAdditive   atomicF32
	sendPolyphonic atomicF32

	reverb  *effects.Reverb
	eq      *effects.EQ3Band
	limiter *effects.Limiter
	insert  *effects.Chain

	swapStereo bool
	ring       *rtlog.Ring

	underrunA atomic.Uint64
	underrunP atomic.Uint64
	underrunW atomic.Uint64
}

// New builds the mixer over the three engine output buffers. The ring
// receives underrun records; it may be nil.
func New(cfg *config.Config, additive, polyphonic, wavetable *imagebuf.OutputBuffer, ring *rtlog.Ring) *Mixer {
	m := &Mixer{
		additive:   tap{buf: additive},
		polyphonic: tap{buf: polyphonic},
		wavetable:  tap{buf: wavetable},
		swapStereo: cfg.SwapStereo,
		ring:       ring,
	}
	m.levelA.Store(float32(cfg.LevelAdditive))
	m.levelP.Store(float32(cfg.LevelPolyphonic))
	m.levelW.Store(float32(cfg.LevelWavetable))
	m.midiVolume.Store(float32(cfg.MasterVolume))
	m.autoVolume.Store(1)

	rc := cfg.Reverb
	m.reverbEnabled.Store(rc.Enable)
	m.reverbMix.Store(float32(rc.Mix))
	m.reverbRoomSize.Store(float32(rc.RoomSize))
	m.reverbDamping.Store(float32(rc.Damping))
	m.reverbWidth.Store(float32(rc.Width))
	m.sendAdditive.Store(float32(rc.SendAdditive))
	m.sendPolyphonic.Store(float32(rc.SendPolyphonic))

	m.reverb = effects.NewReverb(cfg.SampleRate,
		float32(rc.RoomSize), float32(rc.Damping), float32(rc.Width),
		float32(rc.Mix), rc.PreDelayMs)
	m.eq = effects.NewEQ3Band(cfg.SampleRate, 1, 1, 1, 300, 3000)
	m.limiter = effects.NewLimiter(float32(cfg.SoftLimitThreshold), float32(cfg.SoftLimitKnee))
	m.insert = effects.NewChain(m.eq, m.limiter)
	return m
}

// SetMixLevels updates the per-engine weights.
func (m *Mixer) SetMixLevels(additive, polyphonic, wavetable float32) {
	m.levelA.Store(clampf(additive, 0, 2))
	m.levelP.Store(clampf(polyphonic, 0, 2))
	m.levelW.Store(clampf(wavetable, 0, 2))
}

// MixLevels returns the current per-engine weights.
func (m *Mixer) MixLevels() (additive, polyphonic, wavetable float32) {
	return m.levelA.Load(), m.levelP.Load(), m.levelW.Load()
}

// SetMasterVolume sets the MIDI-controlled master volume.
func (m *Mixer) SetMasterVolume(v float32) {
	m.midiVolume.Store(clampf(v, 0, 2))
}

// SetAutoVolume sets the sensor-driven volume factor. The effective
// master level is the product of both volume lines.
func (m *Mixer) SetAutoVolume(v float32) {
	m.autoVolume.Store(clampf(v, 0, 1))
}

// MasterVolume returns the effective master level.
func (m *Mixer) MasterVolume() float32 {
	return m.midiVolume.Load() * m.autoVolume.Load()
}

// SetReverbEnabled toggles the reverb send.
func (m *Mixer) SetReverbEnabled(on bool) { m.reverbEnabled.Store(on) }

// SetReverbMix sets the wet/dry crossfade of the send return.
func (m *Mixer) SetReverbMix(v float32) { m.reverbMix.Store(clampf(v, 0, 1)) }

// SetReverbRoomSize sets the decay control.
func (m *Mixer) SetReverbRoomSize(v float32) { m.reverbRoomSize.Store(clampf(v, 0, 1)) }

// SetReverbDamping sets high-frequency absorption.
func (m *Mixer) SetReverbDamping(v float32) { m.reverbDamping.Store(clampf(v, 0, 1)) }

// SetReverbWidth sets the stereo width of the wet signal.
func (m *Mixer) SetReverbWidth(v float32) { m.reverbWidth.Store(clampf(v, 0, 1)) }

// SetReverbSends sets the per-engine send gains.
func (m *Mixer) SetReverbSends(additive, polyphonic float32) {
	m.sendAdditive.Store(clampf(additive, 0, 1))
	m.sendPolyphonic.Store(clampf(polyphonic, 0, 1))
}

// SetEQGains updates the master three-band EQ.
func (m *Mixer) SetEQGains(low, mid, high float32) { m.eq.SetGains(low, mid, high) }

// Underruns reports how many buffers found each engine starved.
func (m *Mixer) Underruns() (additive, polyphonic, wavetable uint64) {
	return m.underrunA.Load(), m.underrunP.Load(), m.underrunW.Load()
}

// Process fills one non-interleaved stereo buffer. Called from the host
// realtime callback; it never blocks and never allocates.
func (m *Mixer) Process(outL, outR []float32) {
	wA := m.levelA.Load()
	wP := m.levelP.Load()
	wW := m.levelW.Load()
	useWave := wW >= wavetableGate

	sendA := m.sendAdditive.Load()
	sendP := m.sendPolyphonic.Load()
	useReverb := m.reverbEnabled.Load() && (sendA > 0.01 || sendP > 0.01)

	master := m.MasterVolume()
	starvedA, starvedP, starvedW := false, false, false

	m.applyReverbControls()
	counter := controlInterval

	for i := range outL {
		counter--
		if counter <= 0 {
			m.applyReverbControls()
			master = m.MasterVolume()
			counter = controlInterval
		}

		aL, aR, okA := m.additive.next()
		if !okA {
			starvedA = true
		}
		pL, pR, okP := m.polyphonic.next()
		if !okP {
			starvedP = true
		}
		var wL, wR float32
		if useWave {
			var okW bool
			wL, wR, okW = m.wavetable.next()
			if !okW {
				starvedW = true
			}
		} else {
			m.wavetable.skip()
		}

		l := aL*wA + pL*wP + wL*wW
		r := aR*wA + pR*wP + wR*wW

		if useReverb {
			sL := aL*sendA + pL*sendP
			sR := aR*sendA + pR*sendP
			wetL, wetR := m.reverb.ProcessWet(sL, sR)
			l += wetL
			r += wetR
		}

		l *= master
		r *= master
		l, r = m.insert.Process(l, r)
		l = clampf(l, -1, 1)
		r = clampf(r, -1, 1)

		if m.swapStereo {
			l, r = r, l
		}
		outL[i] = l
		outR[i] = r
	}

	if starvedA {
		m.underrunA.Add(1)
		m.log("additive engine starved")
	}
	if starvedP {
		m.underrunP.Add(1)
		m.log("polyphonic engine starved")
	}
	if starvedW {
		m.underrunW.Add(1)
		m.log("wavetable engine starved")
	}
}

// Reset clears effect state between runs.
func (m *Mixer) Reset() {
	m.reverb.Reset()
	m.insert.Reset()
}

func (m *Mixer) applyReverbControls() {
	if !m.reverbEnabled.Load() {
		m.reverb.SetMix(0)
		return
	}
	m.reverb.SetMix(m.reverbMix.Load())
	m.reverb.SetRoomSize(m.reverbRoomSize.Load())
	m.reverb.SetDamping(m.reverbDamping.Load())
	m.reverb.SetWidth(m.reverbWidth.Load())
}

func (m *Mixer) log(msg string) {
	if m.ring != nil {
		m.ring.Push(rtlog.Record{Level: rtlog.LevelWarn, Msg: msg})
	}
}

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
