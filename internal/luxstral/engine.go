// Package luxstral implements the additive synthesis engine: one sinusoidal
// oscillator per sensor pixel, driven by the brightness of the current scan
// line. Envelope motion is slewed exponentially with a phase weighting that
// pushes amplitude changes toward zero crossings, and the release rate is
// weighted by note frequency so high notes do not die unnaturally fast.
// Rendering runs on three persistent workers over contiguous note ranges.
package luxstral

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/sp3ctra/sp3ctra/internal/config"
	"github.com/sp3ctra/sp3ctra/internal/imagebuf"
	"github.com/sp3ctra/sp3ctra/internal/rtlog"
	"github.com/sp3ctra/sp3ctra/internal/wavegen"
)

const (
	numWorkers = 3

	tauMinS = 0.01
	tauMaxS = 10.0

	releaseGainMin = 0.05
	releaseGainMax = 2.0

	phaseEpsAttack  = 0.02
	phaseEpsRelease = 0.10

	alphaMin = 1e-5

	waveScale = 1.0

	producerMaxSpins = 500 // 100µs each, ~50ms bound
)

// note is the per-oscillator state. currentIdx and currentVolume are only
// touched by the worker that owns the note's range; targets and gains are
// refreshed between worker rounds.
type note struct {
	currentIdx    int
	currentVolume float32
	targetVolume  float32
	leftGain      float32
	rightGain     float32
	releaseGain   float32 // (f/f_ref)^-beta, precomputed
}

// Engine is the additive oscillator bank.
type Engine struct {
	cfg   *config.Config
	table *wavegen.Table
	ring  *rtlog.Ring

	triple *imagebuf.TripleBuffer
	pan    *imagebuf.PanGainBuffer
	out    *imagebuf.OutputBuffer

	notes []note

	gray     []float32
	prevGray []float32

	contrast atomic.Uint32 // float32 bits, updated per published line

	frozen     atomic.Bool
	fading     atomic.Bool
	frozenGray []float32
	fadePos    int
	fadeLen    int

	workers [numWorkers]*worker
	wg      *sync.WaitGroup
	closed  bool

	TimeoutCount uint64
}

// New builds the engine. The output buffer it publishes into is created
// here and shared with the mixer.
func New(cfg *config.Config, table *wavegen.Table, triple *imagebuf.TripleBuffer,
	pan *imagebuf.PanGainBuffer, ring *rtlog.Ring) *Engine {

	e := &Engine{
		cfg:        cfg,
		table:      table,
		ring:       ring,
		triple:     triple,
		pan:        pan,
		out:        imagebuf.NewOutputBuffer(cfg.AudioBufferSize),
		notes:      make([]note, cfg.NumNotes),
		gray:       make([]float32, cfg.Pixels),
		prevGray:   make([]float32, cfg.Pixels),
		frozenGray: make([]float32, cfg.Pixels),
	}
	e.contrast.Store(math.Float32bits(1))
	for n := range e.notes {
		f := table.Notes[n].Freq
		g := math.Pow(f/cfg.DecayFreqRefHz, -cfg.DecayFreqBeta)
		e.notes[n].releaseGain = float32(clamp(g, releaseGainMin, releaseGainMax))
		e.notes[n].leftGain = float32(math.Sqrt2 / 2)
		e.notes[n].rightGain = float32(math.Sqrt2 / 2)
	}
	e.startWorkers()
	return e
}

// Output returns the double buffer the mixer consumes.
func (e *Engine) Output() *imagebuf.OutputBuffer { return e.out }

// SetContrast publishes the per-image contrast factor.
func (e *Engine) SetContrast(c float32) {
	e.contrast.Store(math.Float32bits(c))
}

// SetFreeze latches or releases the frozen image. Releasing starts a linear
// crossfade from the frozen grayscale back to the live one.
func (e *Engine) SetFreeze(on bool) {
	if on {
		if !e.frozen.Swap(true) {
			copy(e.frozenGray, e.gray)
		}
		e.fading.Store(false)
		return
	}
	if e.frozen.Swap(false) {
		e.fadeLen = int(e.cfg.FreezeFadeSeconds * float64(e.cfg.SampleRate))
		if e.fadeLen < 1 {
			e.fadeLen = 1
		}
		e.fadePos = 0
		e.fading.Store(true)
	}
}

// Frozen reports whether the engine is holding a frozen image.
func (e *Engine) Frozen() bool { return e.frozen.Load() }

// RenderBuffer produces one audio buffer into the output double buffer.
// Called in a loop by the engine's producer goroutine.
func (e *Engine) RenderBuffer() {
	slot, ok := e.out.WaitWritable(producerMaxSpins)
	if !ok {
		e.TimeoutCount++
		e.ring.Push(rtlog.Record{Level: rtlog.LevelWarn, Msg: "luxstral: output slot timeout", A: int64(e.TimeoutCount)})
	}

	e.consumeImage()
	e.updateTargets()
	e.updatePan()

	e.dispatch()
	e.reduceAndNormalize(slot)

	e.out.Publish()
}

// consumeImage refreshes the working grayscale from the triple buffer,
// honouring the freeze and crossfade state.
func (e *Engine) consumeImage() {
	planes := e.triple.Acquire()
	copy(e.prevGray, e.gray)

	if e.frozen.Load() {
		copy(e.gray, e.frozenGray)
		return
	}

	live := func(i int) float32 {
		return float32((0.299*float64(planes.R[i]) + 0.587*float64(planes.G[i]) + 0.114*float64(planes.B[i])) / 255.0)
	}

	if e.fading.Load() {
		x := float32(e.fadePos) / float32(e.fadeLen)
		if x >= 1 {
			e.fading.Store(false)
			x = 1
		}
		for i := range e.gray {
			e.gray[i] = e.frozenGray[i]*(1-x) + live(i)*x
		}
		e.fadePos += e.cfg.AudioBufferSize
		return
	}

	for i := range e.gray {
		e.gray[i] = live(i)
	}
}

// updateTargets maps grayscale to per-note target volumes: pixel averaging,
// optional intensity inversion, gamma, relative mode and the noise gate.
func (e *Engine) updateTargets() {
	c := e.cfg
	gamma := c.GammaValue
	for n := range e.notes {
		lo := n * c.PixelsPerNote
		hi := lo + c.PixelsPerNote
		var sum float32
		for i := lo; i < hi; i++ {
			sum += e.gray[i]
		}
		t := sum / float32(c.PixelsPerNote)
		if c.InvertIntensity {
			t = 1 - t
		}
		if c.RelativeMode {
			var prev float32
			for i := lo; i < hi; i++ {
				prev += e.prevGray[i]
			}
			prev /= float32(c.PixelsPerNote)
			if c.InvertIntensity {
				prev = 1 - prev
			}
			d := t - prev
			if d < 0 {
				d = -d
			}
			t = d
		}
		if gamma != 1.0 {
			t = float32(math.Pow(float64(t), gamma))
		}
		if float64(t) < c.NoiseGateThreshold {
			t = 0
		}
		e.notes[n].targetVolume = clamp32(t, 0, 1)
	}
}

func (e *Engine) updatePan() {
	left, right, _ := e.pan.Read()
	stereo := e.cfg.StereoEnabled
	for n := range e.notes {
		if stereo && n < len(left) {
			e.notes[n].leftGain = left[n]
			e.notes[n].rightGain = right[n]
		}
	}
}

// slewCoeffs returns the per-buffer base coefficients.
func (e *Engine) slewCoeffs() (alphaUp, alphaDown float64) {
	fs := float64(e.cfg.SampleRate)
	tauUp := clamp(e.cfg.TauUpBaseMs/1000, tauMinS, tauMaxS)
	tauDown := clamp(e.cfg.TauDownBaseMs/1000, tauMinS, tauMaxS)
	alphaUp = 1 - math.Exp(-1/(tauUp*fs))
	alphaDown = 1 - math.Exp(-1/(tauDown*fs))
	return alphaUp, alphaDown
}

// reduceAndNormalize sums worker results into the output slot and applies
// the volume normalisation, contrast factor and hard clip.
func (e *Engine) reduceAndNormalize(slot *imagebuf.OutputSlot) {
	b := e.cfg.AudioBufferSize
	div := float32(e.cfg.SummationDivisor)
	contrast := math.Float32frombits(e.contrast.Load())

	for i := 0; i < b; i++ {
		var sumL, sumR, sumVol, maxVol float32
		for _, w := range e.workers {
			sumL += w.left[i]
			sumR += w.right[i]
			sumVol += w.sumVol[i]
			if w.maxVol[i] > maxVol {
				maxVol = w.maxVol[i]
			}
		}
		sumL /= div
		sumR /= div

		var l, r float32
		if sumVol > 0 {
			scale := maxVol / (sumVol * waveScale)
			l = sumL * scale
			r = sumR * scale
		}
		l *= contrast
		r *= contrast
		slot.L[i] = clamp32(l, -1, 1)
		slot.R[i] = clamp32(r, -1, 1)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp32(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
