package luxstral

import (
	"math"
	"sync"
)

// worker renders a contiguous third of the note bank into private buffers.
// Workers are persistent goroutines woken once per audio buffer; nothing is
// shared between them except the engine's read-only state for the round.
type worker struct {
	lo, hi int
	kick   chan struct{}

	left   []float32
	right  []float32
	sumVol []float32
	maxVol []float32
}

func (e *Engine) startWorkers() {
	b := e.cfg.AudioBufferSize
	per := len(e.notes) / numWorkers
	e.wg = &sync.WaitGroup{}
	for i := 0; i < numWorkers; i++ {
		lo := i * per
		hi := lo + per
		if i == numWorkers-1 {
			hi = len(e.notes)
		}
		w := &worker{
			lo: lo, hi: hi,
			kick:   make(chan struct{}, 1),
			left:   make([]float32, b),
			right:  make([]float32, b),
			sumVol: make([]float32, b),
			maxVol: make([]float32, b),
		}
		e.workers[i] = w
		go e.workerLoop(w)
	}
}

func (e *Engine) workerLoop(w *worker) {
	for range w.kick {
		e.renderRange(w)
		e.wg.Done()
	}
}

// dispatch wakes every worker and waits for the round to finish. The two
// synchronisation points stand in for the start and end barriers.
func (e *Engine) dispatch() {
	e.wg.Add(numWorkers)
	for _, w := range e.workers {
		w.kick <- struct{}{}
	}
	e.wg.Wait()
}

// Stop terminates the worker goroutines. The engine must not render again.
func (e *Engine) Stop() {
	if e.closed {
		return
	}
	e.closed = true
	for _, w := range e.workers {
		close(w.kick)
	}
}

// renderRange runs the per-note synthesis loop over the worker's range:
// waveform advance by integer stride, phase-weighted envelope slew with
// frequency-weighted release, and stereo accumulation.
func (e *Engine) renderRange(w *worker) {
	b := e.cfg.AudioBufferSize
	alphaUp, alphaDown := e.slewCoeffs()
	weightExp := e.cfg.VolumeWeightExp
	stereo := e.cfg.StereoEnabled

	for i := 0; i < b; i++ {
		w.left[i] = 0
		w.right[i] = 0
		w.sumVol[i] = 0
		w.maxVol[i] = 0
	}

	for n := w.lo; n < w.hi; n++ {
		nt := &e.notes[n]
		tn := e.table.Notes[n]
		target := nt.targetVolume
		v := float64(nt.currentVolume)
		idx := nt.currentIdx

		baseDown := alphaDown * float64(nt.releaseGain)

		for i := 0; i < b; i++ {
			idx += tn.OctaveCoeff
			// The stride can exceed one period on the top octaves of a
			// wide line, so a single subtraction is not enough.
			for idx >= tn.AreaSize {
				idx -= tn.AreaSize
			}
			s := float64(e.table.Data[tn.Start+idx])

			base := alphaUp
			eps := phaseEpsAttack
			if float64(target) < v {
				base = baseDown
				eps = phaseEpsRelease
			}

			// Amplitude moves preferentially near zero crossings.
			weight := 1 - s*s
			if weight < eps {
				weight = eps
			}
			alpha := clamp(base*weight, alphaMin, 1)
			v += alpha * (float64(target) - v)
			if v < 0 {
				v = 0
			} else if v > 1 {
				v = 1
			}

			sample := float32(s * v)
			vol := float32(v)
			if weightExp != 1.0 {
				vol = float32(math.Pow(v, weightExp))
			}
			w.sumVol[i] += vol
			if vol > w.maxVol[i] {
				w.maxVol[i] = vol
			}
			if stereo {
				w.left[i] += sample * nt.leftGain
				w.right[i] += sample * nt.rightGain
			} else {
				w.left[i] += sample
				w.right[i] += sample
			}
		}

		nt.currentVolume = float32(v)
		nt.currentIdx = idx
	}
}
