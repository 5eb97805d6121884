package effects

import "math"

// EQ3Band is a three-band master equalizer built from two one-pole
// crossovers. Gains are linear, 1.0 is unity. When disabled it passes
// audio through but keeps the filter state running so re-enabling does
// not click.
type EQ3Band struct {
	enabled  bool
	lowGain  float32
	midGain  float32
	highGain float32
	lpAlpha  float32
	hpAlpha  float32
	lpL, lpR float32 // lowpass state
	hpL, hpR float32 // highpass state
}

// NewEQ3Band creates the EQ. lowFreq is the low/mid crossover and
// highFreq the mid/high crossover, both in Hz.
func NewEQ3Band(sampleRate int, lowGain, midGain, highGain, lowFreq, highFreq float32) *EQ3Band {
	lpRC := 1.0 / (2.0 * math.Pi * float64(lowFreq))
	hpRC := 1.0 / (2.0 * math.Pi * float64(highFreq))
	dt := 1.0 / float64(sampleRate)
	return &EQ3Band{
		enabled:  true,
		lowGain:  lowGain,
		midGain:  midGain,
		highGain: highGain,
		lpAlpha:  float32(dt / (lpRC + dt)),
		hpAlpha:  float32(dt / (hpRC + dt)),
	}
}

// SetGains updates the per-band gains.
func (eq *EQ3Band) SetGains(low, mid, high float32) {
	eq.lowGain = clamp(low, 0, 4)
	eq.midGain = clamp(mid, 0, 4)
	eq.highGain = clamp(high, 0, 4)
}

// SetEnabled toggles the EQ in or out of the signal path.
func (eq *EQ3Band) SetEnabled(on bool) { eq.enabled = on }

func (eq *EQ3Band) Process(l, r float32) (float32, float32) {
	// Low band
	eq.lpL += eq.lpAlpha * (l - eq.lpL)
	eq.lpR += eq.lpAlpha * (r - eq.lpR)
	lowL, lowR := eq.lpL, eq.lpR

	// High band
	eq.hpL += eq.hpAlpha * (l - eq.hpL)
	eq.hpR += eq.hpAlpha * (r - eq.hpR)
	highL := l - eq.hpL
	highR := r - eq.hpR

	if !eq.enabled {
		return l, r
	}

	// Mid band is whatever the crossovers left over.
	midL := l - lowL - highL
	midR := r - lowR - highR

	return lowL*eq.lowGain + midL*eq.midGain + highL*eq.highGain,
		lowR*eq.lowGain + midR*eq.midGain + highR*eq.highGain
}

func (eq *EQ3Band) Reset() {
	eq.lpL, eq.lpR = 0, 0
	eq.hpL, eq.hpR = 0, 0
}
