package luxsynth

// Envelope states.
const (
	EnvIdle = iota
	EnvAttack
	EnvDecay
	EnvSustain
	EnvRelease
)

// ADSR is a linear envelope with per-sample precomputed rates. Settings can
// be rewritten mid-flight: the rates are then recomputed from the remaining
// segment time so the output stays continuous.
type ADSR struct {
	attackS  float64
	decayS   float64
	sustain  float64
	releaseS float64

	sampleRate float64

	state          int
	output         float64
	samplesInState int

	attackRate  float64
	decayRate   float64
	releaseRate float64
}

// NewADSR creates an idle envelope.
func NewADSR(attackS, decayS, sustain, releaseS, sampleRate float64) *ADSR {
	e := &ADSR{sampleRate: sampleRate}
	e.SetSettings(attackS, decayS, sustain, releaseS)
	return e
}

func (e *ADSR) recalcFull() {
	e.attackRate = rate(1.0, e.attackS, e.sampleRate)
	e.decayRate = rate(1.0-e.sustain, e.decayS, e.sampleRate)
	e.releaseRate = rate(e.sustain, e.releaseS, e.sampleRate)
}

func rate(delta, seconds, fs float64) float64 {
	if seconds <= 0 {
		return 1
	}
	return delta / (seconds * fs)
}

// SetSettings replaces the envelope parameters without touching a running
// segment. Use UpdateSettingsAndRecalculateRates to retarget mid-flight.
func (e *ADSR) SetSettings(attackS, decayS, sustain, releaseS float64) {
	e.attackS = attackS
	e.decayS = decayS
	e.sustain = clampF(sustain, 0, 1)
	e.releaseS = releaseS
	e.recalcFull()
}

// UpdateSettingsAndRecalculateRates applies new parameters to an envelope
// that may be mid-segment. The active segment's rate is recomputed from the
// time already spent in it and the current output, so there is no step.
func (e *ADSR) UpdateSettingsAndRecalculateRates(attackS, decayS, sustain, releaseS float64) {
	e.attackS = attackS
	e.decayS = decayS
	e.sustain = clampF(sustain, 0, 1)
	e.releaseS = releaseS
	e.recalcFull()

	elapsed := float64(e.samplesInState) / e.sampleRate
	switch e.state {
	case EnvAttack:
		remaining := e.attackS - elapsed
		if remaining <= 0 {
			e.attackRate = 1
		} else {
			e.attackRate = (1.0 - e.output) / (remaining * e.sampleRate)
		}
	case EnvDecay:
		remaining := e.decayS - elapsed
		if remaining <= 0 {
			e.decayRate = 1
		} else {
			e.decayRate = (e.output - e.sustain) / (remaining * e.sampleRate)
		}
	case EnvRelease:
		remaining := e.releaseS - elapsed
		if remaining <= 0 {
			e.releaseRate = 1
		} else {
			e.releaseRate = e.output / (remaining * e.sampleRate)
		}
	}
}

// Trigger starts the attack segment from the current output level.
func (e *ADSR) Trigger() {
	e.state = EnvAttack
	e.samplesInState = 0
}

// Release starts the release segment. The rate is derived from the current
// output so a release from mid-attack is as long as one from sustain.
func (e *ADSR) Release() {
	if e.state == EnvIdle || e.state == EnvRelease {
		return
	}
	e.releaseRate = rate(e.output, e.releaseS, e.sampleRate)
	e.state = EnvRelease
	e.samplesInState = 0
}

// Reset forces the envelope to idle at zero output.
func (e *ADSR) Reset() {
	e.state = EnvIdle
	e.output = 0
	e.samplesInState = 0
}

// State returns the current segment.
func (e *ADSR) State() int { return e.state }

// Output returns the current level without advancing.
func (e *ADSR) Output() float64 { return e.output }

// Process advances one sample and returns the new level.
func (e *ADSR) Process() float64 {
	switch e.state {
	case EnvAttack:
		e.output += e.attackRate
		if e.output >= 1 {
			e.output = 1
			e.state = EnvDecay
			e.samplesInState = 0
			return e.output
		}
	case EnvDecay:
		e.output -= e.decayRate
		if e.output <= e.sustain {
			e.output = e.sustain
			e.state = EnvSustain
			e.samplesInState = 0
			return e.output
		}
	case EnvSustain:
		e.output = e.sustain
	case EnvRelease:
		e.output -= e.releaseRate
		if e.output <= 0 {
			e.output = 0
			e.state = EnvIdle
			e.samplesInState = 0
			return e.output
		}
	default:
		return 0
	}
	e.samplesInState++
	return e.output
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
