package effects

// Limiter soft-clips the master bus. Below the threshold the signal
// passes unchanged; inside the knee the gain curve bends smoothly toward
// the ceiling so peaks compress instead of folding over at full scale.
type Limiter struct {
	threshold float32
	knee      float32
}

// NewLimiter creates a soft limiter. threshold is the level where
// limiting starts and knee the width of the transition region, both as
// linear sample values.
func NewLimiter(threshold, knee float32) *Limiter {
	l := &Limiter{}
	l.SetThreshold(threshold)
	l.SetKnee(knee)
	return l
}

// SetThreshold moves the onset of limiting.
func (lm *Limiter) SetThreshold(t float32) {
	lm.threshold = clamp(t, 0.1, 1)
}

// SetKnee sets the width of the soft transition above the threshold.
func (lm *Limiter) SetKnee(k float32) {
	lm.knee = clamp(k, 0.01, 1)
}

func (lm *Limiter) Process(l, r float32) (float32, float32) {
	return lm.shape(l), lm.shape(r)
}

func (lm *Limiter) shape(v float32) float32 {
	neg := v < 0
	if neg {
		v = -v
	}
	if v > lm.threshold {
		// Over the threshold the excess is squashed by a rational
		// curve that approaches threshold+knee asymptotically.
		excess := v - lm.threshold
		v = lm.threshold + lm.knee*excess/(excess+lm.knee)
	}
	if neg {
		return -v
	}
	return v
}

// Reset is a no-op, the limiter is stateless.
func (lm *Limiter) Reset() {}
