package effects

// Reverb is the shared send reverb: eight damped combs and four allpass
// filters per side behind a common pre-delay, with a width control blending
// the two sides mid/side. Parameters are cached in the setters; the mixer
// re-reads its control values periodically and pushes changes here.
type Reverb struct {
	sampleRate int

	roomSize float32
	damping  float32
	width    float32
	mix      float32

	predelay    []float32
	predelayPos int
	predelayLen int

	combsL   [8]dampedComb
	combsR   [8]dampedComb
	allpassL [4]allpassFilter
	allpassR [4]allpassFilter
}

type dampedComb struct {
	buf   []float32
	pos   int
	fb    float32
	damp  float32
	store float32
}

type allpassFilter struct {
	buf []float32
	pos int
	fb  float32
}

// Delay lengths in samples at 44.1 kHz, scaled to the actual rate.
// The right channel is offset to decorrelate the sides.
var (
	combTunings    = [8]int{1116, 1188, 1277, 1356, 1422, 1491, 1557, 1617}
	allpassTunings = [4]int{556, 441, 341, 225}
)

const stereoSpread = 23

// NewReverb creates the reverb. roomSize, damping, width and mix are all
// in [0,1]; preDelayMs is the input delay in milliseconds.
func NewReverb(sampleRate int, roomSize, damping, width, mix float32, preDelayMs float64) *Reverb {
	r := &Reverb{sampleRate: sampleRate}
	scale := float64(sampleRate) / 44100.0
	for i := range r.combsL {
		r.combsL[i].buf = make([]float32, maxInt(int(float64(combTunings[i])*scale), 1))
		r.combsR[i].buf = make([]float32, maxInt(int(float64(combTunings[i]+stereoSpread)*scale), 1))
	}
	for i := range r.allpassL {
		r.allpassL[i].buf = make([]float32, maxInt(int(float64(allpassTunings[i])*scale), 1))
		r.allpassL[i].fb = 0.5
		r.allpassR[i].buf = make([]float32, maxInt(int(float64(allpassTunings[i]+stereoSpread)*scale), 1))
		r.allpassR[i].fb = 0.5
	}
	r.SetRoomSize(roomSize)
	r.SetDamping(damping)
	r.SetWidth(width)
	r.SetMix(mix)
	r.SetPreDelay(preDelayMs)
	return r
}

// SetRoomSize controls decay time via the comb feedback.
func (r *Reverb) SetRoomSize(size float32) {
	r.roomSize = clamp(size, 0, 1)
	fb := 0.7 + r.roomSize*0.28
	for i := range r.combsL {
		r.combsL[i].fb = fb
		r.combsR[i].fb = fb
	}
}

// SetDamping controls high-frequency absorption inside the combs.
func (r *Reverb) SetDamping(d float32) {
	r.damping = clamp(d, 0, 1)
	for i := range r.combsL {
		r.combsL[i].damp = r.damping
		r.combsR[i].damp = r.damping
	}
}

// SetWidth sets the stereo image of the wet signal: 0 is mono, 1 full.
func (r *Reverb) SetWidth(w float32) {
	r.width = clamp(w, 0, 1)
}

// SetMix sets the wet/dry crossfade. At 0 the reverb is bypassed.
func (r *Reverb) SetMix(m float32) {
	r.mix = clamp(m, 0, 1)
}

// SetPreDelay sets the input delay in milliseconds. Changing the length
// reallocates and clears the line.
func (r *Reverb) SetPreDelay(ms float64) {
	n := int(ms * float64(r.sampleRate) / 1000.0)
	if n < 1 {
		n = 1
	}
	if n != r.predelayLen {
		r.predelay = make([]float32, n)
		r.predelayLen = n
		r.predelayPos = 0
	}
}

// Mix returns the current wet/dry setting.
func (r *Reverb) Mix() float32 { return r.mix }

// Process runs one stereo sample through the reverb and returns the
// wet/dry blend. Bypassed entirely when the mix is zero.
func (r *Reverb) Process(inL, inR float32) (float32, float32) {
	if r.mix <= 0 {
		return inL, inR
	}
	wetL, wetR := r.wet(inL, inR)
	dry := 1 - r.mix
	return inL*dry + wetL*r.mix, inR*dry + wetR*r.mix
}

// ProcessWet runs one stereo sample through the reverb and returns only
// the wet signal scaled by the mix, for send-style routing.
func (r *Reverb) ProcessWet(inL, inR float32) (float32, float32) {
	if r.mix <= 0 {
		return 0, 0
	}
	wetL, wetR := r.wet(inL, inR)
	return wetL * r.mix, wetR * r.mix
}

func (r *Reverb) wet(inL, inR float32) (float32, float32) {
	mono := (inL + inR) * 0.5
	r.predelay[r.predelayPos] = mono
	r.predelayPos++
	if r.predelayPos >= r.predelayLen {
		r.predelayPos = 0
	}
	delayed := r.predelay[r.predelayPos]

	var wetL, wetR float32
	for i := range r.combsL {
		wetL += r.combsL[i].process(delayed)
		wetR += r.combsR[i].process(delayed)
	}
	wetL *= 0.125
	wetR *= 0.125
	for i := range r.allpassL {
		wetL = r.allpassL[i].process(wetL)
		wetR = r.allpassR[i].process(wetR)
	}

	mid := (wetL + wetR) * 0.5
	side := (wetL - wetR) * 0.5 * r.width
	return mid + side, mid - side
}

// Reset clears all delay lines.
func (r *Reverb) Reset() {
	for i := range r.predelay {
		r.predelay[i] = 0
	}
	r.predelayPos = 0
	for i := range r.combsL {
		r.combsL[i].reset()
		r.combsR[i].reset()
	}
	for i := range r.allpassL {
		r.allpassL[i].reset()
		r.allpassR[i].reset()
	}
}

func (c *dampedComb) process(in float32) float32 {
	out := c.buf[c.pos]
	c.store = out*(1-c.damp) + c.store*c.damp
	c.buf[c.pos] = in + c.store*c.fb
	c.pos++
	if c.pos >= len(c.buf) {
		c.pos = 0
	}
	return out
}

func (c *dampedComb) reset() {
	for i := range c.buf {
		c.buf[i] = 0
	}
	c.pos = 0
	c.store = 0
}

func (a *allpassFilter) process(in float32) float32 {
	bufOut := a.buf[a.pos]
	out := -in + bufOut
	a.buf[a.pos] = in + bufOut*a.fb
	a.pos++
	if a.pos >= len(a.buf) {
		a.pos = 0
	}
	return out
}

func (a *allpassFilter) reset() {
	for i := range a.buf {
		a.buf[i] = 0
	}
	a.pos = 0
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
