// Package preprocess turns a raw RGB scan line into the data every synthesis
// engine consumes: normalised grayscale, a contrast factor, per-note stereo
// pan gains, per-zone DMX colour averages, and the per-harmonic arrays used
// by the polyphonic engine. One call produces one internally consistent
// snapshot; it is published whole, never field by field.
package preprocess

import (
	"math"
	"time"

	"github.com/sp3ctra/sp3ctra/internal/config"
)

// Data is one preprocessed snapshot. All arrays describe the same scan line.
type Data struct {
	Gray           []float32 // [0,1], one per pixel
	ContrastFactor float32

	PanPosition []float32 // [-1,+1], one per note
	LeftGain    []float32
	RightGain   []float32

	DMXR, DMXG, DMXB []float32 // one mean per zone

	FFTMagnitudes   []float32 // one per harmonic slot
	FFTLeftGain     []float32
	FFTRightGain    []float32
	Harmonicity     []float32
	DetuneCents     []float32
	InharmonicRatio []float32

	TimestampUS int64
}

// Processor computes snapshots. Safe for use by a single goroutine.
type Processor struct {
	cfg      *config.Config
	sigmaMax float64
}

// New builds a processor for the configured line geometry.
func New(cfg *config.Config) *Processor {
	// Maximum possible standard deviation of an 8-bit channel normalised
	// to [0,1]: half the amplitude resolution.
	return &Processor{cfg: cfg, sigmaMax: 0.5}
}

// NewData allocates a snapshot sized for the processor's configuration.
func (p *Processor) NewData() *Data {
	c := p.cfg
	m := c.Polyphonic.MaxOscillators
	z := c.DMX.NumSpots
	return &Data{
		Gray:            make([]float32, c.Pixels),
		PanPosition:     make([]float32, c.NumNotes),
		LeftGain:        make([]float32, c.NumNotes),
		RightGain:       make([]float32, c.NumNotes),
		DMXR:            make([]float32, z),
		DMXG:            make([]float32, z),
		DMXB:            make([]float32, z),
		FFTMagnitudes:   make([]float32, m),
		FFTLeftGain:     make([]float32, m),
		FFTRightGain:    make([]float32, m),
		Harmonicity:     make([]float32, m),
		DetuneCents:     make([]float32, m),
		InharmonicRatio: make([]float32, m),
	}
}

// Process fills dst from the given RGB planes. Total on any 8-bit input.
func (p *Processor) Process(dst *Data, r, g, b []byte) {
	p.grayscale(dst, r, g, b)
	dst.ContrastFactor = p.contrast(dst.Gray)
	p.notePan(dst, r, g, b)
	p.dmxZones(dst, r, g, b)
	p.harmonics(dst, r, g, b)
	dst.TimestampUS = time.Now().UnixMicro()
}

func (p *Processor) grayscale(dst *Data, r, g, b []byte) {
	n := min(len(dst.Gray), min(len(r), min(len(g), len(b))))
	for i := 0; i < n; i++ {
		dst.Gray[i] = float32((0.299*float64(r[i]) + 0.587*float64(g[i]) + 0.114*float64(b[i])) / 255.0)
	}
	for i := n; i < len(dst.Gray); i++ {
		dst.Gray[i] = 0
	}
}

// contrast estimates the line's dynamic range from a strided standard
// deviation. Flat or degenerate lines map to the configured minimum; any
// non-finite intermediate maps to full contrast.
func (p *Processor) contrast(gray []float32) float32 {
	stride := p.cfg.ContrastStride
	var sum, sumSq float64
	count := 0
	for i := 0; i < len(gray); i += stride {
		v := float64(gray[i])
		sum += v
		sumSq += v * v
		count++
	}
	if count < 2 {
		return 1
	}
	mean := sum / float64(count)
	variance := sumSq/float64(count) - mean*mean
	if variance < 0 {
		variance = 0
	}
	sigma := math.Sqrt(variance)
	ratio := sigma / p.sigmaMax
	c := p.cfg.ContrastMin + (1-p.cfg.ContrastMin)*math.Pow(ratio, p.cfg.ContrastAdjustmentPower)
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return 1
	}
	return float32(clamp(c, p.cfg.ContrastMin, 1))
}

// colorTemperature scores a mean colour: negative is warm (pans left),
// positive is cold (pans right).
func (p *Processor) colorTemperature(r, g, b float64) float64 {
	c := p.cfg
	t := c.StereoBlueRedWeight*(b-r) + c.StereoCyanYellowWeight*((g+b)/2-(r+g)/2)
	t *= c.StereoTemperatureAmp
	if exp := c.StereoCurveExponent; exp != 1.0 {
		sign := 1.0
		if t < 0 {
			sign = -1
		}
		t = sign * math.Pow(math.Abs(t), exp)
	}
	return clamp(t, -1, 1)
}

// panGains maps a pan position to constant-power gains: the quarter circle
// angle (pan+1)·π/4, left = cos, right = sin.
func panGains(pan float64) (left, right float32) {
	angle := (pan + 1) * math.Pi / 4
	return float32(math.Cos(angle)), float32(math.Sin(angle))
}

func (p *Processor) notePan(dst *Data, r, g, b []byte) {
	c := p.cfg
	for n := 0; n < c.NumNotes; n++ {
		if !c.StereoEnabled {
			dst.PanPosition[n] = 0
			dst.LeftGain[n], dst.RightGain[n] = panGains(0)
			continue
		}
		lo := n * c.PixelsPerNote
		hi := lo + c.PixelsPerNote
		mr, mg, mb := meanRGB(r, g, b, lo, hi)
		pan := p.colorTemperature(mr, mg, mb)
		dst.PanPosition[n] = float32(pan)
		dst.LeftGain[n], dst.RightGain[n] = panGains(pan)
	}
}

func (p *Processor) dmxZones(dst *Data, r, g, b []byte) {
	z := len(dst.DMXR)
	if z == 0 {
		return
	}
	width := p.cfg.Pixels / z
	if width < 1 {
		width = 1
	}
	for i := 0; i < z; i++ {
		lo := i * width
		hi := lo + width
		if i == z-1 {
			hi = p.cfg.Pixels
		}
		mr, mg, mb := meanRGB(r, g, b, lo, hi)
		dst.DMXR[i] = float32(mr)
		dst.DMXG[i] = float32(mg)
		dst.DMXB[i] = float32(mb)
	}
}

// harmonics publishes the polyphonic engine's per-harmonic arrays. The line
// is split into one contiguous band per harmonic slot: band brightness gives
// the magnitude, band colour temperature gives pan and harmonicity, and the
// inharmonic ratios follow a stiff-string law whose stiffness grows as
// harmonicity falls.
func (p *Processor) harmonics(dst *Data, r, g, b []byte) {
	c := p.cfg
	m := len(dst.FFTMagnitudes)
	if m == 0 {
		return
	}
	width := c.Pixels / m
	if width < 1 {
		width = 1
	}
	for i := 0; i < m; i++ {
		lo := i * width
		hi := lo + width
		if hi > c.Pixels {
			hi = c.Pixels
		}
		var gray float64
		count := 0
		for j := lo; j < hi && j < len(dst.Gray); j++ {
			gray += float64(dst.Gray[j])
			count++
		}
		if count > 0 {
			gray /= float64(count)
		}
		dst.FFTMagnitudes[i] = float32(gray)

		mr, mg, mb := meanRGB(r, g, b, lo, hi)
		temp := p.colorTemperature(mr, mg, mb)
		dst.FFTLeftGain[i], dst.FFTRightGain[i] = panGains(temp)

		h := clamp(math.Pow((1-temp)/2, c.Polyphonic.HarmonicityCurveExp), 0, 1)
		dst.Harmonicity[i] = float32(h)

		// Alternating detune keeps the partials spread symmetrically.
		sign := 1.0
		if i%2 == 1 {
			sign = -1
		}
		dst.DetuneCents[i] = float32(sign * (1 - h) * c.Polyphonic.DetuneMaxCents * float64(i+1) / float64(m))

		stiffness := 0.0004 + (1-h)*0.004
		k := float64(i + 1)
		dst.InharmonicRatio[i] = float32(k * math.Sqrt(1+stiffness*k*k))
	}
}

func meanRGB(r, g, b []byte, lo, hi int) (mr, mg, mb float64) {
	count := 0
	for i := lo; i < hi; i++ {
		if i >= len(r) || i >= len(g) || i >= len(b) {
			break
		}
		mr += float64(r[i]) / 255
		mg += float64(g[i]) / 255
		mb += float64(b[i]) / 255
		count++
	}
	if count > 0 {
		mr /= float64(count)
		mg /= float64(count)
		mb /= float64(count)
	}
	return mr, mg, mb
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
