// Package wavegen builds the shared sine wave table used by the additive
// engine. One period per comma of the reference octave is stored once;
// higher octaves reuse the same samples through an integer stride, so the
// table stays compact regardless of how many octaves the sensor line spans.
package wavegen

import (
	"fmt"
	"math"

	"github.com/sp3ctra/sp3ctra/internal/config"
)

// Note describes one oscillator of the bank. All fields are immutable after
// Build; phase state lives with the engine that advances it.
type Note struct {
	Freq        float64
	AreaSize    int // samples per period at the reference octave
	Start       int // offset of this note's period in the shared table
	OctaveCoeff int // integer stride: 2^octave
}

// Table is the immutable wave table.
type Table struct {
	Data  []float32
	Notes []Note
}

// Build constructs the table from the configured frequency range. The
// reference octave holds commasPerSemitone*12 notes; every higher octave
// reuses the same periods with a doubled stride.
func Build(cfg *config.Config) (*Table, error) {
	commasPerOctave := cfg.CommasPerSemitone * 12
	if commasPerOctave < 1 {
		return nil, fmt.Errorf("wavegen: commas per octave %d", commasPerOctave)
	}
	numNotes := cfg.NumNotes
	fs := float64(cfg.SampleRate)

	t := &Table{Notes: make([]Note, 0, numNotes)}

	// Reference octave: one stored period per comma.
	starts := make([]int, commasPerOctave)
	areas := make([]int, commasPerOctave)
	freqs := make([]float64, commasPerOctave)
	for c := 0; c < commasPerOctave; c++ {
		freq := cfg.LowFrequency * math.Pow(2, float64(c)/float64(commasPerOctave))
		area := int(math.Round(fs / freq))
		if area < 2 {
			area = 2
		}
		starts[c] = len(t.Data)
		areas[c] = area
		freqs[c] = freq
		for i := 0; i < area; i++ {
			t.Data = append(t.Data, float32(math.Sin(2*math.Pi*float64(i)/float64(area))))
		}
	}

	for n := 0; n < numNotes; n++ {
		octave := n / commasPerOctave
		comma := n % commasPerOctave
		coeff := 1 << octave
		freq := freqs[comma] * float64(coeff)
		if freq >= fs/2 {
			freq = fs / 2
		}
		t.Notes = append(t.Notes, Note{
			Freq:        freq,
			AreaSize:    areas[comma],
			Start:       starts[comma],
			OctaveCoeff: coeff,
		})
	}
	return t, nil
}

// Sample reads one table sample for note n at phase index idx. The caller
// owns idx and must advance it by OctaveCoeff modulo AreaSize.
func (t *Table) Sample(n, idx int) float32 {
	note := &t.Notes[n]
	return t.Data[note.Start+idx]
}
