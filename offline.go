package sp3ctra

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
)

// RenderFrames drives the pipeline synchronously for offline use: each
// engine renders one buffer, the mixer consumes it, repeat until frames
// samples exist. The engine must have been created with WithoutAudio
// and must not be Started; the producers run inline here.
func (e *Engine) RenderFrames(frames int) (left, right []float32, err error) {
	if e.sink != nil {
		return nil, nil, errors.New("sp3ctra: offline render needs WithoutAudio")
	}
	b := e.cfg.AudioBufferSize
	left = make([]float32, 0, frames)
	right = make([]float32, 0, frames)
	outL := make([]float32, b)
	outR := make([]float32, b)

	for len(left) < frames {
		e.additive.RenderBuffer()
		e.polyphonic.RenderBuffer()
		e.wavetable.RenderBuffer()
		e.mixer.Process(outL, outR)
		left = append(left, outL...)
		right = append(right, outR...)
	}
	return left[:frames], right[:frames], nil
}

// RenderWAV renders seconds of audio offline and writes a float32 WAV.
func (e *Engine) RenderWAV(path string, seconds float64) error {
	frames := int(float64(e.cfg.SampleRate) * seconds)
	left, right, err := e.RenderFrames(frames)
	if err != nil {
		return err
	}
	interleaved := make([]float32, frames*2)
	for i := 0; i < frames; i++ {
		interleaved[i*2] = left[i]
		interleaved[i*2+1] = right[i]
	}
	return os.WriteFile(path, EncodeWAVFloat32LE(interleaved, e.cfg.SampleRate, 2), 0o644)
}

// EncodeWAVFloat32LE encodes interleaved samples as a 32-bit float WAV.
func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4
	chunkSize := 36 + dataSize
	out := make([]byte, 44+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(chunkSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}
