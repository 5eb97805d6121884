package audioio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// EbitenSink streams the processor through Ebiten's audio context. Used
// where PortAudio is unavailable; the context pulls interleaved f32le
// stereo from a StreamReader.
type EbitenSink struct {
	player *ebitaudio.Player
	reader *StreamReader
}

// StreamReader adapts a Processor to the io.Reader the Ebiten player
// consumes. The processor is always invoked with whole engine buffers
// of frames samples regardless of the read size the player asks for.
type StreamReader struct {
	mu      sync.Mutex
	proc    Processor
	capture *Capture
	frames  int

	l, r    []float32
	pending int // samples rendered but not yet handed out
	pos     int
}

func NewStreamReader(proc Processor, frames int, capture *Capture) *StreamReader {
	return &StreamReader{
		proc:    proc,
		capture: capture,
		frames:  frames,
		l:       make([]float32, frames),
		r:       make([]float32, frames),
	}
}

func (s *StreamReader) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := len(p) / 8
	if want == 0 {
		return 0, nil
	}
	done := 0
	for done < want {
		if s.pending == 0 {
			s.proc.Process(s.l, s.r)
			if s.capture != nil {
				s.capture.Push(s.l, s.r)
			}
			s.pending = s.frames
			s.pos = 0
		}
		n := want - done
		if n > s.pending {
			n = s.pending
		}
		for i := 0; i < n; i++ {
			off := (done + i) * 8
			binary.LittleEndian.PutUint32(p[off:], math.Float32bits(s.l[s.pos+i]))
			binary.LittleEndian.PutUint32(p[off+4:], math.Float32bits(s.r[s.pos+i]))
		}
		s.pos += n
		s.pending -= n
		done += n
	}
	return done * 8, nil
}

func (s *StreamReader) Close() error { return nil }

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioSampleRate  int
)

func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioSampleRate != sampleRate {
		return nil, fmt.Errorf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

// NewEbitenSink creates the fallback sink. capture may be nil.
func NewEbitenSink(sampleRate, frames int, proc Processor, capture *Capture) (*EbitenSink, error) {
	ctx, err := sharedAudioContext(sampleRate)
	if err != nil {
		return nil, err
	}
	reader := NewStreamReader(proc, frames, capture)
	pl, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return nil, err
	}
	return &EbitenSink{player: pl, reader: reader}, nil
}

func (s *EbitenSink) Start() error {
	s.player.Play()
	return nil
}

// Fatal returns nil: the reader drives the player, so a framing
// mismatch cannot occur on this backend.
func (s *EbitenSink) Fatal() <-chan error { return nil }

func (s *EbitenSink) Stop() error {
	s.player.Pause()
	if err := s.player.Close(); err != nil {
		return err
	}
	return s.reader.Close()
}
