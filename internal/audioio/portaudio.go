package audioio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// PortAudioSink runs the processor on PortAudio's realtime callback
// with non-interleaved float32 buffers.
type PortAudioSink struct {
	stream  *portaudio.Stream
	proc    Processor
	capture *Capture
	frames  int

	// badFrames counts callbacks whose frame count did not match the
	// configured buffer size. The first mismatch is fatal: the sink
	// outputs silence from then on and reports through fatal.
	badFrames atomic.Uint64
	failed    atomic.Bool
	fatal     chan error

	stopOnce sync.Once
	stopErr  error
}

// NewPortAudioSink initialises PortAudio and opens the default output
// device. capture may be nil.
func NewPortAudioSink(sampleRate, frames int, proc Processor, capture *Capture) (*PortAudioSink, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	s := &PortAudioSink{proc: proc, capture: capture, frames: frames, fatal: make(chan error, 1)}
	stream, err := portaudio.OpenDefaultStream(0, 2, float64(sampleRate), frames, s.callback)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("portaudio open: %w", err)
	}
	s.stream = stream
	return s, nil
}

func (s *PortAudioSink) callback(out [][]float32) {
	l, r := out[0], out[1]
	if len(l) != s.frames {
		s.badFrames.Add(1)
		if s.failed.CompareAndSwap(false, true) {
			select {
			case s.fatal <- fmt.Errorf("portaudio callback: %d frames, configured %d", len(l), s.frames):
			default:
			}
		}
	}
	if s.failed.Load() {
		for i := range l {
			l[i] = 0
			r[i] = 0
		}
		return
	}
	s.proc.Process(l, r)
	if s.capture != nil {
		s.capture.Push(l, r)
	}
}

// Start begins the callback stream.
func (s *PortAudioSink) Start() error {
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("portaudio start: %w", err)
	}
	return nil
}

// Stop halts the stream and tears down PortAudio. Idempotent so the
// fatal-error watcher and the normal shutdown path can both call it.
func (s *PortAudioSink) Stop() error {
	s.stopOnce.Do(func() {
		err := s.stream.Stop()
		if cerr := s.stream.Close(); err == nil {
			err = cerr
		}
		if terr := portaudio.Terminate(); err == nil {
			err = terr
		}
		s.stopErr = err
	})
	return s.stopErr
}

// Fatal reports the first unrecoverable device error.
func (s *PortAudioSink) Fatal() <-chan error { return s.fatal }

// BadFrames reports callbacks rejected for a frame count mismatch.
func (s *PortAudioSink) BadFrames() uint64 { return s.badFrames.Load() }
