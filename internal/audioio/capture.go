package audioio

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	wav "github.com/youpy/go-wav"
)

// captureRingSize holds about two seconds of stereo audio at 96 kHz.
const captureRingSize = 1 << 18

// Capture records the output bus to a WAV file. The audio callback
// pushes frames into a lock-free ring and never blocks; a drain
// goroutine accumulates samples and the file is written on Close with
// the final length, which the RIFF header needs upfront.
type Capture struct {
	path       string
	sampleRate int

	buf  []float32 // interleaved L R
	head atomic.Uint64
	tail atomic.Uint64

	dropped atomic.Uint64

	samples []wav.Sample
	done    chan struct{}
	stopped chan struct{}
}

// NewCapture creates the recorder and starts its drain goroutine.
func NewCapture(path string, sampleRate int) *Capture {
	c := &Capture{
		path:       path,
		sampleRate: sampleRate,
		buf:        make([]float32, captureRingSize),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	go c.drain()
	return c
}

// Push copies one stereo buffer into the ring. Frames that do not fit
// are dropped and counted.
func (c *Capture) Push(l, r []float32) {
	head := c.head.Load()
	tail := c.tail.Load()
	free := uint64(captureRingSize) - (head - tail)
	need := uint64(len(l) * 2)
	if need > free {
		c.dropped.Add(1)
		return
	}
	for i := range l {
		c.buf[(head+uint64(i*2))%captureRingSize] = l[i]
		c.buf[(head+uint64(i*2+1))%captureRingSize] = r[i]
	}
	c.head.Store(head + need)
}

// Dropped reports how many buffers did not fit in the ring.
func (c *Capture) Dropped() uint64 { return c.dropped.Load() }

func (c *Capture) drain() {
	defer close(c.stopped)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			c.pull()
			return
		case <-ticker.C:
			c.pull()
		}
	}
}

func (c *Capture) pull() {
	head := c.head.Load()
	tail := c.tail.Load()
	for ; tail+1 < head; tail += 2 {
		l := c.buf[tail%captureRingSize]
		r := c.buf[(tail+1)%captureRingSize]
		c.samples = append(c.samples, wav.Sample{Values: [2]int{pcm16(l), pcm16(r)}})
	}
	c.tail.Store(tail)
}

// Close stops the drain and writes the WAV file.
func (c *Capture) Close() error {
	close(c.done)
	<-c.stopped

	f, err := os.Create(c.path)
	if err != nil {
		return fmt.Errorf("capture create: %w", err)
	}
	defer f.Close()

	w := wav.NewWriter(f, uint32(len(c.samples)), 2, uint32(c.sampleRate), 16)
	if err := w.WriteSamples(c.samples); err != nil {
		return fmt.Errorf("capture write: %w", err)
	}
	return nil
}

func pcm16(v float32) int {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int(v * 32767)
}
