// Package sp3ctra synthesises sound from scanned image lines. A UDP
// receiver reassembles scan-line fragments, a preprocessor derives the
// per-note and per-harmonic data, three synthesis engines render into
// lock-free output buffers, and a realtime mixer feeds the audio device.
package sp3ctra

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/sp3ctra/sp3ctra/internal/audioio"
	"github.com/sp3ctra/sp3ctra/internal/autovol"
	"github.com/sp3ctra/sp3ctra/internal/config"
	"github.com/sp3ctra/sp3ctra/internal/imagebuf"
	"github.com/sp3ctra/sp3ctra/internal/luxstral"
	"github.com/sp3ctra/sp3ctra/internal/luxsynth"
	"github.com/sp3ctra/sp3ctra/internal/luxwave"
	"github.com/sp3ctra/sp3ctra/internal/mix"
	"github.com/sp3ctra/sp3ctra/internal/preprocess"
	"github.com/sp3ctra/sp3ctra/internal/rtlog"
	"github.com/sp3ctra/sp3ctra/internal/udprx"
	"github.com/sp3ctra/sp3ctra/internal/wavegen"
)

// ErrNotRunning is returned by Stop when Start was never called.
var ErrNotRunning = errors.New("sp3ctra: engine not running")

type backend int

const (
	backendPortAudio backend = iota
	backendEbiten
	backendNone
)

type EngineOption func(*engineConfig)

type engineConfig struct {
	backend     backend
	capturePath string
	logger      *rtlog.Logger
}

// WithPortAudio selects the PortAudio realtime callback backend. This
// is the default.
func WithPortAudio() EngineOption {
	return func(cfg *engineConfig) { cfg.backend = backendPortAudio }
}

// WithEbitenOutput selects the Ebiten streaming backend, for platforms
// without a PortAudio installation.
func WithEbitenOutput() EngineOption {
	return func(cfg *engineConfig) { cfg.backend = backendEbiten }
}

// WithoutAudio disables the audio device entirely. Offline rendering
// and tests drive the pipeline through RenderFrames instead.
func WithoutAudio() EngineOption {
	return func(cfg *engineConfig) { cfg.backend = backendNone }
}

// WithCapture records the output bus to a WAV file at path.
func WithCapture(path string) EngineOption {
	return func(cfg *engineConfig) { cfg.capturePath = path }
}

// WithLogger replaces the default stderr logger.
func WithLogger(l *rtlog.Logger) EngineOption {
	return func(cfg *engineConfig) { cfg.logger = l }
}

// Engine owns the whole pipeline from UDP ingress to the audio device.
type Engine struct {
	cfg *config.Config
	log *rtlog.Logger

	table    *wavegen.Table
	double   *imagebuf.DoubleBuffer
	triple   *imagebuf.TripleBuffer
	pan      *imagebuf.PanGainBuffer
	imu      *udprx.IMUState
	receiver *udprx.Receiver

	additive   *luxstral.Engine
	polyphonic *luxsynth.Engine
	wavetable  *luxwave.Engine
	mixer      *mix.Mixer
	autovol    *autovol.Controller

	capture *audioio.Capture
	sink    audioio.Sink
	opts    engineConfig

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	errMu    sync.Mutex
	fatalErr error
}

// New validates the configuration, builds the wave table and all
// pipeline stages, and binds the UDP socket. The engine is idle until
// Start.
func New(cfg *config.Config, opts ...EngineOption) (*Engine, error) {
	ec := engineConfig{backend: backendPortAudio}
	for _, o := range opts {
		o(&ec)
	}
	if ec.logger == nil {
		ec.logger = rtlog.New(log.New(os.Stderr, "sp3ctra ", log.LstdFlags), rtlog.LevelInfo)
	}

	if err := cfg.Derive(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	table, err := wavegen.Build(cfg)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:    cfg,
		log:    ec.logger,
		table:  table,
		double: imagebuf.NewDoubleBuffer(cfg.Pixels),
		triple: imagebuf.NewTripleBuffer(cfg.Pixels),
		pan:    imagebuf.NewPanGainBuffer(cfg.NumNotes),
		imu:    udprx.NewIMUState(0.2),
		opts:   ec,
	}

	e.receiver, err = udprx.NewReceiver(cfg, e.log, e.double, e.triple, e.pan, e.imu)
	if err != nil {
		return nil, err
	}

	ring := e.log.Ring()
	e.additive = luxstral.New(cfg, table, e.triple, e.pan, ring)
	e.polyphonic = luxsynth.New(cfg, ring)
	e.wavetable = luxwave.New(cfg, e.triple, ring)
	e.mixer = mix.New(cfg, e.additive.Output(), e.polyphonic.Output(), e.wavetable.Output(), ring)

	if cfg.AutoVolumeEnabled {
		e.autovol = autovol.New(cfg, e.imu, e.mixer)
	}
	if ec.capturePath != "" {
		e.capture = audioio.NewCapture(ec.capturePath, cfg.SampleRate)
	}

	// Give the engines a line to chew on before the first UDP packet.
	e.injectTestPattern()

	switch ec.backend {
	case backendPortAudio:
		e.sink, err = audioio.NewPortAudioSink(cfg.SampleRate, cfg.AudioBufferSize, e.mixer, e.capture)
	case backendEbiten:
		e.sink, err = audioio.NewEbitenSink(cfg.SampleRate, cfg.AudioBufferSize, e.mixer, e.capture)
	case backendNone:
		e.sink = nil
	}
	if err != nil {
		e.receiver.Close()
		return nil, fmt.Errorf("sp3ctra: audio backend: %w", err)
	}
	return e, nil
}

// injectTestPattern publishes one synthetic gradient line so the audio
// path produces sound before the scanner sends anything.
func (e *Engine) injectTestPattern() {
	active := e.double.Active()
	slot := e.triple.WriteSlot()
	for i := 0; i < e.cfg.Pixels; i++ {
		v := byte(255 - i*255/e.cfg.Pixels)
		active.R[i], active.G[i], active.B[i] = v, v, v
		slot.R[i], slot.G[i], slot.B[i] = v, v, v
	}
	proc := preprocess.New(e.cfg)
	data := proc.NewData()
	proc.Process(data, active.R, active.G, active.B)
	e.double.Publish(data)
	e.pan.Publish(data.LeftGain, data.RightGain, data.PanPosition)
	e.triple.Commit()
	e.additive.SetContrast(data.ContrastFactor)
	e.polyphonic.SetImageData(data)
}

// Start spins up the receiver, the three engine producers, the image
// distributor and the audio backend. It returns once everything is
// running; rendering continues until Stop or context cancellation.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return errors.New("sp3ctra: already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.log.Drain(ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.receiver.Run(ctx); err != nil && ctx.Err() == nil {
			e.log.Errorf("udprx: %v", err)
		}
	}()

	for _, render := range []func(){
		e.additive.RenderBuffer,
		e.polyphonic.RenderBuffer,
		e.wavetable.RenderBuffer,
	} {
		render := render
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for ctx.Err() == nil {
				render()
			}
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.distribute(ctx)
	}()

	if e.autovol != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.autovol.Run(ctx)
		}()
	}

	if e.sink != nil {
		if err := e.sink.Start(); err != nil {
			cancel()
			e.running = false
			return err
		}
		fatal := e.sink.Fatal()
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			select {
			case err := <-fatal:
				e.log.Errorf("audio device: %v", err)
				e.errMu.Lock()
				e.fatalErr = err
				e.errMu.Unlock()
				if serr := e.sink.Stop(); serr != nil {
					e.log.Errorf("audio device stop: %v", serr)
				}
			case <-ctx.Done():
			}
		}()
	}
	e.log.Infof("engine started: %d notes, %d Hz, buffer %d",
		e.cfg.NumNotes, e.cfg.SampleRate, e.cfg.AudioBufferSize)
	return nil
}

// distribute forwards each published snapshot to the engines that read
// it outside the lock-free image path.
func (e *Engine) distribute(ctx context.Context) {
	_, seq := e.double.Data()
	for ctx.Err() == nil {
		next := e.double.WaitData(seq)
		if next == seq {
			// Woken by Close.
			return
		}
		seq = next
		data, _ := e.double.Data()
		if data == nil {
			continue
		}
		e.additive.SetContrast(data.ContrastFactor)
		e.polyphonic.SetImageData(data)
	}
}

// Stop tears the pipeline down: cancels the workers, aborts the socket
// read, stops the audio backend and joins everything with a bounded
// wait.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return ErrNotRunning
	}
	e.running = false

	e.cancel()
	err := e.receiver.Close()
	e.double.Close()

	if e.sink != nil {
		if serr := e.sink.Stop(); err == nil {
			err = serr
		}
	}
	e.additive.Stop()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		e.log.Warnf("shutdown: workers did not join in time")
	}

	if e.capture != nil {
		if cerr := e.capture.Close(); err == nil {
			err = cerr
		}
	}
	if err == nil {
		err = e.Err()
	}
	return err
}

// Err reports the fatal device error that stopped the audio backend,
// if any.
func (e *Engine) Err() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.fatalErr
}

// NoteOn routes a MIDI note-on to the polyphonic and wavetable engines.
// Velocity zero is treated as note-off.
func (e *Engine) NoteOn(note, velocity int) {
	e.polyphonic.NoteOn(note, velocity)
	e.wavetable.NoteOn(note, velocity)
}

// NoteOff routes a MIDI note-off to both polyphonic engines.
func (e *Engine) NoteOff(note int) {
	e.polyphonic.NoteOff(note)
	e.wavetable.NoteOff(note)
}

// ControlChange applies the wavetable CC map and the mixer-level CCs.
func (e *Engine) ControlChange(cc, value int) {
	switch cc {
	case 7:
		e.mixer.SetMasterVolume(float32(value) / 127)
	case 91:
		e.mixer.SetReverbMix(float32(value) / 127)
	default:
		e.wavetable.ControlChange(cc, value)
	}
}

// SetFreeze holds or releases the additive engine's image.
func (e *Engine) SetFreeze(on bool) { e.additive.SetFreeze(on) }

// Frozen reports whether the additive image is held.
func (e *Engine) Frozen() bool { return e.additive.Frozen() }

// SetMixLevels sets the per-engine weights in the output mix.
func (e *Engine) SetMixLevels(additive, polyphonic, wavetable float32) {
	e.mixer.SetMixLevels(additive, polyphonic, wavetable)
}

// SetMasterVolume sets the MIDI master volume line.
func (e *Engine) SetMasterVolume(v float32) { e.mixer.SetMasterVolume(v) }

// SetReverbEnabled toggles the reverb send.
func (e *Engine) SetReverbEnabled(on bool) { e.mixer.SetReverbEnabled(on) }

// SetReverbMix sets the wet/dry crossfade.
func (e *Engine) SetReverbMix(v float32) { e.mixer.SetReverbMix(v) }

// SetReverbRoomSize sets the reverb decay control.
func (e *Engine) SetReverbRoomSize(v float32) { e.mixer.SetReverbRoomSize(v) }

// SetReverbDamping sets reverb high-frequency absorption.
func (e *Engine) SetReverbDamping(v float32) { e.mixer.SetReverbDamping(v) }

// SetReverbWidth sets the reverb stereo width.
func (e *Engine) SetReverbWidth(v float32) { e.mixer.SetReverbWidth(v) }

// SetVolumeADSR updates the polyphonic volume envelope, recalculating
// in-flight envelopes smoothly.
func (e *Engine) SetVolumeADSR(a config.ADSR) { e.polyphonic.SetVolumeADSR(a) }

// SetFilterADSR updates the polyphonic filter envelope.
func (e *Engine) SetFilterADSR(a config.ADSR) { e.polyphonic.SetFilterADSR(a) }

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	LinesComplete       uint64
	LinesAbandoned      uint64
	UnderrunsAdditive   uint64
	UnderrunsPolyphonic uint64
	UnderrunsWavetable  uint64
	LogDropped          uint64
	MasterVolume        float32
}

// Snapshot collects the current counters.
func (e *Engine) Snapshot() Stats {
	ua, up, uw := e.mixer.Underruns()
	return Stats{
		LinesComplete:       e.receiver.LinesComplete.Load(),
		LinesAbandoned:      e.receiver.LinesAbandoned.Load(),
		UnderrunsAdditive:   ua,
		UnderrunsPolyphonic: up,
		UnderrunsWavetable:  uw,
		LogDropped:          e.log.Ring().Dropped(),
		MasterVolume:        e.mixer.MasterVolume(),
	}
}

// LocalAddr returns the bound UDP address, useful when the configured
// port is zero.
func (e *Engine) LocalAddr() string { return e.receiver.LocalAddr().String() }
