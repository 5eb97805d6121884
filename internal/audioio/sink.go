// Package audioio hosts the audio output backends. The default sink
// drives the mixer from a PortAudio realtime callback; the fallback
// streams through Ebiten's audio context for platforms without a
// PortAudio installation. Both pull non-interleaved stereo from a
// Processor, normally the mixer.
package audioio

// Processor fills one non-interleaved stereo buffer per call.
type Processor interface {
	Process(outL, outR []float32)
}

// Sink is a running audio output backend. Fatal delivers at most one
// unrecoverable device error; a backend that cannot fail this way may
// return a nil channel.
type Sink interface {
	Start() error
	Stop() error
	Fatal() <-chan error
}
