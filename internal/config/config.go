// Package config holds the runtime configuration for the Sp3ctra engine:
// audio format, UDP ingress, the frequency mapping of the sensor line, and
// the per-engine synthesis parameters. Values load from a simple key = value
// file and are validated before the engine starts.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// ScanMode selects how the wavetable engine maps phase to pixel position.
type ScanMode int

const (
	ScanLeftToRight ScanMode = iota
	ScanRightToLeft
	ScanPingPong
)

// InterpMode selects the wavetable sample interpolation.
type InterpMode int

const (
	InterpLinear InterpMode = iota
	InterpCubic
)

// ADSR holds linear envelope segment settings in seconds (sustain is a level).
type ADSR struct {
	AttackS  float64
	DecayS   float64
	Sustain  float64
	ReleaseS float64
}

// LFO holds vibrato settings shared by the polyphonic and wavetable engines.
type LFO struct {
	RateHz        float64
	DepthSemitone float64
}

// PhotowaveConfig configures the LuxWave engine.
type PhotowaveConfig struct {
	ContinuousMode bool
	ScanMode       ScanMode
	InterpMode     InterpMode
	Amplitude      float64
	BlurRadius     int
	BlurAmount     float64
	NumVoices      int
	VolumeADSR     ADSR
	LFO            LFO
	FilterCutoffHz float64
	FilterEnvDepth float64
	FilterADSR     ADSR
	MaxFrequencyHz float64
}

// PolyphonicConfig configures the LuxSynth engine.
type PolyphonicConfig struct {
	NumVoices               int
	MaxOscillators          int
	VolumeADSR              ADSR
	FilterADSR              ADSR
	LFO                     LFO
	FilterCutoffHz          float64
	FilterEnvDepthHz        float64
	AmplitudeGamma          float64
	MinAudibleAmplitude     float64
	HighFreqHarmonicLimitHz float64
	DetuneMaxCents          float64
	HarmonicityCurveExp     float64
}

// ReverbConfig configures the shared reverb and the per-engine sends.
type ReverbConfig struct {
	Enable         bool
	Mix            float64
	RoomSize       float64
	Damping        float64
	Width          float64
	PreDelayMs     float64
	SendAdditive   float64
	SendPolyphonic float64
}

// DMXConfig is published for the external lighting consumer; the engine only
// carries it so the per-zone averages can be derived with the right zone count.
type DMXConfig struct {
	NumSpots         int
	Brightness       float64
	Gamma            float64
	BlackThreshold   float64
	ResponseCurve    float64
	RedFactor        float64
	GreenFactor      float64
	BlueFactor       float64
	SaturationFactor float64
}

// Config is the full engine configuration. Zero value is not usable; start
// from DefaultConfig and override.
type Config struct {
	SampleRate      int
	AudioBufferSize int

	UDPPort            int
	UDPAddress         string
	MulticastInterface string

	LowFrequency  float64
	HighFrequency float64
	SensorDPI     int

	InvertIntensity bool
	GammaValue      float64
	RelativeMode    bool

	TauUpBaseMs    float64
	TauDownBaseMs  float64
	DecayFreqRefHz float64
	DecayFreqBeta  float64

	StereoEnabled          bool
	StereoTemperatureAmp   float64
	StereoBlueRedWeight    float64
	StereoCyanYellowWeight float64
	StereoCurveExponent    float64

	ContrastMin             float64
	ContrastStride          int
	ContrastAdjustmentPower float64

	NoiseGateThreshold float64
	SoftLimitThreshold float64
	SoftLimitKnee      float64

	// SummationDivisor compensates downstream gain after the additive
	// worker reduction. Historically platform dependent, now explicit.
	SummationDivisor  float64
	VolumeWeightExp   float64
	FreezeFadeSeconds float64

	AutoVolumeEnabled       bool
	AutoVolumeThreshold     float64
	AutoVolumeInactivitySec float64

	LevelAdditive   float64
	LevelPolyphonic float64
	LevelWavetable  float64
	MasterVolume    float64
	SwapStereo      bool

	Photowave  PhotowaveConfig
	Polyphonic PolyphonicConfig
	Reverb     ReverbConfig
	DMX        DMXConfig

	// Derived by Derive.
	Pixels            int
	CommasPerSemitone int
	PixelsPerNote     int
	NumNotes          int
}

// Configuration errors. Range errors wrap ErrOutOfRange with the key name.
var (
	ErrMissingKey = errors.New("config: missing key")
	ErrOutOfRange = errors.New("config: value out of range")
	ErrBadValue   = errors.New("config: bad value")
)

// DefaultConfig returns a configuration matching a 400 DPI sensor at 48 kHz.
func DefaultConfig() Config {
	return Config{
		SampleRate:      48000,
		AudioBufferSize: 512,

		UDPPort:    55151,
		UDPAddress: "0.0.0.0",

		LowFrequency:  65.41,
		HighFrequency: 16744.04,
		SensorDPI:     400,

		GammaValue: 1.0,

		TauUpBaseMs:    2.0,
		TauDownBaseMs:  30.0,
		DecayFreqRefHz: 440.0,
		DecayFreqBeta:  0.7,

		StereoEnabled:          true,
		StereoTemperatureAmp:   2.5,
		StereoBlueRedWeight:    0.8,
		StereoCyanYellowWeight: 0.2,
		StereoCurveExponent:    1.0,

		ContrastMin:             0.01,
		ContrastStride:          4,
		ContrastAdjustmentPower: 0.7,

		NoiseGateThreshold: 0.002,
		SoftLimitThreshold: 0.95,
		SoftLimitKnee:      0.05,

		SummationDivisor:  3.0,
		VolumeWeightExp:   1.0,
		FreezeFadeSeconds: 5.0,

		AutoVolumeEnabled:       false,
		AutoVolumeThreshold:     0.15,
		AutoVolumeInactivitySec: 30.0,

		LevelAdditive:   1.0,
		LevelPolyphonic: 0.5,
		LevelWavetable:  0.0,
		MasterVolume:    1.0,

		Photowave: PhotowaveConfig{
			ContinuousMode: false,
			ScanMode:       ScanLeftToRight,
			InterpMode:     InterpLinear,
			Amplitude:      0.7,
			NumVoices:      8,
			VolumeADSR:     ADSR{AttackS: 0.01, DecayS: 0.1, Sustain: 0.8, ReleaseS: 0.3},
			LFO:            LFO{RateHz: 5.0, DepthSemitone: 0.0},
			FilterCutoffHz: 8000,
			FilterEnvDepth: 0,
			FilterADSR:     ADSR{AttackS: 0.01, DecayS: 0.2, Sustain: 1.0, ReleaseS: 0.3},
			MaxFrequencyHz: 2000,
		},
		Polyphonic: PolyphonicConfig{
			NumVoices:               8,
			MaxOscillators:          32,
			VolumeADSR:              ADSR{AttackS: 0.01, DecayS: 0.05, Sustain: 0.5, ReleaseS: 0.2},
			FilterADSR:              ADSR{AttackS: 0.02, DecayS: 0.1, Sustain: 0.6, ReleaseS: 0.3},
			LFO:                     LFO{RateHz: 5.0, DepthSemitone: 0.1},
			FilterCutoffHz:          2000,
			FilterEnvDepthHz:        3000,
			AmplitudeGamma:          1.5,
			MinAudibleAmplitude:     1e-4,
			HighFreqHarmonicLimitHz: 4000,
			DetuneMaxCents:          15,
			HarmonicityCurveExp:     1.0,
		},
		Reverb: ReverbConfig{
			Enable:         true,
			Mix:            0.3,
			RoomSize:       0.8,
			Damping:        0.4,
			Width:          1.0,
			PreDelayMs:     20,
			SendAdditive:   0.2,
			SendPolyphonic: 0.1,
		},
		DMX: DMXConfig{
			NumSpots:         9,
			Brightness:       1.0,
			Gamma:            2.2,
			BlackThreshold:   0.05,
			ResponseCurve:    1.0,
			RedFactor:        1.0,
			GreenFactor:      1.0,
			BlueFactor:       1.0,
			SaturationFactor: 1.0,
		},
	}
}

// Pixels per line by sensor resolution.
const (
	pixels400DPI = 3456
	pixels200DPI = 1728
)

// Derive computes the fields that depend on other settings. Must be called
// after loading and before Validate.
func (c *Config) Derive() error {
	switch c.SensorDPI {
	case 400:
		c.Pixels = pixels400DPI
	case 200:
		c.Pixels = pixels200DPI
	default:
		return fmt.Errorf("%w: sensor_dpi=%d (want 200 or 400)", ErrOutOfRange, c.SensorDPI)
	}
	if c.LowFrequency <= 0 || c.HighFrequency <= c.LowFrequency {
		return fmt.Errorf("%w: frequency range [%g, %g]", ErrOutOfRange, c.LowFrequency, c.HighFrequency)
	}
	octaves := math.Log2(c.HighFrequency / c.LowFrequency)
	c.CommasPerSemitone = int(math.Floor(float64(c.Pixels) / (12.0 * octaves)))
	if c.CommasPerSemitone < 1 {
		c.CommasPerSemitone = 1
	}
	c.PixelsPerNote = 1
	c.NumNotes = c.Pixels / c.PixelsPerNote
	if c.NumNotes < 1 {
		return fmt.Errorf("%w: num_notes=%d", ErrOutOfRange, c.NumNotes)
	}
	return nil
}

// Validate checks ranges. Returns the first violation found.
func (c *Config) Validate() error {
	if c.SampleRate != 48000 && c.SampleRate != 96000 {
		return fmt.Errorf("%w: sample_rate=%d (want 48000 or 96000)", ErrOutOfRange, c.SampleRate)
	}
	if c.AudioBufferSize < 16 || c.AudioBufferSize > 8192 {
		return fmt.Errorf("%w: audio_buffer_size=%d", ErrOutOfRange, c.AudioBufferSize)
	}
	// The wave table's octave stride assumes every note stays below
	// Nyquist; frequencies at or above it would walk past their period.
	if nyquist := float64(c.SampleRate) / 2; c.HighFrequency >= nyquist {
		return fmt.Errorf("%w: high_frequency=%g at sample_rate=%d (must stay below %g)",
			ErrOutOfRange, c.HighFrequency, c.SampleRate, nyquist)
	}
	if c.UDPPort < 1 || c.UDPPort > 65535 {
		return fmt.Errorf("%w: udp_port=%d", ErrOutOfRange, c.UDPPort)
	}
	if c.ContrastMin < 0 || c.ContrastMin > 1 {
		return fmt.Errorf("%w: contrast_min=%g", ErrOutOfRange, c.ContrastMin)
	}
	if c.ContrastStride < 1 {
		return fmt.Errorf("%w: contrast_stride=%d", ErrOutOfRange, c.ContrastStride)
	}
	if c.SummationDivisor <= 0 {
		return fmt.Errorf("%w: summation_divisor=%g", ErrOutOfRange, c.SummationDivisor)
	}
	if n := c.Polyphonic.NumVoices; n < 1 || n > 32 {
		return fmt.Errorf("%w: polyphonic.num_voices=%d", ErrOutOfRange, n)
	}
	if n := c.Polyphonic.MaxOscillators; n < 1 || n > 256 {
		return fmt.Errorf("%w: polyphonic.max_oscillators=%d", ErrOutOfRange, n)
	}
	if n := c.Photowave.NumVoices; n < 1 || n > 32 {
		return fmt.Errorf("%w: photowave.num_voices=%d", ErrOutOfRange, n)
	}
	if c.Reverb.Mix < 0 || c.Reverb.Mix > 1 {
		return fmt.Errorf("%w: reverb.mix=%g", ErrOutOfRange, c.Reverb.Mix)
	}
	if c.FreezeFadeSeconds <= 0 {
		return fmt.Errorf("%w: freeze_fade_seconds=%g", ErrOutOfRange, c.FreezeFadeSeconds)
	}
	return nil
}

// Load reads a key = value file into a copy of DefaultConfig, then derives
// and validates. Lines starting with # are comments. Unknown keys error.
func Load(path string) (Config, error) {
	c := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return c, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") || strings.HasPrefix(text, "[") {
			continue
		}
		key, value, ok := strings.Cut(text, "=")
		if !ok {
			return c, fmt.Errorf("%w: line %d: %q", ErrBadValue, line, text)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if err := c.set(key, value); err != nil {
			return c, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return c, fmt.Errorf("config: %w", err)
	}
	if err := c.Derive(); err != nil {
		return c, err
	}
	return c, c.Validate()
}

func (c *Config) set(key, value string) error {
	setInt := func(dst *int) error {
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrBadValue, key, value)
		}
		*dst = v
		return nil
	}
	setFloat := func(dst *float64) error {
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrBadValue, key, value)
		}
		*dst = v
		return nil
	}
	setBool := func(dst *bool) error {
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrBadValue, key, value)
		}
		*dst = v
		return nil
	}

	switch key {
	case "sample_rate":
		return setInt(&c.SampleRate)
	case "audio_buffer_size":
		return setInt(&c.AudioBufferSize)
	case "udp_port":
		return setInt(&c.UDPPort)
	case "udp_address":
		c.UDPAddress = value
		return nil
	case "multicast_interface":
		c.MulticastInterface = value
		return nil
	case "low_frequency":
		return setFloat(&c.LowFrequency)
	case "high_frequency":
		return setFloat(&c.HighFrequency)
	case "sensor_dpi":
		return setInt(&c.SensorDPI)
	case "invert_intensity":
		return setBool(&c.InvertIntensity)
	case "gamma_value":
		return setFloat(&c.GammaValue)
	case "relative_mode":
		return setBool(&c.RelativeMode)
	case "tau_up_base_ms":
		return setFloat(&c.TauUpBaseMs)
	case "tau_down_base_ms":
		return setFloat(&c.TauDownBaseMs)
	case "decay_freq_ref_hz":
		return setFloat(&c.DecayFreqRefHz)
	case "decay_freq_beta":
		return setFloat(&c.DecayFreqBeta)
	case "stereo_enabled":
		return setBool(&c.StereoEnabled)
	case "stereo_temperature_amplification":
		return setFloat(&c.StereoTemperatureAmp)
	case "stereo_blue_red_weight":
		return setFloat(&c.StereoBlueRedWeight)
	case "stereo_cyan_yellow_weight":
		return setFloat(&c.StereoCyanYellowWeight)
	case "stereo_temperature_curve_exponent":
		return setFloat(&c.StereoCurveExponent)
	case "contrast_min":
		return setFloat(&c.ContrastMin)
	case "contrast_stride":
		return setInt(&c.ContrastStride)
	case "contrast_adjustment_power":
		return setFloat(&c.ContrastAdjustmentPower)
	case "noise_gate_threshold":
		return setFloat(&c.NoiseGateThreshold)
	case "soft_limit_threshold":
		return setFloat(&c.SoftLimitThreshold)
	case "soft_limit_knee":
		return setFloat(&c.SoftLimitKnee)
	case "summation_divisor":
		return setFloat(&c.SummationDivisor)
	case "volume_weight_exponent":
		return setFloat(&c.VolumeWeightExp)
	case "freeze_fade_seconds":
		return setFloat(&c.FreezeFadeSeconds)
	case "auto_volume_enabled":
		return setBool(&c.AutoVolumeEnabled)
	case "auto_volume_threshold":
		return setFloat(&c.AutoVolumeThreshold)
	case "auto_volume_inactivity_sec":
		return setFloat(&c.AutoVolumeInactivitySec)
	case "level_additive":
		return setFloat(&c.LevelAdditive)
	case "level_polyphonic":
		return setFloat(&c.LevelPolyphonic)
	case "level_wavetable":
		return setFloat(&c.LevelWavetable)
	case "master_volume":
		return setFloat(&c.MasterVolume)
	case "swap_stereo":
		return setBool(&c.SwapStereo)

	case "photowave.continuous_mode":
		return setBool(&c.Photowave.ContinuousMode)
	case "photowave.scan_mode":
		switch value {
		case "left_to_right":
			c.Photowave.ScanMode = ScanLeftToRight
		case "right_to_left":
			c.Photowave.ScanMode = ScanRightToLeft
		case "ping_pong":
			c.Photowave.ScanMode = ScanPingPong
		default:
			return fmt.Errorf("%w: %s=%q", ErrBadValue, key, value)
		}
		return nil
	case "photowave.interp_mode":
		switch value {
		case "linear":
			c.Photowave.InterpMode = InterpLinear
		case "cubic":
			c.Photowave.InterpMode = InterpCubic
		default:
			return fmt.Errorf("%w: %s=%q", ErrBadValue, key, value)
		}
		return nil
	case "photowave.amplitude":
		return setFloat(&c.Photowave.Amplitude)
	case "photowave.blur_radius":
		return setInt(&c.Photowave.BlurRadius)
	case "photowave.blur_amount":
		return setFloat(&c.Photowave.BlurAmount)
	case "photowave.num_voices":
		return setInt(&c.Photowave.NumVoices)
	case "photowave.attack_s":
		return setFloat(&c.Photowave.VolumeADSR.AttackS)
	case "photowave.decay_s":
		return setFloat(&c.Photowave.VolumeADSR.DecayS)
	case "photowave.sustain":
		return setFloat(&c.Photowave.VolumeADSR.Sustain)
	case "photowave.release_s":
		return setFloat(&c.Photowave.VolumeADSR.ReleaseS)
	case "photowave.lfo_rate_hz":
		return setFloat(&c.Photowave.LFO.RateHz)
	case "photowave.lfo_depth_semitones":
		return setFloat(&c.Photowave.LFO.DepthSemitone)
	case "photowave.filter_cutoff_hz":
		return setFloat(&c.Photowave.FilterCutoffHz)
	case "photowave.max_frequency_hz":
		return setFloat(&c.Photowave.MaxFrequencyHz)

	case "polyphonic.num_voices":
		return setInt(&c.Polyphonic.NumVoices)
	case "polyphonic.max_oscillators":
		return setInt(&c.Polyphonic.MaxOscillators)
	case "polyphonic.attack_s":
		return setFloat(&c.Polyphonic.VolumeADSR.AttackS)
	case "polyphonic.decay_s":
		return setFloat(&c.Polyphonic.VolumeADSR.DecayS)
	case "polyphonic.sustain":
		return setFloat(&c.Polyphonic.VolumeADSR.Sustain)
	case "polyphonic.release_s":
		return setFloat(&c.Polyphonic.VolumeADSR.ReleaseS)
	case "polyphonic.filter_attack_s":
		return setFloat(&c.Polyphonic.FilterADSR.AttackS)
	case "polyphonic.filter_decay_s":
		return setFloat(&c.Polyphonic.FilterADSR.DecayS)
	case "polyphonic.filter_sustain":
		return setFloat(&c.Polyphonic.FilterADSR.Sustain)
	case "polyphonic.filter_release_s":
		return setFloat(&c.Polyphonic.FilterADSR.ReleaseS)
	case "polyphonic.lfo_rate_hz":
		return setFloat(&c.Polyphonic.LFO.RateHz)
	case "polyphonic.lfo_depth_semitones":
		return setFloat(&c.Polyphonic.LFO.DepthSemitone)
	case "polyphonic.filter_cutoff_hz":
		return setFloat(&c.Polyphonic.FilterCutoffHz)
	case "polyphonic.filter_env_depth_hz":
		return setFloat(&c.Polyphonic.FilterEnvDepthHz)
	case "polyphonic.amplitude_gamma":
		return setFloat(&c.Polyphonic.AmplitudeGamma)
	case "polyphonic.min_audible_amplitude":
		return setFloat(&c.Polyphonic.MinAudibleAmplitude)
	case "polyphonic.high_freq_harmonic_limit_hz":
		return setFloat(&c.Polyphonic.HighFreqHarmonicLimitHz)
	case "polyphonic.detune_max_cents":
		return setFloat(&c.Polyphonic.DetuneMaxCents)
	case "polyphonic.harmonicity_curve_exponent":
		return setFloat(&c.Polyphonic.HarmonicityCurveExp)

	case "reverb.enable":
		return setBool(&c.Reverb.Enable)
	case "reverb.mix":
		return setFloat(&c.Reverb.Mix)
	case "reverb.room_size":
		return setFloat(&c.Reverb.RoomSize)
	case "reverb.damping":
		return setFloat(&c.Reverb.Damping)
	case "reverb.width":
		return setFloat(&c.Reverb.Width)
	case "reverb.predelay_ms":
		return setFloat(&c.Reverb.PreDelayMs)
	case "reverb.send_additive":
		return setFloat(&c.Reverb.SendAdditive)
	case "reverb.send_polyphonic":
		return setFloat(&c.Reverb.SendPolyphonic)

	case "dmx.num_spots":
		return setInt(&c.DMX.NumSpots)
	case "dmx.brightness":
		return setFloat(&c.DMX.Brightness)
	case "dmx.gamma":
		return setFloat(&c.DMX.Gamma)
	case "dmx.black_threshold":
		return setFloat(&c.DMX.BlackThreshold)
	case "dmx.response_curve":
		return setFloat(&c.DMX.ResponseCurve)
	case "dmx.red_factor":
		return setFloat(&c.DMX.RedFactor)
	case "dmx.green_factor":
		return setFloat(&c.DMX.GreenFactor)
	case "dmx.blue_factor":
		return setFloat(&c.DMX.BlueFactor)
	case "dmx.saturation_factor":
		return setFloat(&c.DMX.SaturationFactor)
	}
	return fmt.Errorf("%w: unknown key %q", ErrBadValue, key)
}
