package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	c := DefaultConfig()
	if err := c.Derive(); err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDeriveNumNotes(t *testing.T) {
	c := DefaultConfig()
	c.SensorDPI = 200
	if err := c.Derive(); err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if c.Pixels != 1728 {
		t.Errorf("Pixels = %d, want 1728", c.Pixels)
	}
	if c.NumNotes != 1728 {
		t.Errorf("NumNotes = %d, want 1728", c.NumNotes)
	}
	if c.CommasPerSemitone < 1 {
		t.Errorf("CommasPerSemitone = %d, want >= 1", c.CommasPerSemitone)
	}
}

func TestDeriveRejectsBadDPI(t *testing.T) {
	c := DefaultConfig()
	c.SensorDPI = 300
	if err := c.Derive(); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Derive = %v, want ErrOutOfRange", err)
	}
}

func TestValidateRanges(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"sample rate", func(c *Config) { c.SampleRate = 44100 }},
		{"buffer size", func(c *Config) { c.AudioBufferSize = 4 }},
		{"udp port", func(c *Config) { c.UDPPort = 0 }},
		{"contrast min", func(c *Config) { c.ContrastMin = 1.5 }},
		{"poly voices", func(c *Config) { c.Polyphonic.NumVoices = 64 }},
		{"oscillators", func(c *Config) { c.Polyphonic.MaxOscillators = 0 }},
		{"reverb mix", func(c *Config) { c.Reverb.Mix = 2 }},
		{"summation divisor", func(c *Config) { c.SummationDivisor = 0 }},
		{"high frequency at nyquist", func(c *Config) { c.HighFrequency = 24000 }},
		{"high frequency above nyquist", func(c *Config) { c.HighFrequency = 30000 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultConfig()
			if err := c.Derive(); err != nil {
				t.Fatalf("Derive: %v", err)
			}
			tc.mutate(&c)
			if err := c.Validate(); !errors.Is(err, ErrOutOfRange) {
				t.Errorf("Validate = %v, want ErrOutOfRange", err)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	content := `# test config
sample_rate = 96000
audio_buffer_size = 256
udp_port = 9000
sensor_dpi = 200
stereo_enabled = false
photowave.scan_mode = ping_pong
photowave.interp_mode = cubic
polyphonic.num_voices = 4
reverb.mix = 0.5
`
	path := filepath.Join(t.TempDir(), "sp3ctra.cfg")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.SampleRate != 96000 {
		t.Errorf("SampleRate = %d, want 96000", c.SampleRate)
	}
	if c.AudioBufferSize != 256 {
		t.Errorf("AudioBufferSize = %d, want 256", c.AudioBufferSize)
	}
	if c.StereoEnabled {
		t.Error("StereoEnabled = true, want false")
	}
	if c.Photowave.ScanMode != ScanPingPong {
		t.Errorf("ScanMode = %v, want ScanPingPong", c.Photowave.ScanMode)
	}
	if c.Photowave.InterpMode != InterpCubic {
		t.Errorf("InterpMode = %v, want InterpCubic", c.Photowave.InterpMode)
	}
	if c.Polyphonic.NumVoices != 4 {
		t.Errorf("NumVoices = %d, want 4", c.Polyphonic.NumVoices)
	}
	if c.Pixels != 1728 {
		t.Errorf("Pixels = %d, want 1728", c.Pixels)
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.cfg")
	if err := os.WriteFile(path, []byte("no_such_key = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, ErrBadValue) {
		t.Errorf("Load = %v, want ErrBadValue", err)
	}
}
