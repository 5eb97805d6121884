// Package autovol turns scanner motion into a master volume line. While
// the sensor moves, the target volume rises to full; when it sits still
// past the inactivity window, the target decays toward silence. The
// output is slew-limited so the level never jumps.
package autovol

import (
	"context"
	"math"
	"time"

	"github.com/sp3ctra/sp3ctra/internal/config"
	"github.com/sp3ctra/sp3ctra/internal/udprx"
)

const (
	tickInterval = 50 * time.Millisecond

	// Full swing takes about half a second up and two seconds down.
	riseStep = 0.1
	fallStep = 0.025
)

// Sink receives the computed volume factor, normally the mixer.
type Sink interface {
	SetAutoVolume(v float32)
}

// Controller polls the IMU filter state and drives the sink.
type Controller struct {
	imu        *udprx.IMUState
	sink       Sink
	threshold  float64
	inactivity time.Duration

	current    float64
	target     float64
	lastMotion time.Time
}

// New creates the controller. It starts at full volume so audio is not
// muted before the first IMU packet arrives.
func New(cfg *config.Config, imu *udprx.IMUState, sink Sink) *Controller {
	return &Controller{
		imu:        imu,
		sink:       sink,
		threshold:  cfg.AutoVolumeThreshold,
		inactivity: time.Duration(cfg.AutoVolumeInactivitySec * float64(time.Second)),
		current:    1,
		target:     1,
	}
}

// Run polls until the context is cancelled.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.step(now)
		}
	}
}

// Step advances the controller once, exposed for offline rendering.
func (c *Controller) Step(now time.Time) { c.step(now) }

// Current returns the last volume factor pushed to the sink.
func (c *Controller) Current() float32 { return float32(c.current) }

func (c *Controller) step(now time.Time) {
	_, ok := c.imu.LastActivity()
	switch {
	case !ok:
		// No IMU yet, hold full volume.
		c.target = 1
		c.lastMotion = now
	case math.Abs(c.imu.FilteredX()) > c.threshold:
		c.target = 1
		c.lastMotion = now
	case now.Sub(c.lastMotion) > c.inactivity:
		c.target = 0
	}

	if c.current < c.target {
		c.current = math.Min(c.current+riseStep, c.target)
	} else if c.current > c.target {
		c.current = math.Max(c.current-fallStep, c.target)
	}
	c.sink.SetAutoVolume(float32(c.current))
}
