// Package playback owns the playback position of a canvas and advances it
// once per rendered tick using measured wall-clock deltas.
package playback

import (
	"time"

	"github.com/ivlev/framecap/internal/clock"
)

// WallClock provides the current time. It exists so tests can drive the
// controller with a fake clock.
type WallClock interface {
	Now() time.Time
}

// RealClock reads time.Now.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Controller holds the raw playback time and play/pause state.
//
// Externally observed time is always frame-quantized: Time returns the start
// of the current frame, never the raw accumulated time.
//
// Controller is NOT safe for concurrent use; the canvas manager serializes
// access to it.
type Controller struct {
	clock   clock.Clock
	rawTime float64
	playing bool
	last    time.Time
	armed   bool
}

// New returns a paused controller at time zero.
func New(fps float64) (*Controller, error) {
	c, err := clock.New(fps)
	if err != nil {
		return nil, err
	}
	return &Controller{clock: c}, nil
}

// Clock returns the converter for the current frame rate.
func (p *Controller) Clock() clock.Clock {
	return p.clock
}

// FPS returns the current frame rate.
func (p *Controller) FPS() float64 {
	return p.clock.FPS()
}

// SetFPS changes the rate used for all subsequent conversions. The raw time
// is kept, so the current frame index is re-derived at the new rate.
func (p *Controller) SetFPS(fps float64) error {
	c, err := clock.New(fps)
	if err != nil {
		return err
	}
	p.clock = c
	return nil
}

// RawTime returns the unquantized playback time in seconds.
func (p *Controller) RawTime() float64 {
	return p.rawTime
}

// Frame returns the current frame index.
func (p *Controller) Frame() int {
	return p.clock.ToFrame(p.rawTime)
}

// Time returns the start time of the current frame.
func (p *Controller) Time() float64 {
	return p.clock.ToTime(p.Frame())
}

// Playing reports whether ticks advance time.
func (p *Controller) Playing() bool {
	return p.playing
}

// SetFrame jumps to frame. Negative frames clamp to zero.
func (p *Controller) SetFrame(frame int) {
	if frame < 0 {
		frame = 0
	}
	p.rawTime = p.clock.ToTime(frame)
}

// SetTime jumps to the frame containing t.
func (p *Controller) SetTime(t float64) {
	p.SetFrame(p.clock.ToFrame(t))
}

// Play arms ticking. The first delta is measured from now, so time spent
// paused is never added. Calling Play while playing is a no-op.
func (p *Controller) Play(now time.Time) {
	if p.playing {
		return
	}
	p.playing = true
	p.last = now
	p.armed = true
}

// Pause disarms ticking. Idempotent.
func (p *Controller) Pause() {
	p.playing = false
	p.armed = false
}

// Advance adds the wall-clock delta since the previous tick to the raw time.
// It returns the delta applied.
func (p *Controller) Advance(now time.Time) time.Duration {
	if !p.playing {
		return 0
	}
	if !p.armed {
		p.last = now
		p.armed = true
		return 0
	}
	delta := now.Sub(p.last)
	p.last = now
	if delta <= 0 {
		return 0
	}
	p.rawTime += delta.Seconds()
	return delta
}
