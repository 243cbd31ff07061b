// Package clock converts between continuous playback time and discrete
// frame indices for a fixed frame rate.
package clock

import (
	"errors"
	"fmt"
	"math"
)

// Epsilon is added before flooring so that a time produced by ToTime maps
// back to exactly the same frame despite binary floating point rounding
// (0.1*3 is 0.30000000000000004, 3/10*10 is 2.9999999999999996).
const Epsilon = 1e-7

// ErrInvalidFPS is returned when a frame rate is not strictly positive.
var ErrInvalidFPS = errors.New("clock: fps must be > 0")

// Clock is a pure frame/time converter. The zero value is not usable;
// construct one with New.
type Clock struct {
	fps float64
}

// New returns a Clock for the given frame rate.
func New(fps float64) (Clock, error) {
	if !(fps > 0) || math.IsInf(fps, 0) {
		return Clock{}, fmt.Errorf("%w: got %v", ErrInvalidFPS, fps)
	}
	return Clock{fps: fps}, nil
}

// MustNew is like New but panics on error.
// Use only for hardcoded rates.
func MustNew(fps float64) Clock {
	c, err := New(fps)
	if err != nil {
		panic(err)
	}
	return c
}

// FPS returns the frame rate.
func (c Clock) FPS() float64 {
	return c.fps
}

// ToFrame returns the index of the frame that contains time t (seconds).
func (c Clock) ToFrame(t float64) int {
	return Floor(t * c.fps)
}

// ToTime returns the presentation time (seconds) of frame.
func (c Clock) ToTime(frame int) float64 {
	return float64(frame) / c.fps
}

// FrameDuration returns the length of one frame in seconds.
func (c Clock) FrameDuration() float64 {
	return c.ToTime(1)
}

// Floor floors n with the Epsilon bias applied.
func Floor(n float64) int {
	return int(math.Floor(n + Epsilon))
}

// Even rounds n to the nearest integer and bumps odd results to the next
// even number. H.264 and most yuv420p pipelines reject odd dimensions.
func Even(n float64) int {
	r := int(math.Round(n))
	if r&1 == 1 {
		return r + 1
	}
	return r
}
