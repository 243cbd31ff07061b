// Package scene holds the drawable content a render loop paints each tick.
// Scenes are pure functions of the frame they are given, so a frame-accurate
// recording reproduces them exactly.
package scene

import "github.com/gogpu/gg"

// Frame is what a scene needs to know about the frame being drawn. Sizes
// are logical; the context is already scaled to the device pixel ratio.
type Frame struct {
	Index  int
	Time   float64
	Width  float64
	Height float64
}

// Scene draws one frame.
type Scene interface {
	Draw(dc *gg.Context, f Frame) error
}

// Func adapts a function to Scene.
type Func func(dc *gg.Context, f Frame) error

func (fn Func) Draw(dc *gg.Context, f Frame) error {
	return fn(dc, f)
}
