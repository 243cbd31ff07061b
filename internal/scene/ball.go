package scene

import (
	"math"

	"github.com/gogpu/gg"
)

// BouncingBall is a ball bouncing on the floor while drifting between the
// side walls, plus a progress bar for the current bounce. It is a test
// pattern: motion is smooth and periodic, so dropped or repeated frames are
// easy to spot in the output.
type BouncingBall struct {
	// Radius as a fraction of the shorter side.
	Radius float64
	// Bounce is the seconds between floor contacts.
	Bounce float64
	// Drift is the seconds to cross from one wall to the other.
	Drift      float64
	Background gg.RGBA
	Ball       gg.RGBA
	Bar        gg.RGBA
}

// NewBouncingBall returns the default test pattern.
func NewBouncingBall() *BouncingBall {
	return &BouncingBall{
		Radius:     0.08,
		Bounce:     1.2,
		Drift:      3.5,
		Background: gg.Hex("#1e1e2e"),
		Ball:       gg.Hex("#f38ba8"),
		Bar:        gg.Hex("#a6e3a1"),
	}
}

// Position returns the ball center for time t in a w by h box.
func (b *BouncingBall) Position(t, w, h float64) (x, y, r float64) {
	r = b.Radius * math.Min(w, h)

	drift := frac(t / (2 * b.Drift))
	x = r + (w-2*r)*(1-math.Abs(2*drift-1))

	p := frac(t / b.Bounce)
	y = h - r - (h-2*r)*4*p*(1-p)
	return x, y, r
}

func (b *BouncingBall) Draw(dc *gg.Context, f Frame) error {
	dc.ClearWithColor(b.Background)

	x, y, r := b.Position(f.Time, f.Width, f.Height)
	dc.SetColor(b.Ball.Color())
	dc.DrawCircle(x, y, r)
	if err := dc.Fill(); err != nil {
		return err
	}

	barH := math.Max(f.Height/60, 2)
	dc.SetColor(b.Bar.Color())
	dc.DrawRectangle(0, f.Height-barH, f.Width*frac(f.Time/b.Bounce), barH)
	return dc.Fill()
}

func frac(v float64) float64 {
	return v - math.Floor(v)
}
