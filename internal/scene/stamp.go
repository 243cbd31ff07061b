package scene

import (
	"fmt"

	"github.com/gogpu/gg"
	"github.com/skip2/go-qrcode"
)

// Stamp overlays a QR code encoding the frame index and time onto another
// scene, so each frame of an encoded video can be identified by scanning it.
type Stamp struct {
	Inner Scene
	// Size is the side of the code in logical units.
	Size   float64
	Margin float64
	// Resolution is the side of the rasterized code in pixels.
	Resolution int
}

// NewStamp wraps inner with a 96-unit code in the bottom-right corner.
func NewStamp(inner Scene) *Stamp {
	return &Stamp{Inner: inner, Size: 96, Margin: 12, Resolution: 256}
}

// Payload is the text encoded for frame f.
func Payload(f Frame) string {
	return fmt.Sprintf("frame=%d t=%.6f", f.Index, f.Time)
}

func (s *Stamp) Draw(dc *gg.Context, f Frame) error {
	if s.Inner != nil {
		if err := s.Inner.Draw(dc, f); err != nil {
			return err
		}
	}

	code, err := qrcode.New(Payload(f), qrcode.Medium)
	if err != nil {
		return fmt.Errorf("qr code: %w", err)
	}
	size := min(s.Size, f.Width-2*s.Margin, f.Height-2*s.Margin)
	if size <= 0 {
		return nil
	}
	x := f.Width - s.Margin - size
	y := f.Height - s.Margin - size
	dc.DrawImageEx(gg.ImageBufFromImage(code.Image(s.Resolution)), gg.DrawImageOptions{
		X:             x,
		Y:             y,
		DstWidth:      size,
		DstHeight:     size,
		Interpolation: gg.InterpNearest,
		Opacity:       1,
	})
	return nil
}
