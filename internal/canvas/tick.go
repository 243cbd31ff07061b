package canvas

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ivlev/framecap/internal/clock"
	"github.com/ivlev/framecap/internal/recording"
)

// DrawFunc renders the scene for the given state onto the surface.
type DrawFunc func(State) error

// Tick is one iteration of the render loop.
type Tick struct {
	// Width and Height are the logical size of the drawable, as laid out.
	Width, Height float64
	Draw          DrawFunc
}

// TickReport describes what a Tick did.
type TickReport struct {
	// State is the state the frame was drawn with.
	State State
	// Captured is true when the drawn frame was handed to the recording.
	Captured bool
	// Advanced is closed once a frame-accurate capture has settled and the
	// frame index has moved on. Nil when nothing is pending.
	Advanced <-chan struct{}
}

// Tick advances playback by the wall-clock time since the previous tick,
// resizes the drawing buffer, draws, and, when the active recording can
// accept the drawn frame, captures it.
//
// In frame-accurate mode the frame index advances by one only after the
// capture settles, so every frame is drawn and captured exactly once no
// matter how slow encoding is.
func (m *Manager) Tick(t Tick) (TickReport, error) {
	m.mu.Lock()
	m.playback.Advance(m.wall.Now())
	m.surface.SetSize(clock.Even(t.Width), clock.Even(t.Height))
	st := m.stateLocked()
	rec := m.rec
	m.mu.Unlock()

	report := TickReport{State: st}
	if t.Draw != nil {
		if err := t.Draw(st); err != nil {
			return report, fmt.Errorf("draw frame %d: %w", st.Frame, err)
		}
	}

	if rec == nil || !rec.CanCapture(st.Frame) {
		return report, nil
	}
	result, err := rec.CaptureFrame(st.Frame)
	if err != nil {
		if isCaptureRace(err) {
			return report, nil
		}
		// The recording cancels itself; the loop keeps rendering.
		m.log.Warn("Capture rejected", zap.Int("frame", st.Frame), zap.Error(err))
		return report, nil
	}
	report.Captured = true

	if rec.Mode() != recording.FrameAccurate {
		go func() { <-result }()
		return report, nil
	}
	advanced := make(chan struct{})
	report.Advanced = advanced
	go func() {
		defer close(advanced)
		if err := <-result; err != nil {
			return
		}
		m.mu.Lock()
		m.playback.SetFrame(m.playback.Frame() + 1)
		m.mu.Unlock()
	}()
	return report, nil
}

// isCaptureRace reports errors caused by state changing between CanCapture
// and CaptureFrame.
func isCaptureRace(err error) bool {
	return errors.Is(err, recording.ErrNotReady) ||
		errors.Is(err, recording.ErrCaptureInFlight) ||
		errors.Is(err, recording.ErrFrameNotAhead)
}
