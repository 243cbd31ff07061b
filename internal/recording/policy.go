package recording

import (
	"fmt"
	"strings"

	"github.com/ivlev/framecap/internal/clock"
)

// Mode selects how frames are scheduled against the render loop.
type Mode string

const (
	// FrameAccurate captures every frame index in order, decoupled from
	// wall-clock time. It may run faster or slower than real time.
	FrameAccurate Mode = "frame-accurate"
	// Realtime captures whatever frame playback has reached on each tick.
	Realtime Mode = "realtime"
)

// ParseMode accepts the canonical names plus "deterministic" as an alias
// for frame-accurate.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "frame-accurate", "frameaccurate", "deterministic":
		return FrameAccurate, nil
	case "realtime", "real-time":
		return Realtime, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// StopPolicy decides, after a frame has been appended, whether the
// recording has reached its end.
type StopPolicy interface {
	ShouldStop(c clock.Clock, frame, firstFrame int) bool
}

// DurationPolicy stops once the appended frames span Duration seconds.
// The frame that crosses the boundary is included: with fps=10 and
// Duration=2 the 20th appended frame triggers the stop.
type DurationPolicy struct {
	Duration float64
}

func (p DurationPolicy) ShouldStop(c clock.Clock, frame, firstFrame int) bool {
	return c.ToTime(frame-firstFrame+1)+clock.Epsilon >= p.Duration
}

// UntilStopped never stops on its own; the caller must call Stop or Cancel.
type UntilStopped struct{}

func (UntilStopped) ShouldStop(clock.Clock, int, int) bool { return false }

// policyFor maps a mode and duration (0 = none) onto a StopPolicy.
func policyFor(mode Mode, duration float64) (StopPolicy, error) {
	if duration < 0 {
		return nil, fmt.Errorf("recording: negative duration %v", duration)
	}
	switch mode {
	case FrameAccurate:
		if duration == 0 {
			return nil, ErrDurationRequired
		}
		return DurationPolicy{Duration: duration}, nil
	case Realtime:
		if duration == 0 {
			return UntilStopped{}, nil
		}
		return DurationPolicy{Duration: duration}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
}
