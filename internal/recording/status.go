package recording

import "errors"

// Status is the lifecycle state of a Recording.
type Status int

const (
	// Initializing: the sink is still starting.
	Initializing Status = iota
	// ReadyForFrames: captures are accepted.
	ReadyForFrames
	// Finalizing: stopped normally, the sink is producing output.
	Finalizing
	// Canceling: aborted by error or request, the sink is discarding output.
	Canceling
)

func (s Status) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case ReadyForFrames:
		return "ready-for-frames"
	case Finalizing:
		return "finalizing"
	case Canceling:
		return "canceling"
	}
	return "unknown"
}

// Terminal reports whether no further captures will ever be accepted.
func (s Status) Terminal() bool {
	return s == Finalizing || s == Canceling
}

// Errors returned by Recording.
var (
	ErrCanceled         = errors.New("recording: canceled")
	ErrNotReady         = errors.New("recording: not ready for frames")
	ErrCaptureInFlight  = errors.New("recording: capture already in flight")
	ErrFrameNotAhead    = errors.New("recording: frame is not ahead of last captured frame")
	ErrTerminated       = errors.New("recording: already stopping")
	ErrDurationRequired = errors.New("recording: frame-accurate mode requires a duration")
	ErrUnknownMode      = errors.New("recording: unknown mode")
	ErrNilSink          = errors.New("recording: nil sink")
	ErrNilSource        = errors.New("recording: nil frame source")
)
