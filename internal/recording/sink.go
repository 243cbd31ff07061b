package recording

import (
	"context"
	"image"
)

// Sink turns a sequence of timestamped surface snapshots into an encoded,
// finalized container. Every method except Close may block; the Recording
// calls them off the tick goroutine and awaits each one individually.
type Sink interface {
	// Start prepares the output. No Append is issued before it returns nil.
	Start(ctx context.Context) error

	// Append encodes one frame shown at timestamp for duration seconds.
	// Timestamps are strictly increasing. The sink must not retain frame
	// after returning.
	Append(ctx context.Context, frame *image.RGBA, timestamp, duration float64) error

	// Close signals that no more frames will be appended.
	Close()

	// Finalize completes the container and returns its bytes.
	Finalize(ctx context.Context) (Output, error)

	// Cancel discards any partial output.
	Cancel(ctx context.Context) error
}

// Output is a finalized recording.
type Output struct {
	Data     []byte
	MimeType string
}

// FrameSource is the pixel surface a recording reads from. The recording
// does not own it.
type FrameSource interface {
	// Snapshot copies the current drawing buffer.
	Snapshot() (*image.RGBA, error)
	// Release hands a snapshot back once the sink is done with it.
	Release(img *image.RGBA)
}
