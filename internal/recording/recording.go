// Package recording implements the capture lifecycle of a single recording
// session: Initializing -> ReadyForFrames -> (Finalizing | Canceling).
//
// Frames are appended to the Sink strictly in increasing frame order, each
// exactly once, at presentation times measured from the first captured frame
// (the anchor). Timestamps never depend on wall-clock time, so frame-accurate
// output is reproducible regardless of how long each append takes.
package recording

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ivlev/framecap/internal/clock"
)

// Params configures a Recording.
type Params struct {
	Mode Mode
	FPS  float64
	// Duration in seconds. Required for FrameAccurate; zero means "until
	// stopped" for Realtime.
	Duration float64
	Sink     Sink
	Source   FrameSource
	Logger   *zap.Logger
	// OnSettled runs exactly once, before Wait returns, with the final
	// outcome. The canvas manager uses it to restore its own state.
	OnSettled func(Output, error)
}

// Recording is one capture session. It is safe for concurrent use: the tick
// goroutine issues captures while sink calls complete on other goroutines.
type Recording struct {
	id       uuid.UUID
	mode     Mode
	duration float64
	clock    clock.Clock
	policy   StopPolicy
	sink     Sink
	source   FrameSource
	ctx      context.Context
	log      *zap.Logger

	onSettled func(Output, error)

	mu     sync.Mutex
	status Status
	// capturing guards against a second capture overlapping an in-flight
	// append. It is only read and written under mu.
	capturing    bool
	firstFrame   int
	hasFirst     bool
	lastCaptured int
	hasLast      bool
	captured     int
	// failure holds an error that arrived while Finalizing; the finalize
	// path reroutes to cancellation when it is set.
	failure error

	// ops counts in-flight Start/Append calls. Terminal transitions wait
	// for it before touching the sink again.
	ops        sync.WaitGroup
	closeOnce  sync.Once
	settleOnce sync.Once
	done       chan struct{}
	out        Output
	err        error
}

// New validates p, starts the sink asynchronously and returns the
// Recording in the Initializing state. ctx is handed to every sink call.
func New(ctx context.Context, p Params) (*Recording, error) {
	if p.Sink == nil {
		return nil, ErrNilSink
	}
	if p.Source == nil {
		return nil, ErrNilSource
	}
	c, err := clock.New(p.FPS)
	if err != nil {
		return nil, err
	}
	policy, err := policyFor(p.Mode, p.Duration)
	if err != nil {
		return nil, err
	}

	logger := p.Logger
	if logger == nil {
		logger = zap.L().Named("recording")
	}
	id := uuid.New()

	r := &Recording{
		id:        id,
		mode:      p.Mode,
		duration:  p.Duration,
		clock:     c,
		policy:    policy,
		sink:      p.Sink,
		source:    p.Source,
		ctx:       ctx,
		onSettled: p.OnSettled,
		status:    Initializing,
		done:      make(chan struct{}),
		log: logger.With(
			zap.String("recording_id", id.String()),
			zap.String("mode", string(p.Mode)),
		),
	}

	r.ops.Add(1)
	go r.start()

	r.log.Debug("Recording initializing",
		zap.Float64("fps", p.FPS),
		zap.Float64("duration", p.Duration))
	return r, nil
}

func (r *Recording) start() {
	err := r.sink.Start(r.ctx)

	r.mu.Lock()
	if err != nil {
		r.cancelLocked(fmt.Errorf("start encoder: %w", err))
	} else if r.status == Initializing {
		r.status = ReadyForFrames
		r.log.Debug("Recording ready for frames")
	}
	r.mu.Unlock()
	r.ops.Done()
}

// CaptureFrame snapshots the frame source and appends it as frame. It
// returns synchronously with an error, without changing state, when the
// recording is not ReadyForFrames, a capture is already in flight, or frame
// is not ahead of the last captured frame. Otherwise the returned channel
// receives the append result once it settles.
//
// The first accepted frame becomes the anchor: its presentation time is 0.
func (r *Recording) CaptureFrame(frame int) (<-chan error, error) {
	r.mu.Lock()
	switch {
	case r.status != ReadyForFrames:
		st := r.status
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: status %s", ErrNotReady, st)
	case r.capturing:
		r.mu.Unlock()
		return nil, ErrCaptureInFlight
	case r.hasLast && frame <= r.lastCaptured:
		last := r.lastCaptured
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: frame %d, last %d", ErrFrameNotAhead, frame, last)
	}

	img, err := r.source.Snapshot()
	if err != nil {
		err = fmt.Errorf("snapshot frame %d: %w", frame, err)
		r.cancelLocked(err)
		r.mu.Unlock()
		return nil, err
	}

	if !r.hasFirst {
		r.firstFrame = frame
		r.hasFirst = true
	}
	first := r.firstFrame
	r.capturing = true
	r.ops.Add(1)
	r.mu.Unlock()

	result := make(chan error, 1)
	go r.append(frame, first, img, result)
	return result, nil
}

func (r *Recording) append(frame, first int, img *image.RGBA, result chan<- error) {
	timestamp := r.clock.ToTime(frame - first)
	err := r.sink.Append(r.ctx, img, timestamp, r.clock.FrameDuration())
	r.source.Release(img)

	r.mu.Lock()
	r.capturing = false
	if err != nil {
		err = fmt.Errorf("capture frame %d: %w", frame, err)
		r.log.Warn("Capture failed", zap.Int("frame", frame), zap.Error(err))
		r.cancelLocked(err)
	} else {
		r.lastCaptured = frame
		r.hasLast = true
		r.captured++
		if r.status == ReadyForFrames && r.policy.ShouldStop(r.clock, frame, first) {
			r.log.Debug("Duration reached",
				zap.Int("frame", frame),
				zap.Int("captured", r.captured))
			r.finalizeLocked()
		}
	}
	r.mu.Unlock()
	r.ops.Done()

	result <- err
	close(result)
}

// Stop ends the recording normally: no more captures are accepted, in-flight
// work settles, and the sink finalizes its output.
func (r *Recording) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return fmt.Errorf("%w: status %s", ErrTerminated, r.status)
	}
	r.finalizeLocked()
	return nil
}

// Cancel aborts the recording. Wait reports ErrCanceled.
func (r *Recording) Cancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return fmt.Errorf("%w: status %s", ErrTerminated, r.status)
	}
	r.cancelLocked(ErrCanceled)
	return nil
}

func (r *Recording) finalizeLocked() {
	if r.status.Terminal() {
		return
	}
	r.status = Finalizing
	r.log.Debug("Recording finalizing", zap.Int("captured", r.captured))
	go r.finalize()
}

// cancelLocked moves to Canceling. While Finalizing it only records reason,
// which the finalize path picks up once in-flight work has settled.
func (r *Recording) cancelLocked(reason error) {
	switch r.status {
	case Canceling:
		return
	case Finalizing:
		if r.failure == nil {
			r.failure = reason
		}
		return
	}
	r.status = Canceling
	r.log.Debug("Recording canceling", zap.Error(reason))
	go r.cancel(reason)
}

func (r *Recording) finalize() {
	r.ops.Wait()

	r.mu.Lock()
	failure := r.failure
	if failure != nil {
		r.status = Canceling
	}
	r.mu.Unlock()
	if failure != nil {
		r.cancel(failure)
		return
	}

	r.closeSource()
	out, err := r.sink.Finalize(r.ctx)
	if err != nil {
		r.mu.Lock()
		r.status = Canceling
		r.mu.Unlock()
		r.cancel(fmt.Errorf("finalize: %w", err))
		return
	}
	r.settle(out, nil)
}

func (r *Recording) cancel(reason error) {
	r.ops.Wait()

	r.closeSource()
	if err := r.sink.Cancel(r.ctx); err != nil {
		reason = errors.Join(reason, fmt.Errorf("cancel encoder: %w", err))
	}
	r.settle(Output{}, reason)
}

func (r *Recording) closeSource() {
	r.closeOnce.Do(r.sink.Close)
}

func (r *Recording) settle(out Output, err error) {
	r.settleOnce.Do(func() {
		if err != nil {
			r.log.Info("Recording failed", zap.Error(err))
		} else {
			r.log.Info("Recording finished",
				zap.Int("frames", r.Captured()),
				zap.Int("bytes", len(out.Data)),
				zap.String("mime", out.MimeType))
		}
		if r.onSettled != nil {
			r.onSettled(out, err)
		}
		r.out, r.err = out, err
		close(r.done)
	})
}

// Done is closed once the recording has settled.
func (r *Recording) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the recording settles or ctx ends. Waiting does not
// affect the recording; use Cancel to abort it.
func (r *Recording) Wait(ctx context.Context) (Output, error) {
	select {
	case <-r.done:
		return r.out, r.err
	case <-ctx.Done():
		return Output{}, ctx.Err()
	}
}

// ID identifies the session in logs and output names.
func (r *Recording) ID() uuid.UUID {
	return r.id
}

// Mode returns the capture mode.
func (r *Recording) Mode() Mode {
	return r.mode
}

// Duration returns the configured duration in seconds, zero if unbounded.
func (r *Recording) Duration() float64 {
	return r.duration
}

// FPS returns the rate the recording was started with.
func (r *Recording) FPS() float64 {
	return r.clock.FPS()
}

// Status returns the current lifecycle state.
func (r *Recording) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Capturing reports whether an append is in flight.
func (r *Recording) Capturing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capturing
}

// FirstFrame returns the anchor frame, if any frame has been accepted.
func (r *Recording) FirstFrame() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.firstFrame, r.hasFirst
}

// LastCapturedFrame returns the most recent successfully appended frame.
func (r *Recording) LastCapturedFrame() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastCaptured, r.hasLast
}

// Captured returns the number of frames appended so far.
func (r *Recording) Captured() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.captured
}

// CanCapture reports whether CaptureFrame(frame) would be accepted right now.
func (r *Recording) CanCapture(frame int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status == ReadyForFrames && !r.capturing && (!r.hasLast || frame > r.lastCaptured)
}
