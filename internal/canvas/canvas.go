// Package canvas is the composition root tying a playback controller and at
// most one active recording to a drawable surface. The render loop calls
// Manager.Tick once per rendered frame; everything else is the control
// surface a UI or CLI drives.
package canvas

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ivlev/framecap/internal/playback"
	"github.com/ivlev/framecap/internal/recording"
	"github.com/ivlev/framecap/internal/video"
)

// ErrRecordingActive is returned by Record while another recording has not
// settled yet.
var ErrRecordingActive = errors.New("canvas: a recording is already active")

// Surface is the drawable the render loop presents. Its drawing buffer is
// the logical size multiplied by the device pixel ratio, rounded to even
// integers.
type Surface interface {
	recording.FrameSource
	PixelRatio() float64
	SetPixelRatio(ratio float64)
	// SetSize sets the logical size.
	SetSize(width, height int)
	// BufferSize returns the drawing buffer dimensions in pixels.
	BufferSize() (width, height int)
}

// SinkFactory builds the encoder sink for a recording.
type SinkFactory func(video.Config) (recording.Sink, error)

// Manager owns the playback controller and the active recording.
// All methods are safe for concurrent use.
type Manager struct {
	surface Surface
	wall    playback.WallClock
	newSink SinkFactory
	log     *zap.Logger

	mu       sync.Mutex
	playback *playback.Controller
	rec      *recording.Recording
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The default is zap.L().Named("canvas").
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithWallClock replaces the wall clock used to measure tick deltas.
func WithWallClock(c playback.WallClock) Option {
	return func(m *Manager) { m.wall = c }
}

// WithSinkFactory replaces video.NewSink.
func WithSinkFactory(f SinkFactory) Option {
	return func(m *Manager) { m.newSink = f }
}

// New returns a paused Manager at frame zero.
func New(surface Surface, fps float64, opts ...Option) (*Manager, error) {
	if surface == nil {
		return nil, errors.New("canvas: nil surface")
	}
	pb, err := playback.New(fps)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		surface:  surface,
		wall:     playback.RealClock{},
		newSink:  video.NewSink,
		log:      zap.L().Named("canvas"),
		playback: pb,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// State is a snapshot of what the UI shows.
type State struct {
	Time    float64
	Frame   int
	Playing bool
	FPS     float64
	// Recording is false when no recording is held.
	Recording       bool
	RecordingStatus recording.Status
}

// State returns the current playback and recording state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() State {
	st := State{
		Time:    m.playback.Time(),
		Frame:   m.playback.Frame(),
		Playing: m.playback.Playing(),
		FPS:     m.playback.FPS(),
	}
	if m.rec != nil {
		st.Recording = true
		st.RecordingStatus = m.rec.Status()
	}
	return st
}

// Play starts advancing time from the next tick. Idempotent.
func (m *Manager) Play() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playback.Play(m.wall.Now())
}

// Pause stops advancing time. Idempotent.
func (m *Manager) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playback.Pause()
}

// SetTime jumps to the frame containing t seconds.
func (m *Manager) SetTime(t float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playback.SetTime(t)
}

// SetFrame jumps to frame. Valid during a recording: the recording stays
// anchored to the first frame it captured.
func (m *Manager) SetFrame(frame int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playback.SetFrame(frame)
}

// SetFPS changes the rate for subsequent conversions. An active recording
// keeps the rate it was started with.
func (m *Manager) SetFPS(fps float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playback.SetFPS(fps)
}

// Time returns the frame-quantized playback time.
func (m *Manager) Time() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playback.Time()
}

// Frame returns the current frame index.
func (m *Manager) Frame() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playback.Frame()
}

// Playing reports whether time advances on tick.
func (m *Manager) Playing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playback.Playing()
}

// FPS returns the current frame rate.
func (m *Manager) FPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playback.FPS()
}

// Recording returns the active recording, or nil.
func (m *Manager) Recording() *recording.Recording {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec
}

// Record starts a recording and returns its handle; Wait on it for the
// encoded bytes. While the recording is held the surface pixel ratio is
// multiplied by opts.Scale; the original ratio is restored exactly once when
// the recording settles, whichever way it ends.
//
// Frame-accurate recordings pause playback: frames then advance only as
// captures complete. Realtime recordings start playback.
func (m *Manager) Record(ctx context.Context, opts RecordOptions) (*recording.Recording, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec != nil {
		return nil, fmt.Errorf("%w: %s (%s)", ErrRecordingActive, m.rec.ID(), m.rec.Status())
	}

	initialRatio := m.surface.PixelRatio()
	m.surface.SetPixelRatio(initialRatio * opts.Scale.Factor())
	var restoreOnce sync.Once
	restore := func() {
		restoreOnce.Do(func() { m.surface.SetPixelRatio(initialRatio) })
	}

	width, height := m.surface.BufferSize()
	fps := m.playback.FPS()
	sink, err := m.newSink(video.Config{
		Format:  opts.Format,
		Codec:   opts.Codec,
		Quality: opts.Quality,
		Encoder: opts.Encoder,
		Backend: opts.Backend,
		FPS:     fps,
		Width:   width,
		Height:  height,
		Logger:  m.log,
	})
	if err != nil {
		restore()
		return nil, fmt.Errorf("canvas: create encoder: %w", err)
	}

	var rec *recording.Recording
	rec, err = recording.New(ctx, recording.Params{
		Mode:     opts.Mode,
		FPS:      fps,
		Duration: opts.Duration,
		Sink:     sink,
		Source:   m.surface,
		Logger:   m.log.Named("recording"),
		OnSettled: func(recording.Output, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.playback.Pause()
			if m.rec == rec {
				m.rec = nil
			}
			restore()
		},
	})
	if err != nil {
		restore()
		return nil, err
	}
	m.rec = rec

	switch opts.Mode {
	case recording.FrameAccurate:
		m.playback.Pause()
	case recording.Realtime:
		m.playback.Play(m.wall.Now())
	}

	m.log.Info("Recording started",
		zap.String("recording_id", rec.ID().String()),
		zap.String("mode", string(opts.Mode)),
		zap.Float64("fps", fps),
		zap.Float64("duration", opts.Duration),
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Stringer("scale", opts.Scale))
	return rec, nil
}

// Stop finalizes the active recording.
func (m *Manager) Stop() error {
	rec := m.Recording()
	if rec == nil {
		return errors.New("canvas: no active recording")
	}
	return rec.Stop()
}

// Cancel aborts the active recording.
func (m *Manager) Cancel() error {
	rec := m.Recording()
	if rec == nil {
		return errors.New("canvas: no active recording")
	}
	return rec.Cancel()
}
