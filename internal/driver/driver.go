// Package driver runs the render loop: it ticks a canvas manager, drawing a
// scene onto a surface each time, either paced like a display refresh or as
// fast as frame-accurate captures complete.
package driver

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/gg"

	"github.com/ivlev/framecap/internal/canvas"
	"github.com/ivlev/framecap/internal/recording"
	"github.com/ivlev/framecap/internal/scene"
	"github.com/ivlev/framecap/internal/surface"
)

// Options configures a Loop.
type Options struct {
	// Width and Height are the logical layout size reported each tick.
	Width, Height float64
	// Rate is ticks per second. Zero runs free: the next tick follows as
	// soon as the pending frame-accurate capture settles.
	Rate   float64
	Logger *zap.Logger
}

// idle is how long a free-running loop waits when no capture is pending.
const idle = time.Millisecond

// Loop draws a scene on every tick of a canvas manager.
type Loop struct {
	manager *canvas.Manager
	surface *surface.Surface
	scene   scene.Scene
	opts    Options
	log     *zap.Logger
	ticks   int
}

// New returns a loop; call Run or Record to start it.
func New(m *canvas.Manager, surf *surface.Surface, sc scene.Scene, opts Options) *Loop {
	logger := opts.Logger
	if logger == nil {
		logger = zap.L()
	}
	return &Loop{
		manager: m,
		surface: surf,
		scene:   sc,
		opts:    opts,
		log:     logger.Named("driver"),
	}
}

// Ticks returns the number of completed ticks.
func (l *Loop) Ticks() int {
	return l.ticks
}

func (l *Loop) draw(st canvas.State) error {
	return l.surface.Draw(func(dc *gg.Context, w, h float64) error {
		return l.scene.Draw(dc, scene.Frame{
			Index:  st.Frame,
			Time:   st.Time,
			Width:  w,
			Height: h,
		})
	})
}

// Run ticks until ctx ends or until is closed. It returns nil when until
// closes and ctx.Err() when ctx ends first.
func (l *Loop) Run(ctx context.Context, until <-chan struct{}) error {
	var pace <-chan time.Time
	if l.opts.Rate > 0 {
		t := time.NewTicker(time.Duration(float64(time.Second) / l.opts.Rate))
		defer t.Stop()
		pace = t.C
	}
	l.log.Debug("Render loop started", zap.Float64("rate", l.opts.Rate))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-until:
			return nil
		default:
		}

		report, err := l.manager.Tick(canvas.Tick{
			Width:  l.opts.Width,
			Height: l.opts.Height,
			Draw:   l.draw,
		})
		if err != nil {
			return err
		}
		l.ticks++

		var wake <-chan time.Time
		var advanced <-chan struct{}
		switch {
		case pace != nil:
			wake = pace
		case report.Advanced != nil:
			advanced = report.Advanced
		default:
			wake = time.After(idle)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-until:
			return nil
		case <-wake:
		case <-advanced:
		}
	}
}

// Record starts a recording and runs the loop until it settles. If the loop
// fails or ctx ends first, the recording is canceled and awaited so the
// manager is free again when Record returns.
func (l *Loop) Record(ctx context.Context, opts canvas.RecordOptions) (*recording.Recording, recording.Output, error) {
	rec, err := l.manager.Record(ctx, opts)
	if err != nil {
		return nil, recording.Output{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return l.Run(gctx, rec.Done())
	})
	var out recording.Output
	g.Go(func() error {
		var err error
		out, err = rec.Wait(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		if cerr := rec.Cancel(); cerr != nil && !errors.Is(cerr, recording.ErrTerminated) {
			l.log.Warn("Cancel failed", zap.Error(cerr))
		}
		<-rec.Done()
		return rec, recording.Output{}, err
	}
	return rec, out, nil
}

// Poster draws one tick at the current playback state and saves the surface
// as a PNG.
func (l *Loop) Poster(path string) error {
	if _, err := l.manager.Tick(canvas.Tick{
		Width:  l.opts.Width,
		Height: l.opts.Height,
		Draw:   l.draw,
	}); err != nil {
		return err
	}
	return l.surface.SavePNG(path)
}
