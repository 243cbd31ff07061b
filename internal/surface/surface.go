// Package surface is the software drawable a render loop paints into and a
// recording snapshots. It wraps a gg.Context whose pixel buffer is the
// logical size multiplied by the device pixel ratio.
package surface

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/gogpu/gg"
	"go.uber.org/zap"

	"github.com/ivlev/framecap/internal/clock"
)

// ErrInvalidSize is returned for non-positive dimensions or ratios.
var ErrInvalidSize = errors.New("surface: invalid size")

// Surface is safe for concurrent use. Drawing and snapshots are serialized.
type Surface struct {
	mu     sync.Mutex
	dc     *gg.Context
	width  int
	height int
	ratio  float64
	pool   *framePool
	log    *zap.Logger
}

// Option configures a Surface.
type Option func(*Surface)

// WithLogger sets the logger. The default is zap.L().Named("surface").
func WithLogger(l *zap.Logger) Option {
	return func(s *Surface) { s.log = l.Named("surface") }
}

// New returns a surface of the given logical size and device pixel ratio.
func New(width, height int, ratio float64, opts ...Option) (*Surface, error) {
	if width <= 0 || height <= 0 || ratio <= 0 {
		return nil, fmt.Errorf("%w: %dx%d@%v", ErrInvalidSize, width, height, ratio)
	}
	s := &Surface{
		width:  width,
		height: height,
		ratio:  ratio,
		pool:   newFramePool(),
		log:    zap.L().Named("surface"),
	}
	for _, opt := range opts {
		opt(s)
	}
	bw, bh := s.bufferSize()
	s.dc = gg.NewContext(bw, bh)
	return s, nil
}

// PixelRatio returns the device pixel ratio.
func (s *Surface) PixelRatio() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ratio
}

// SetPixelRatio changes the ratio and reallocates the buffer. Non-positive
// ratios are ignored.
func (s *Surface) SetPixelRatio(ratio float64) {
	if ratio <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratio = ratio
	s.resizeLocked()
}

// SetSize sets the logical size. Non-positive sizes are ignored.
func (s *Surface) SetSize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if width == s.width && height == s.height {
		return
	}
	s.width, s.height = width, height
	s.resizeLocked()
}

// Size returns the logical size.
func (s *Surface) Size() (width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// BufferSize returns the pixel dimensions of the drawing buffer. Both are
// even so the buffer can be fed to 4:2:0 encoders unchanged.
func (s *Surface) BufferSize() (width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bufferSize()
}

func (s *Surface) bufferSize() (int, int) {
	w := max(clock.Even(float64(s.width)*s.ratio), 2)
	h := max(clock.Even(float64(s.height)*s.ratio), 2)
	return w, h
}

func (s *Surface) resizeLocked() {
	w, h := s.bufferSize()
	s.resizeBuffer(w, h)
}

// resizeBuffer keeps the current buffer when gg rejects the size.
func (s *Surface) resizeBuffer(w, h int) {
	if err := s.dc.Resize(w, h); err != nil {
		s.log.Warn("Resize failed",
			zap.Int("width", w),
			zap.Int("height", h),
			zap.Error(err))
	}
}

// Draw runs fn with the context scaled so that fn works in logical units.
func (s *Surface) Draw(fn func(dc *gg.Context, width, height float64) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dc.Push()
	defer s.dc.Pop()
	s.dc.Identity()
	s.dc.Scale(s.ratio, s.ratio)
	return fn(s.dc, float64(s.width), float64(s.height))
}

// Snapshot copies the current buffer. Return it with Release.
func (s *Surface) Snapshot() (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.dc.FlushGPU(); err != nil {
		return nil, fmt.Errorf("flush: %w", err)
	}
	pm := s.dc.ResizeTarget()
	img := s.pool.get(image.Rect(0, 0, s.dc.Width(), s.dc.Height()))
	if n := copy(img.Pix, pm.Data()); n != len(img.Pix) {
		s.pool.put(img)
		return nil, fmt.Errorf("surface: short copy %d of %d bytes", n, len(img.Pix))
	}
	return img, nil
}

// Release returns a snapshot to the pool.
func (s *Surface) Release(img *image.RGBA) {
	s.pool.put(img)
}

// SavePNG writes the current buffer, for debugging and thumbnails.
func (s *Surface) SavePNG(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dc.SavePNG(path)
}

// Close releases the drawing context.
func (s *Surface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dc.Close()
}
