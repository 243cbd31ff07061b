package scene

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/gogpu/gg"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/framecap/internal/source"
)

// SlideshowOptions configures a Slideshow.
type SlideshowOptions struct {
	// DPI for rasterizing PDF pages.
	DPI int
	// PageDuration is used for pages the scenario does not time.
	PageDuration float64
	// Fade is the crossfade into the next page, in seconds.
	Fade float64
	// Scenario scripts the camera per page. Optional.
	Scenario *Scenario
	// Zoom drives the camera on pages the scenario does not cover.
	Zoom     ZoomMode
	ZoomPeak float64
	// Outro is the time at the end of each page the camera spends back on
	// the full page.
	Outro float64
	// Loop restarts after the last page instead of holding it.
	Loop       bool
	Background gg.RGBA
}

// Slideshow shows the pages of a source in sequence with a keyframed camera
// and crossfades.
type Slideshow struct {
	src    source.Source
	opts   SlideshowOptions
	starts []float64
	slides []Slide
	total  float64

	mu    sync.Mutex
	pages map[int]*gg.ImageBuf
}

// NewSlideshow lays out the page timeline. Pages are rendered lazily; call
// Preload to render them up front.
func NewSlideshow(src source.Source, opts SlideshowOptions) (*Slideshow, error) {
	n := src.PageCount()
	if n == 0 {
		return nil, fmt.Errorf("scene: source has no pages")
	}
	if opts.DPI <= 0 {
		opts.DPI = 150
	}
	if opts.PageDuration <= 0 {
		opts.PageDuration = 3
	}
	if opts.ZoomPeak <= 0 {
		opts.ZoomPeak = 1.3
	}
	if opts.Zoom == "" {
		opts.Zoom = ZoomNone
	}
	if opts.Scenario != nil {
		if err := opts.Scenario.Validate(); err != nil {
			return nil, err
		}
	}

	s := &Slideshow{
		src:    src,
		opts:   opts,
		starts: make([]float64, n),
		slides: make([]Slide, n),
		pages:  make(map[int]*gg.ImageBuf),
	}
	for i := 0; i < n; i++ {
		s.slides[i] = s.slideFor(i)
		s.starts[i] = s.total
		s.total += s.slides[i].Duration
	}
	if opts.Fade*2 > s.minDuration() {
		s.opts.Fade = s.minDuration() / 2
	}
	return s, nil
}

func (s *Slideshow) slideFor(i int) Slide {
	if sc := s.opts.Scenario; sc != nil && i < len(sc.Slides) {
		sl := sc.Slides[i]
		if sl.Duration <= 0 {
			sl.Duration = s.opts.PageDuration
		}
		return sl
	}
	d := s.opts.PageDuration
	return Slide{
		ID:        i + 1,
		Duration:  d,
		Keyframes: ZoomKeyframes(s.opts.Zoom, i, d, s.opts.ZoomPeak, s.opts.Outro),
	}
}

func (s *Slideshow) minDuration() float64 {
	m := math.Inf(1)
	for _, sl := range s.slides {
		m = math.Min(m, sl.Duration)
	}
	return m
}

// Duration returns the length of one pass over all pages.
func (s *Slideshow) Duration() float64 {
	return s.total
}

// PageAt returns the page shown at time t and the time into that page.
func (s *Slideshow) PageAt(t float64) (page int, local float64) {
	if s.opts.Loop {
		t = math.Mod(t, s.total)
		if t < 0 {
			t += s.total
		}
	}
	t = math.Max(t, 0)
	page = sort.Search(len(s.starts), func(i int) bool { return s.starts[i] > t }) - 1
	return page, t - s.starts[page]
}

// Preload renders every page, using up to workers goroutines.
func (s *Slideshow) Preload(ctx context.Context, workers int) error {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range s.slides {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, err := s.page(i)
			return err
		})
	}
	return g.Wait()
}

func (s *Slideshow) page(i int) (*gg.ImageBuf, error) {
	s.mu.Lock()
	buf, ok := s.pages[i]
	s.mu.Unlock()
	if ok {
		return buf, nil
	}

	img, err := s.src.RenderPage(i, s.opts.DPI)
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", i, err)
	}
	buf = gg.ImageBufFromImage(img)

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.pages[i]; ok {
		return cached, nil
	}
	s.pages[i] = buf
	return buf, nil
}

func (s *Slideshow) Draw(dc *gg.Context, f Frame) error {
	dc.ClearWithColor(s.opts.Background)

	i, local := s.PageAt(f.Time)
	if err := s.drawSlide(dc, f, i, local, 1); err != nil {
		return err
	}

	next := i + 1
	if next == len(s.slides) {
		if !s.opts.Loop {
			return nil
		}
		next = 0
	}
	fadeStart := s.slides[i].Duration - s.opts.Fade
	if s.opts.Fade > 0 && local > fadeStart {
		opacity := (local - fadeStart) / s.opts.Fade
		return s.drawSlide(dc, f, next, 0, math.Min(opacity, 1))
	}
	return nil
}

func (s *Slideshow) drawSlide(dc *gg.Context, f Frame, i int, local, opacity float64) error {
	if opacity <= 0 {
		return nil
	}
	buf, err := s.page(i)
	if err != nil {
		return err
	}
	cam := Interpolate(s.slides[i].Keyframes, local)
	x, y, w, h := Viewport(buf, cam, f.Width, f.Height)
	dc.DrawImageEx(buf, gg.DrawImageOptions{
		X:             x,
		Y:             y,
		DstWidth:      w,
		DstHeight:     h,
		Interpolation: gg.InterpBilinear,
		Opacity:       opacity,
		BlendMode:     gg.BlendNormal,
	})
	return nil
}

// Viewport places a page in a width by height view: fitted whole at zoom 1,
// magnified around the camera focus otherwise, never uncovering the view on
// an axis the page fills.
func Viewport(buf *gg.ImageBuf, cam Camera, width, height float64) (x, y, w, h float64) {
	pw, ph := buf.Bounds()
	fit := math.Min(width/float64(pw), height/float64(ph))
	scale := fit * math.Max(cam.Zoom, 1)
	w, h = float64(pw)*scale, float64(ph)*scale
	return place(width, w, cam.X), place(height, h, cam.Y), w, h
}

func place(view, size, focus float64) float64 {
	if size <= view {
		return (view - size) / 2
	}
	pos := view/2 - focus*size
	return math.Min(math.Max(pos, view-size), 0)
}
