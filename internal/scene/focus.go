package scene

import (
	"context"
	"fmt"
	"image"
	"math"
	"runtime"

	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/framecap/internal/source"
)

// FocusDetector locates the most detailed region of a page by counting
// Sobel edges on a coarse grid.
type FocusDetector struct {
	// EdgeThreshold is the gradient magnitude above which a pixel counts
	// as an edge.
	EdgeThreshold float64
	// MaxSide bounds the resolution the page is analyzed at.
	MaxSide int
	// Grid is the number of cells per side.
	Grid int
}

func NewFocusDetector() *FocusDetector {
	return &FocusDetector{EdgeThreshold: 30, MaxSide: 256, Grid: 8}
}

// Detect returns the region of img around the grid cell with the most edges,
// grown over adjacent cells holding at least half as many. It reports false
// for a featureless page.
func (d *FocusDetector) Detect(img image.Image) (image.Rectangle, bool) {
	b := img.Bounds()
	if b.Empty() {
		return image.Rectangle{}, false
	}
	scale := math.Min(1, float64(d.MaxSide)/float64(max(b.Dx(), b.Dy())))
	gw, gh := max(3, int(float64(b.Dx())*scale)), max(3, int(float64(b.Dy())*scale))
	gray := image.NewGray(image.Rect(0, 0, gw, gh))
	draw.ApproxBiLinear.Scale(gray, gray.Bounds(), img, b, draw.Src, nil)

	n := d.Grid
	counts := make([]int, n*n)
	for y := 1; y < gh-1; y++ {
		for x := 1; x < gw-1; x++ {
			if sobel(gray, x, y) > d.EdgeThreshold {
				counts[(y*n/gh)*n+x*n/gw]++
			}
		}
	}

	best := 0
	for i, c := range counts {
		if c > counts[best] {
			best = i
		}
	}
	if counts[best] == 0 {
		return image.Rectangle{}, false
	}

	// Grow over connected cells that are at least half as busy.
	cutoff := (counts[best] + 1) / 2
	seen := make([]bool, n*n)
	stack := []int{best}
	minX, minY, maxX, maxY := n, n, -1, -1
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[i] || counts[i] < cutoff {
			continue
		}
		seen[i] = true
		cx, cy := i%n, i/n
		minX, minY = min(minX, cx), min(minY, cy)
		maxX, maxY = max(maxX, cx), max(maxY, cy)
		if cx > 0 {
			stack = append(stack, i-1)
		}
		if cx < n-1 {
			stack = append(stack, i+1)
		}
		if cy > 0 {
			stack = append(stack, i-n)
		}
		if cy < n-1 {
			stack = append(stack, i+n)
		}
	}

	return image.Rect(
		b.Min.X+minX*b.Dx()/n,
		b.Min.Y+minY*b.Dy()/n,
		b.Min.X+(maxX+1)*b.Dx()/n,
		b.Min.Y+(maxY+1)*b.Dy()/n,
	), true
}

func sobel(g *image.Gray, x, y int) float64 {
	p := func(dx, dy int) float64 {
		return float64(g.GrayAt(x+dx, y+dy).Y)
	}
	gx := p(1, -1) + 2*p(1, 0) + p(1, 1) - p(-1, -1) - 2*p(-1, 0) - p(-1, 1)
	gy := p(-1, 1) + 2*p(0, 1) + p(1, 1) - p(-1, -1) - 2*p(0, -1) - p(1, -1)
	return math.Hypot(gx, gy)
}

// FocusCamera frames region of a page of the given bounds, zooming no
// further than peak.
func FocusCamera(region, page image.Rectangle, peak float64) Camera {
	cx := float64(region.Min.X+region.Max.X)/2 - float64(page.Min.X)
	cy := float64(region.Min.Y+region.Max.Y)/2 - float64(page.Min.Y)
	fit := math.Min(float64(page.Dx())/float64(region.Dx()), float64(page.Dy())/float64(region.Dy()))
	return Camera{
		X:    cx / float64(page.Dx()),
		Y:    cy / float64(page.Dy()),
		Zoom: math.Max(1, math.Min(peak, fit*0.9)),
	}
}

// SmartScenario renders every page of src and builds keyframes that push
// in toward its most detailed region. Featureless pages keep the full view.
func SmartScenario(ctx context.Context, src source.Source, dpi int, duration, peak, outro float64, d *FocusDetector) (*Scenario, error) {
	if d == nil {
		d = NewFocusDetector()
	}
	slides := make([]Slide, src.PageCount())
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i := range slides {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img, err := src.RenderPage(i, dpi)
			if err != nil {
				return fmt.Errorf("render page %d: %w", i, err)
			}
			kfs := pushIn(string(ZoomSmart), FullView, duration, outro)
			if region, ok := d.Detect(img); ok {
				kfs = pushIn(string(ZoomSmart), FocusCamera(region, img.Bounds(), peak), duration, outro)
			}
			slides[i] = Slide{
				ID:        i + 1,
				Input:     fmt.Sprintf("page_%d", i+1),
				Duration:  duration,
				Keyframes: kfs,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &Scenario{Version: "1.0", Slides: slides}, nil
}
