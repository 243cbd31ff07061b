// Package source loads the pages a slideshow scene shows: PDF pages rendered
// through MuPDF, or a directory of images.
package source

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// ErrPageRange is returned for a page index outside [0, PageCount).
var ErrPageRange = errors.New("source: page out of range")

// Source is an ordered list of renderable pages. RenderPage may be called
// from several goroutines at once.
type Source interface {
	PageCount() int
	PageSize(index int) (width, height float64, err error)
	RenderPage(index int, dpi int) (image.Image, error)
	Close() error
}

// Open picks the source for path: a PDF file, an image file or a directory
// of images.
func Open(path string) (Source, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() && strings.EqualFold(filepath.Ext(path), ".pdf") {
		return NewPDF(path)
	}
	return NewImages(path)
}

// PDF renders pages of a PDF document.
type PDF struct {
	doc   *fitz.Document
	path  string
	pages int
}

// NewPDF opens path and counts its pages.
func NewPDF(path string) (*PDF, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	return &PDF{doc: doc, path: path, pages: doc.NumPage()}, nil
}

func (p *PDF) PageCount() int {
	return p.pages
}

// PageSize returns the page bounds at 72 DPI.
func (p *PDF) PageSize(index int) (float64, float64, error) {
	if index < 0 || index >= p.pages {
		return 0, 0, fmt.Errorf("%w: %d of %d", ErrPageRange, index, p.pages)
	}
	rect, err := p.doc.Bound(index)
	if err != nil {
		return 0, 0, err
	}
	return float64(rect.Dx()), float64(rect.Dy()), nil
}

// RenderPage rasterizes a page. Each call opens its own document handle,
// since a MuPDF document must not be shared between goroutines.
func (p *PDF) RenderPage(index int, dpi int) (image.Image, error) {
	if index < 0 || index >= p.pages {
		return nil, fmt.Errorf("%w: %d of %d", ErrPageRange, index, p.pages)
	}
	doc, err := fitz.New(p.path)
	if err != nil {
		return nil, err
	}
	defer doc.Close()
	return doc.ImageDPI(index, float64(dpi))
}

func (p *PDF) Close() error {
	return p.doc.Close()
}
