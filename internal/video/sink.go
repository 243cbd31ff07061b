// Package video holds the encoder sinks recordings write frames to: an
// ffmpeg-backed sink for the common codecs and an in-process MJPEG/WebM
// writer that needs no external binary.
package video

import (
	"errors"
	"fmt"
	"image"
	"os/exec"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/ivlev/framecap/internal/recording"
)

// Errors returned by the sinks.
var (
	ErrNotStarted    = errors.New("video: encoder not started")
	ErrNonMonotonic  = errors.New("video: timestamp does not increase")
	ErrClosed        = errors.New("video: encoder closed")
	ErrFFmpegMissing = errors.New("video: ffmpeg not found")
)

// Config describes the stream a sink produces.
type Config struct {
	Format  Format
	Codec   Codec
	Quality Quality
	Backend Backend
	// Encoder overrides the ffmpeg encoder picked for Codec.
	Encoder string
	FPS     float64
	// Width and Height are the encoded dimensions. Frames of another size
	// are rescaled.
	Width, Height int
	// FFmpegPath defaults to "ffmpeg" on PATH.
	FFmpegPath string
	// TempDir holds intermediate files; empty means os.TempDir.
	TempDir string
	Logger  *zap.Logger
}

func (c Config) validate() error {
	if c.FPS <= 0 {
		return fmt.Errorf("video: invalid fps %v", c.FPS)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("video: invalid size %dx%d", c.Width, c.Height)
	}
	if c.Width%2 != 0 || c.Height%2 != 0 {
		return fmt.Errorf("video: size %dx%d must be even", c.Width, c.Height)
	}
	if !c.Quality.Valid() {
		return fmt.Errorf("%w: quality %q", ErrUnsupported, c.Quality)
	}
	return CheckCompatible(c.Format, c.Codec)
}

func (c Config) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger.Named("video")
	}
	return zap.L().Named("video")
}

// NewSink picks the sink for cfg.
func NewSink(cfg Config) (recording.Sink, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	switch ResolveBackend(cfg.Format, cfg.Codec, cfg.Backend) {
	case BackendNative:
		return NewWebMSink(cfg)
	case BackendFFmpeg:
		return NewFFmpegSink(cfg)
	}
	return nil, fmt.Errorf("%w: backend %q", ErrUnsupported, cfg.Backend)
}

// ResolveBackend returns the sink backend used for format and codec. Auto
// selects the native writer for MJPEG in WebM and ffmpeg otherwise.
func ResolveBackend(format Format, codec Codec, backend Backend) Backend {
	if backend != BackendAuto {
		return backend
	}
	if format == FormatWebM && codec == CodecMJPEG {
		return BackendNative
	}
	return BackendFFmpeg
}

// FFmpegAvailable reports whether the ffmpeg binary can be found.
func FFmpegAvailable(path string) bool {
	if path == "" {
		path = "ffmpeg"
	}
	_, err := exec.LookPath(path)
	return err == nil
}

// fitFrame copies src into dst, rescaling when their sizes differ. dst must
// start at the origin.
func fitFrame(dst *image.RGBA, src *image.RGBA) {
	sb := src.Bounds()
	if sb.Dx() == dst.Rect.Dx() && sb.Dy() == dst.Rect.Dy() {
		draw.Draw(dst, dst.Rect, src, sb.Min, draw.Src)
		return
	}
	draw.ApproxBiLinear.Scale(dst, dst.Rect, src, sb, draw.Src, nil)
}
