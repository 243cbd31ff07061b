package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/webm"
	"go.uber.org/zap"

	"github.com/ivlev/framecap/internal/recording"
)

// WebMSink encodes each frame as a JPEG keyframe and muxes it into an
// in-memory WebM stream with millisecond timecodes. It needs no external
// binary, at the cost of file size.
type WebMSink struct {
	cfg     Config
	log     *zap.Logger
	quality int

	mu      sync.Mutex
	buf     *memFile
	writer  webm.BlockWriteCloser
	frame   *image.RGBA
	lastTS  float64
	frames  int
	started bool
	closed  bool
	done    bool
}

// NewWebMSink returns an unstarted sink. Only MJPEG is supported.
func NewWebMSink(cfg Config) (*WebMSink, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Codec != CodecMJPEG {
		return nil, fmt.Errorf("%w: native backend writes mjpeg, not %s", ErrUnsupported, cfg.Codec)
	}
	return &WebMSink{
		cfg:     cfg,
		log:     cfg.logger(),
		quality: jpegQuality[cfg.Quality.rank()],
		lastTS:  -1,
	}, nil
}

func (s *WebMSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("video: encoder already started")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.buf = &memFile{}
	ws, err := webm.NewSimpleBlockWriter(s.buf,
		[]webm.TrackEntry{
			{
				Name:            "Video",
				TrackNumber:     1,
				TrackUID:        1,
				CodecID:         "V_MJPEG",
				TrackType:       1,
				DefaultDuration: uint64(float64(time.Second) / s.cfg.FPS),
				Video: &webm.Video{
					PixelWidth:  uint64(s.cfg.Width),
					PixelHeight: uint64(s.cfg.Height),
				},
			},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to create WebM writer: %w", err)
	}
	s.writer = ws[0]
	s.frame = image.NewRGBA(image.Rect(0, 0, s.cfg.Width, s.cfg.Height))
	s.started = true
	s.log.Debug("WebM writer started", zap.Int("jpeg_quality", s.quality))
	return nil
}

func (s *WebMSink) Append(ctx context.Context, img *image.RGBA, timestamp, duration float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case !s.started:
		return ErrNotStarted
	case s.closed:
		return ErrClosed
	case timestamp <= s.lastTS:
		return fmt.Errorf("%w: %.6fs after %.6fs", ErrNonMonotonic, timestamp, s.lastTS)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var src image.Image = img
	if b := img.Bounds(); b.Dx() != s.cfg.Width || b.Dy() != s.cfg.Height {
		fitFrame(s.frame, img)
		src = s.frame
	}
	// The writer marshals blocks on its own goroutine after Write returns,
	// so every frame needs a buffer of its own.
	var jpegBuf bytes.Buffer
	if err := jpeg.Encode(&jpegBuf, src, &jpeg.Options{Quality: s.quality}); err != nil {
		return fmt.Errorf("encode jpeg: %w", err)
	}
	timecode := int64(math.Round(timestamp * 1000))
	if _, err := s.writer.Write(true, timecode, jpegBuf.Bytes()); err != nil {
		return fmt.Errorf("write block: %w", err)
	}
	s.lastTS = timestamp
	s.frames++
	return nil
}

func (s *WebMSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Finalize flushes the container and returns the bytes.
func (s *WebMSink) Finalize(ctx context.Context) (recording.Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return recording.Output{}, ErrNotStarted
	}
	s.closed = true
	if err := s.closeWriterLocked(); err != nil {
		return recording.Output{}, fmt.Errorf("failed to close WebM writer: %w", err)
	}
	if s.frames == 0 {
		return recording.Output{}, fmt.Errorf("recording failed: no frames written")
	}
	data := s.buf.Bytes()
	s.log.Debug("WebM writer finished", zap.Int("frames", s.frames), zap.Int("bytes", len(data)))
	return recording.Output{Data: data, MimeType: FormatWebM.MimeType()}, nil
}

// Cancel drops the buffered stream.
func (s *WebMSink) Cancel(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if !s.started {
		return nil
	}
	err := s.closeWriterLocked()
	s.buf.Reset()
	return err
}

func (s *WebMSink) closeWriterLocked() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.writer.Close()
}

// memFile is the io.WriteCloser the WebM writer expects, kept in memory.
type memFile struct {
	bytes.Buffer
}

func (*memFile) Close() error { return nil }
