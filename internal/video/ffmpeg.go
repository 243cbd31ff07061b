package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/framecap/internal/recording"
)

// FFmpegSink pipes raw RGBA frames into an ffmpeg process writing a
// temporary file, then returns the file contents on Finalize.
//
// Frames are placed on the constant-rate output grid by timestamp. When a
// realtime recording skips frame indices, the previous frame is repeated to
// fill the gap.
type FFmpegSink struct {
	cfg     Config
	log     *zap.Logger
	encoder string

	mu      sync.Mutex
	tmpDir  string
	outPath string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	// stderr has its own lock: Append holds mu while blocked on stdin, and
	// ffmpeg may be waiting for its stderr to drain.
	errMu   sync.Mutex
	stderr  bytes.Buffer
	group   *errgroup.Group
	kill    context.CancelFunc
	frame   *image.RGBA
	next    int
	started bool
	closed  bool
}

// NewFFmpegSink returns an unstarted sink. It fails fast when ffmpeg is
// not installed.
func NewFFmpegSink(cfg Config) (*FFmpegSink, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if !FFmpegAvailable(cfg.FFmpegPath) {
		return nil, fmt.Errorf("%w: %s", ErrFFmpegMissing, cfg.FFmpegPath)
	}
	return &FFmpegSink{cfg: cfg, log: cfg.logger()}, nil
}

func (s *FFmpegSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("video: encoder already started")
	}

	s.encoder = ResolveEncoder(ctx, s.cfg.Codec, s.cfg.Encoder, s.cfg.FFmpegPath)

	tmpDir, err := os.MkdirTemp(s.cfg.TempDir, "framecap_")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	s.tmpDir = tmpDir
	s.outPath = filepath.Join(tmpDir, "out."+s.cfg.Format.Extension())

	procCtx, kill := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, s.cfg.FFmpegPath, s.buildArgs()...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		kill()
		os.RemoveAll(tmpDir)
		return fmt.Errorf("stdin pipe error: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		kill()
		os.RemoveAll(tmpDir)
		return fmt.Errorf("stderr pipe error: %w", err)
	}
	if err := cmd.Start(); err != nil {
		kill()
		os.RemoveAll(tmpDir)
		return fmt.Errorf("ffmpeg start error: %w", err)
	}

	// Drain stderr so ffmpeg never blocks on a full pipe. The group must
	// finish before cmd.Wait.
	g := new(errgroup.Group)
	g.Go(func() error {
		_, err := io.Copy(&lockedWriter{mu: &s.errMu, buf: &s.stderr}, stderr)
		return err
	})

	s.cmd, s.stdin, s.group, s.kill = cmd, stdin, g, kill
	s.frame = image.NewRGBA(image.Rect(0, 0, s.cfg.Width, s.cfg.Height))
	s.started = true
	s.log.Debug("ffmpeg started",
		zap.String("encoder", s.encoder),
		zap.Strings("args", cmd.Args[1:]))
	return nil
}

func (s *FFmpegSink) buildArgs() []string {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		"-framerate", strconv.FormatFloat(s.cfg.FPS, 'f', -1, 64),
		"-i", "-",
		"-c:v", s.encoder,
		"-pix_fmt", pixelFormat(s.encoder),
	}
	args = append(args, qualityArgs(s.encoder, s.cfg.Quality)...)
	if s.cfg.Format == FormatMP4 || s.cfg.Format == FormatMOV {
		args = append(args, "-movflags", "+faststart")
	}
	if s.cfg.Codec == CodecHEVC && s.cfg.Format != FormatMKV {
		args = append(args, "-tag:v", "hvc1")
	}
	return append(args, s.outPath)
}

// Append writes img at the grid slot for timestamp. Slots skipped since the
// previous append are filled with the previous frame.
func (s *FFmpegSink) Append(ctx context.Context, img *image.RGBA, timestamp, duration float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case !s.started:
		return ErrNotStarted
	case s.closed:
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	slot := int(math.Round(timestamp * s.cfg.FPS))
	if slot < s.next {
		return fmt.Errorf("%w: %.6fs (slot %d, next %d)", ErrNonMonotonic, timestamp, slot, s.next)
	}
	for ; s.next > 0 && s.next < slot; s.next++ {
		if err := s.writeLocked(); err != nil {
			return err
		}
	}
	if s.next < slot {
		// The first frame defines the origin; nothing to repeat yet.
		s.next = slot
	}

	fitFrame(s.frame, img)
	if err := s.writeLocked(); err != nil {
		return err
	}
	s.next = slot + 1
	return nil
}

func (s *FFmpegSink) writeLocked() error {
	if _, err := s.stdin.Write(s.frame.Pix); err != nil {
		return fmt.Errorf("write raw error: %w, output: %s", err, s.stderrOutput())
	}
	return nil
}

// Close ends the input stream. Idempotent.
func (s *FFmpegSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *FFmpegSink) closeLocked() {
	if !s.started || s.closed {
		return
	}
	s.closed = true
	s.stdin.Close()
}

// Finalize waits for ffmpeg to finish and returns the encoded file.
func (s *FFmpegSink) Finalize(ctx context.Context) (recording.Output, error) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return recording.Output{}, ErrNotStarted
	}
	s.closeLocked()
	s.mu.Unlock()
	defer s.cleanup()

	if err := s.wait(); err != nil {
		return recording.Output{}, err
	}
	data, err := os.ReadFile(s.outPath)
	if err != nil {
		return recording.Output{}, fmt.Errorf("read output: %w", err)
	}
	if len(data) == 0 {
		return recording.Output{}, fmt.Errorf("ffmpeg produced an empty file")
	}
	s.log.Debug("ffmpeg finished",
		zap.Int("frames", s.next),
		zap.Int("bytes", len(data)))
	return recording.Output{Data: data, MimeType: s.cfg.Format.MimeType()}, nil
}

// Cancel kills ffmpeg and discards its output.
func (s *FFmpegSink) Cancel(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.closeLocked()
	s.mu.Unlock()
	defer s.cleanup()

	s.kill()
	s.group.Wait()
	s.cmd.Wait()
	return nil
}

func (s *FFmpegSink) wait() error {
	drainErr := s.group.Wait()
	waitErr := s.cmd.Wait()

	if waitErr != nil {
		return fmt.Errorf("ffmpeg wait error: %w, output: %s", waitErr, s.stderrOutput())
	}
	if drainErr != nil {
		return fmt.Errorf("ffmpeg stderr: %w", drainErr)
	}
	return nil
}

func (s *FFmpegSink) stderrOutput() string {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.stderr.String()
}

func (s *FFmpegSink) cleanup() {
	s.kill()
	if err := os.RemoveAll(s.tmpDir); err != nil {
		s.log.Warn("Failed to remove temp dir", zap.String("dir", s.tmpDir), zap.Error(err))
	}
}

type lockedWriter struct {
	mu  *sync.Mutex
	buf *bytes.Buffer
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}
