package video

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"strings"
	"testing"

	"github.com/at-wat/ebml-go"
	"github.com/at-wat/ebml-go/webm"
	"go.uber.org/zap/zaptest"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"mp4", FormatMP4, false},
		{".MOV", FormatMOV, false},
		{"matroska", FormatMKV, false},
		{" webm ", FormatWebM, false},
		{"avi", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMimeTypes(t *testing.T) {
	want := map[Format]string{
		FormatMP4:  "video/mp4",
		FormatMOV:  "video/quicktime",
		FormatMKV:  "video/x-matroska",
		FormatWebM: "video/webm",
	}
	for f, mime := range want {
		if got := f.MimeType(); got != mime {
			t.Errorf("%s.MimeType() = %q, want %q", f, got, mime)
		}
	}
}

func TestCheckCompatible(t *testing.T) {
	tests := []struct {
		format Format
		codec  Codec
		ok     bool
	}{
		{FormatMP4, CodecAVC, true},
		{FormatMP4, CodecVP9, false},
		{FormatWebM, CodecVP9, true},
		{FormatWebM, CodecAVC, false},
		{FormatWebM, CodecMJPEG, true},
		{FormatMKV, CodecMJPEG, true},
		{FormatMOV, CodecHEVC, true},
		{"flv", CodecAVC, false},
	}
	for _, tt := range tests {
		err := CheckCompatible(tt.format, tt.codec)
		if (err == nil) != tt.ok {
			t.Errorf("CheckCompatible(%s, %s) = %v, want ok=%v", tt.format, tt.codec, err, tt.ok)
		}
		if err != nil && !errors.Is(err, ErrUnsupported) {
			t.Errorf("CheckCompatible(%s, %s) error %v is not ErrUnsupported", tt.format, tt.codec, err)
		}
	}
}

func TestParseQuality(t *testing.T) {
	for _, in := range []string{"very-low", "Very_Low", "very low"} {
		if q, err := ParseQuality(in); err != nil || q != QualityVeryLow {
			t.Errorf("ParseQuality(%q) = %q, %v", in, q, err)
		}
	}
	if _, err := ParseQuality("ultra"); err == nil {
		t.Error("ParseQuality(ultra) succeeded")
	}
}

func TestQualityArgs(t *testing.T) {
	tests := []struct {
		encoder string
		q       Quality
		want    string
	}{
		{"h264_videotoolbox", QualityHigh, "-b:v 7500k"},
		{"h264_nvenc", QualityMedium, "-cq 28"},
		{"libx264", QualityVeryHigh, "-crf 17 -preset medium"},
		{"libx265", QualityLow, "-crf 29 -preset medium"},
		{"libvpx-vp9", QualityHigh, "-crf 28 -b:v 0 -row-mt 1"},
		{"mjpeg", QualityVeryLow, "-q:v 15"},
	}
	for _, tt := range tests {
		got := strings.Join(qualityArgs(tt.encoder, tt.q), " ")
		if got != tt.want {
			t.Errorf("qualityArgs(%s, %s) = %q, want %q", tt.encoder, tt.q, got, tt.want)
		}
	}
}

func TestBuildArgs(t *testing.T) {
	s := &FFmpegSink{
		cfg: Config{
			Format:  FormatMP4,
			Codec:   CodecAVC,
			Quality: QualityHigh,
			FPS:     29.97,
			Width:   640,
			Height:  360,
		},
		encoder: "libx264",
		outPath: "/tmp/out.mp4",
	}
	args := strings.Join(s.buildArgs(), " ")
	for _, want := range []string{
		"-f rawvideo -pixel_format rgba -video_size 640x360 -framerate 29.97 -i -",
		"-c:v libx264 -pix_fmt yuv420p -crf 20 -preset medium",
		"-movflags +faststart",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("args %q missing %q", args, want)
		}
	}
	if !strings.HasSuffix(args, "/tmp/out.mp4") {
		t.Errorf("args %q do not end with the output path", args)
	}
}

func TestNewSinkValidation(t *testing.T) {
	base := Config{Format: FormatWebM, Codec: CodecMJPEG, Quality: QualityMedium, FPS: 30, Width: 64, Height: 64}

	odd := base
	odd.Width = 63
	if _, err := NewSink(odd); err == nil {
		t.Error("odd width accepted")
	}
	bad := base
	bad.Codec = CodecAVC
	if _, err := NewSink(bad); !errors.Is(err, ErrUnsupported) {
		t.Errorf("avc in webm: err = %v, want ErrUnsupported", err)
	}
	s, err := NewSink(base)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	if _, ok := s.(*WebMSink); !ok {
		t.Errorf("NewSink(webm/mjpeg) = %T, want *WebMSink", s)
	}
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestWebMSink(t *testing.T) {
	ctx := context.Background()
	s, err := NewWebMSink(Config{
		Format: FormatWebM, Codec: CodecMJPEG, Quality: QualityHigh,
		FPS: 10, Width: 32, Height: 32, Logger: zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, solid(32, 32, color.RGBA{A: 255}), 0, 0.1); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("append before start: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		// Mismatched sizes are rescaled.
		size := 32
		if i%2 == 1 {
			size = 48
		}
		img := solid(size, size, color.RGBA{R: uint8(50 * i), A: 255})
		if err := s.Append(ctx, img, float64(i)*0.1, 0.1); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := s.Append(ctx, solid(32, 32, color.RGBA{A: 255}), 0.2, 0.1); !errors.Is(err, ErrNonMonotonic) {
		t.Fatalf("repeated timestamp: err = %v, want ErrNonMonotonic", err)
	}
	s.Close()
	if err := s.Append(ctx, solid(32, 32, color.RGBA{A: 255}), 1, 0.1); !errors.Is(err, ErrClosed) {
		t.Fatalf("append after close: err = %v, want ErrClosed", err)
	}

	out, err := s.Finalize(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if out.MimeType != "video/webm" {
		t.Errorf("MimeType = %q", out.MimeType)
	}
	if !bytes.HasPrefix(out.Data, []byte{0x1A, 0x45, 0xDF, 0xA3}) {
		t.Errorf("output does not start with an EBML header: % x", out.Data[:min(8, len(out.Data))])
	}
	if !bytes.Contains(out.Data, []byte("webm")) || !bytes.Contains(out.Data, []byte("V_MJPEG")) {
		t.Error("output is missing the doc type or codec id")
	}
	if n := bytes.Count(out.Data, []byte{0xFF, 0xD8, 0xFF}); n != 5 {
		t.Errorf("found %d JPEG frames, want 5", n)
	}
}

func TestWebMSinkFramesDecodeInOrder(t *testing.T) {
	const (
		frames = 120
		fps    = 30
		size   = 256
	)
	ctx := context.Background()
	s, err := NewWebMSink(Config{
		Format: FormatWebM, Codec: CodecMJPEG, Quality: QualityVeryHigh,
		FPS: fps, Width: size, Height: size, Logger: zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < frames; i++ {
		img := solid(size, size, color.RGBA{R: uint8(2 * i), G: 40, B: 200, A: 255})
		if err := s.Append(ctx, img, float64(i)/fps, 1.0/fps); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	s.Close()
	out, err := s.Finalize(ctx)
	if err != nil {
		t.Fatal(err)
	}

	var file struct {
		Header  webm.EBMLHeader `ebml:"EBML"`
		Segment webm.Segment    `ebml:"Segment,size=unknown"`
	}
	if err := ebml.Unmarshal(bytes.NewReader(out.Data), &file); err != nil {
		t.Fatalf("unmarshal webm: %v", err)
	}

	i := 0
	for _, cluster := range file.Segment.Cluster {
		for _, block := range cluster.SimpleBlock {
			if i >= frames {
				t.Fatalf("more than %d blocks", frames)
			}
			wantMS := int64(math.Round(float64(i) * 1000 / fps))
			if ms := int64(cluster.Timecode) + int64(block.Timecode); ms != wantMS {
				t.Errorf("block %d at %dms, want %dms", i, ms, wantMS)
			}
			if len(block.Data) != 1 {
				t.Fatalf("block %d has %d frames", i, len(block.Data))
			}
			img, err := jpeg.Decode(bytes.NewReader(block.Data[0]))
			if err != nil {
				t.Fatalf("block %d: decode jpeg: %v", i, err)
			}
			if b := img.Bounds(); b.Dx() != size || b.Dy() != size {
				t.Errorf("block %d is %dx%d", i, b.Dx(), b.Dy())
			}
			r, _, _, _ := img.At(size/2, size/2).RGBA()
			if got, want := int(r>>8), 2*i; got < want-4 || got > want+4 {
				t.Errorf("block %d: red = %d, want %d", i, got, want)
			}
			i++
		}
	}
	if i != frames {
		t.Errorf("decoded %d blocks, want %d", i, frames)
	}
}

func TestWebMSinkEmptyFinalizeFails(t *testing.T) {
	ctx := context.Background()
	s, err := NewWebMSink(Config{Format: FormatWebM, Codec: CodecMJPEG, Quality: QualityLow, FPS: 30, Width: 16, Height: 16})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Finalize(ctx); err == nil {
		t.Fatal("finalize with no frames succeeded")
	}
	if err := s.Cancel(ctx); err != nil {
		t.Fatalf("cancel after failed finalize: %v", err)
	}
}

type countingWriter struct {
	frames [][]byte
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.frames = append(w.frames, append([]byte(nil), p...))
	return len(p), nil
}

func (*countingWriter) Close() error { return nil }

func TestFFmpegSinkFillsGaps(t *testing.T) {
	ctx := context.Background()
	w := &countingWriter{}
	s := &FFmpegSink{
		cfg:     Config{FPS: 10, Width: 2, Height: 2},
		log:     zaptest.NewLogger(t),
		stdin:   w,
		frame:   image.NewRGBA(image.Rect(0, 0, 2, 2)),
		started: true,
	}
	red := solid(2, 2, color.RGBA{R: 255, A: 255})
	blue := solid(2, 2, color.RGBA{B: 255, A: 255})

	if err := s.Append(ctx, red, 0, 0.1); err != nil {
		t.Fatal(err)
	}
	// Slots 1 and 2 were skipped.
	if err := s.Append(ctx, blue, 0.3, 0.1); err != nil {
		t.Fatal(err)
	}
	if len(w.frames) != 4 {
		t.Fatalf("wrote %d frames, want 4", len(w.frames))
	}
	for i, want := range []*image.RGBA{red, red, red, blue} {
		if !bytes.Equal(w.frames[i], want.Pix) {
			t.Errorf("frame %d = % x, want % x", i, w.frames[i][:4], want.Pix[:4])
		}
	}
	if err := s.Append(ctx, red, 0.2, 0.1); !errors.Is(err, ErrNonMonotonic) {
		t.Errorf("going back: err = %v, want ErrNonMonotonic", err)
	}
}

func TestFFmpegSinkEncodes(t *testing.T) {
	if !FFmpegAvailable("") {
		t.Skip("ffmpeg not installed")
	}
	ctx := context.Background()
	s, err := NewFFmpegSink(Config{
		Format: FormatMKV, Codec: CodecMJPEG, Quality: QualityMedium, Encoder: "mjpeg",
		FPS: 25, Width: 64, Height: 48, TempDir: t.TempDir(), Logger: zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		img := solid(64, 48, color.RGBA{G: uint8(20 * i), A: 255})
		if err := s.Append(ctx, img, float64(i)/25, 1.0/25); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	s.Close()
	out, err := s.Finalize(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Data) == 0 || out.MimeType != "video/x-matroska" {
		t.Fatalf("output: %d bytes, %q", len(out.Data), out.MimeType)
	}
	if !bytes.HasPrefix(out.Data, []byte{0x1A, 0x45, 0xDF, 0xA3}) {
		t.Error("output is not a matroska file")
	}
}

func TestFFmpegSinkCancel(t *testing.T) {
	if !FFmpegAvailable("") {
		t.Skip("ffmpeg not installed")
	}
	ctx := context.Background()
	s, err := NewFFmpegSink(Config{
		Format: FormatMKV, Codec: CodecMJPEG, Quality: QualityLow, Encoder: "mjpeg",
		FPS: 25, Width: 16, Height: 16, TempDir: t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, solid(16, 16, color.RGBA{A: 255}), 0, 0.04); err != nil {
		t.Fatal(err)
	}
	if err := s.Cancel(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, solid(16, 16, color.RGBA{A: 255}), 0.04, 0.04); !errors.Is(err, ErrClosed) {
		t.Errorf("append after cancel: err = %v, want ErrClosed", err)
	}
}

func TestResolveBackend(t *testing.T) {
	tests := []struct {
		format  Format
		codec   Codec
		backend Backend
		want    Backend
	}{
		{FormatWebM, CodecMJPEG, BackendAuto, BackendNative},
		{FormatWebM, CodecVP9, BackendAuto, BackendFFmpeg},
		{FormatMKV, CodecMJPEG, BackendAuto, BackendFFmpeg},
		{FormatWebM, CodecMJPEG, BackendFFmpeg, BackendFFmpeg},
	}
	for _, tt := range tests {
		if got := ResolveBackend(tt.format, tt.codec, tt.backend); got != tt.want {
			t.Errorf("ResolveBackend(%s, %s, %q) = %q, want %q", tt.format, tt.codec, tt.backend, got, tt.want)
		}
	}
}

func TestResolveEncoder(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		codec    Codec
		override string
		want     string
	}{
		{CodecAVC, "h264_nvenc", "h264_nvenc"},
		{CodecHEVC, "", "libx265"},
		{CodecVP9, "", "libvpx-vp9"},
		{CodecAV1, "", "libaom-av1"},
		{CodecMJPEG, "", "mjpeg"},
	}
	for _, tt := range tests {
		if got := ResolveEncoder(ctx, tt.codec, tt.override, ""); got != tt.want {
			t.Errorf("ResolveEncoder(%s, %q) = %q, want %q", tt.codec, tt.override, got, tt.want)
		}
	}
}
