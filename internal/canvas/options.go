package canvas

import (
	"fmt"

	"github.com/ivlev/framecap/internal/clock"
	"github.com/ivlev/framecap/internal/recording"
	"github.com/ivlev/framecap/internal/video"
)

// RecordOptions selects how a recording captures and encodes frames.
// Zero values fall back to frame-accurate mp4/avc at high quality and 2x.
type RecordOptions struct {
	Mode recording.Mode
	// Duration in seconds. Zero means none, which is only valid for
	// realtime recordings.
	Duration float64
	Format   video.Format
	Codec    video.Codec
	Quality  video.Quality
	Scale    clock.ScalePreset
	// Encoder overrides the ffmpeg encoder name, e.g. "h264_nvenc".
	Encoder string
	Backend video.Backend
}

func (o RecordOptions) withDefaults() RecordOptions {
	if o.Mode == "" {
		o.Mode = recording.FrameAccurate
	}
	if o.Format == "" {
		o.Format = video.FormatMP4
	}
	if o.Codec == "" {
		o.Codec = o.Format.DefaultCodec()
	}
	if o.Quality == "" {
		o.Quality = video.QualityHigh
	}
	if o.Scale == 0 {
		o.Scale = clock.Scale2x
	}
	return o
}

// Validate rejects combinations the recording or the encoder would refuse.
func (o RecordOptions) Validate() error {
	if _, err := recording.ParseMode(string(o.Mode)); err != nil {
		return err
	}
	if o.Duration < 0 {
		return fmt.Errorf("canvas: negative duration %v", o.Duration)
	}
	if o.Mode == recording.FrameAccurate && o.Duration == 0 {
		return recording.ErrDurationRequired
	}
	if !o.Scale.Valid() {
		return fmt.Errorf("canvas: invalid scale %d", int(o.Scale))
	}
	if !o.Quality.Valid() {
		return fmt.Errorf("%w: quality %q", video.ErrUnsupported, o.Quality)
	}
	return video.CheckCompatible(o.Format, o.Codec)
}
