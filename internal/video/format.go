package video

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupported is returned for a format, codec or quality the encoders
// cannot produce.
var ErrUnsupported = errors.New("video: unsupported")

// Format is the output container.
type Format string

const (
	FormatMP4  Format = "mp4"
	FormatMOV  Format = "mov"
	FormatMKV  Format = "mkv"
	FormatWebM Format = "webm"
)

// ParseFormat accepts a container name or file extension, with or without
// the leading dot.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "."))
	switch f {
	case FormatMP4, FormatMOV, FormatMKV, FormatWebM:
		return f, nil
	case "matroska":
		return FormatMKV, nil
	case "quicktime":
		return FormatMOV, nil
	}
	return "", fmt.Errorf("%w: format %q", ErrUnsupported, s)
}

// Extension returns the file extension without the dot.
func (f Format) Extension() string {
	return string(f)
}

// MimeType returns the MIME type of the encoded bytes.
func (f Format) MimeType() string {
	switch f {
	case FormatMP4:
		return "video/mp4"
	case FormatMOV:
		return "video/quicktime"
	case FormatMKV:
		return "video/x-matroska"
	case FormatWebM:
		return "video/webm"
	}
	return "application/octet-stream"
}

// DefaultCodec is the codec used when none is configured.
func (f Format) DefaultCodec() Codec {
	if f == FormatWebM {
		return CodecVP9
	}
	return CodecAVC
}

// Codec is the video codec.
type Codec string

const (
	CodecAVC   Codec = "avc"
	CodecHEVC  Codec = "hevc"
	CodecVP9   Codec = "vp9"
	CodecAV1   Codec = "av1"
	CodecMJPEG Codec = "mjpeg"
)

// ParseCodec accepts codec names and their common aliases.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "avc", "h264", "h.264":
		return CodecAVC, nil
	case "hevc", "h265", "h.265":
		return CodecHEVC, nil
	case "vp9":
		return CodecVP9, nil
	case "av1":
		return CodecAV1, nil
	case "mjpeg", "jpeg":
		return CodecMJPEG, nil
	}
	return "", fmt.Errorf("%w: codec %q", ErrUnsupported, s)
}

var containerCodecs = map[Format][]Codec{
	FormatMP4:  {CodecAVC, CodecHEVC, CodecAV1},
	FormatMOV:  {CodecAVC, CodecHEVC, CodecMJPEG},
	FormatMKV:  {CodecAVC, CodecHEVC, CodecVP9, CodecAV1, CodecMJPEG},
	FormatWebM: {CodecVP9, CodecAV1, CodecMJPEG},
}

// CheckCompatible reports whether codec can be stored in format.
func CheckCompatible(format Format, codec Codec) error {
	codecs, ok := containerCodecs[format]
	if !ok {
		return fmt.Errorf("%w: format %q", ErrUnsupported, format)
	}
	for _, c := range codecs {
		if c == codec {
			return nil
		}
	}
	return fmt.Errorf("%w: codec %q in %s", ErrUnsupported, codec, format)
}

// Quality is an encoder-independent quality tier.
type Quality string

const (
	QualityVeryLow  Quality = "very-low"
	QualityLow      Quality = "low"
	QualityMedium   Quality = "medium"
	QualityHigh     Quality = "high"
	QualityVeryHigh Quality = "very-high"
)

var qualityRank = map[Quality]int{
	QualityVeryLow:  0,
	QualityLow:      1,
	QualityMedium:   2,
	QualityHigh:     3,
	QualityVeryHigh: 4,
}

// ParseQuality accepts tier names, with '_' or ' ' in place of '-'.
func ParseQuality(s string) (Quality, error) {
	q := Quality(strings.NewReplacer("_", "-", " ", "-").Replace(strings.ToLower(strings.TrimSpace(s))))
	if !q.Valid() {
		return "", fmt.Errorf("%w: quality %q", ErrUnsupported, s)
	}
	return q, nil
}

func (q Quality) Valid() bool {
	_, ok := qualityRank[q]
	return ok
}

func (q Quality) rank() int {
	return qualityRank[q]
}

// Backend selects the sink implementation.
type Backend string

const (
	// BackendAuto uses the native writer for MJPEG in WebM and ffmpeg
	// otherwise.
	BackendAuto Backend = ""
	// BackendFFmpeg pipes raw frames to an ffmpeg process.
	BackendFFmpeg Backend = "ffmpeg"
	// BackendNative writes MJPEG into a WebM container in process.
	BackendNative Backend = "native"
)

// ParseBackend accepts "", "auto", "ffmpeg" and "native".
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return BackendAuto, nil
	case "ffmpeg":
		return BackendFFmpeg, nil
	case "native":
		return BackendNative, nil
	}
	return "", fmt.Errorf("%w: backend %q", ErrUnsupported, s)
}
