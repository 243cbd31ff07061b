package video

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// hardwareH264 lists hardware encoders in order of preference:
// VideoToolbox on macOS, then NVENC.
var hardwareH264 = []string{"h264_videotoolbox", "h264_nvenc"}

var (
	detectOnce sync.Once
	detected   string
)

// DetectH264Encoder returns the best available H.264 encoder, falling back
// to libx264. Detection runs once per process.
func DetectH264Encoder(ctx context.Context, ffmpegPath string) string {
	detectOnce.Do(func() {
		detected = "libx264"
		out, err := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-encoders").CombinedOutput()
		if err != nil {
			return
		}
		for _, name := range hardwareH264 {
			if strings.Contains(string(out), name) {
				detected = name
				return
			}
		}
	})
	return detected
}

// ResolveEncoder returns override when set, otherwise the ffmpeg encoder
// used for codec.
func ResolveEncoder(ctx context.Context, codec Codec, override, ffmpegPath string) string {
	if override != "" {
		return override
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	switch codec {
	case CodecAVC:
		return DetectH264Encoder(ctx, ffmpegPath)
	case CodecHEVC:
		return "libx265"
	case CodecVP9:
		return "libvpx-vp9"
	case CodecAV1:
		return "libaom-av1"
	case CodecMJPEG:
		return "mjpeg"
	}
	return ""
}

// Per-tier values, indexed very-low..very-high.
var (
	videotoolboxKbps = [5]int{2000, 4000, 6000, 7500, 9000}
	nvencCQ          = [5]int{35, 30, 28, 24, 20}
	x26xCRF          = [5]int{35, 29, 23, 20, 17}
	vp9CRF           = [5]int{45, 38, 33, 28, 23}
	av1CRF           = [5]int{45, 38, 32, 27, 22}
	mjpegQ           = [5]int{15, 10, 6, 4, 2}
	jpegQuality      = [5]int{40, 60, 75, 85, 95}
)

// qualityArgs translates a tier into the rate-control flags of encoder.
func qualityArgs(encoder string, q Quality) []string {
	r := q.rank()
	switch encoder {
	case "h264_videotoolbox", "hevc_videotoolbox":
		return []string{"-b:v", strconv.Itoa(videotoolboxKbps[r]) + "k"}
	case "h264_nvenc", "hevc_nvenc":
		return []string{"-cq", strconv.Itoa(nvencCQ[r])}
	case "libvpx-vp9":
		return []string{"-crf", strconv.Itoa(vp9CRF[r]), "-b:v", "0", "-row-mt", "1"}
	case "libaom-av1":
		return []string{"-crf", strconv.Itoa(av1CRF[r]), "-b:v", "0", "-cpu-used", "6"}
	case "libsvtav1":
		return []string{"-crf", strconv.Itoa(av1CRF[r])}
	case "mjpeg":
		return []string{"-q:v", strconv.Itoa(mjpegQ[r])}
	default: // libx264, libx265
		return []string{"-crf", strconv.Itoa(x26xCRF[r]), "-preset", "medium"}
	}
}

func pixelFormat(encoder string) string {
	if encoder == "mjpeg" {
		return "yuvj420p"
	}
	return "yuv420p"
}
