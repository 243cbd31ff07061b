// Package config holds the settings of a framecap run: the YAML file
// format, its defaults and the mapping onto canvas record options.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ivlev/framecap/internal/canvas"
	"github.com/ivlev/framecap/internal/clock"
	"github.com/ivlev/framecap/internal/recording"
	"github.com/ivlev/framecap/internal/scene"
	"github.com/ivlev/framecap/internal/video"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Scene kinds.
const (
	SceneBall      = "ball"
	SceneSlideshow = "slideshow"
)

// DefaultBallDuration is the recording length used for the bouncing ball
// when no duration is configured.
const DefaultBallDuration = 5.0

type Config struct {
	FPS    float64 `yaml:"fps"`
	Width  int     `yaml:"width"`
	Height int     `yaml:"height"`
	// Preset overrides Width and Height: 16:9, 9:16 or 4:5.
	Preset string `yaml:"preset,omitempty"`

	Mode     string  `yaml:"mode"`
	Duration float64 `yaml:"duration"`
	Scale    string  `yaml:"scale"`
	Format   string  `yaml:"format"`
	Codec    string  `yaml:"codec,omitempty"`
	Quality  string  `yaml:"quality"`
	Encoder  string  `yaml:"encoder,omitempty"`
	Backend  string  `yaml:"backend,omitempty"`

	// TickRate paces the render loop in ticks per second. Zero runs
	// frame-accurate recordings as fast as capture allows and realtime
	// ones at 60.
	TickRate float64 `yaml:"tick_rate,omitempty"`

	Scene Scene `yaml:"scene"`

	Output   string `yaml:"output,omitempty"`
	LogLevel string `yaml:"log_level"`
	Stats    bool   `yaml:"stats,omitempty"`
}

type Scene struct {
	Kind  string `yaml:"kind"`
	Input string `yaml:"input,omitempty"`
	// Stamp burns a QR code of the frame index into every frame.
	Stamp bool `yaml:"stamp,omitempty"`

	PageDuration float64 `yaml:"page_duration,omitempty"`
	DPI          int     `yaml:"dpi,omitempty"`
	Fade         float64 `yaml:"fade,omitempty"`
	Zoom         string  `yaml:"zoom,omitempty"`
	ZoomPeak     float64 `yaml:"zoom_peak,omitempty"`
	Outro        float64 `yaml:"outro,omitempty"`
	Scenario     string  `yaml:"scenario,omitempty"`
	Loop         bool    `yaml:"loop,omitempty"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		FPS:      60,
		Width:    1280,
		Height:   720,
		Mode:     string(recording.FrameAccurate),
		Scale:    clock.Scale2x.String(),
		Format:   string(video.FormatMP4),
		Quality:  string(video.QualityHigh),
		LogLevel: "info",
		Scene: Scene{
			Kind:         SceneBall,
			PageDuration: 3,
			DPI:          150,
			Fade:         0.5,
			Zoom:         string(scene.ZoomNone),
			ZoomPeak:     1.3,
		},
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
	}
	return cfg, nil
}

// Write saves cfg as YAML.
func (c Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

var presets = map[string][2]int{
	"16:9": {1280, 720},
	"9:16": {720, 1280},
	"4:5":  {1080, 1350},
}

// ApplyPreset replaces Width and Height with the named preset. An empty
// name does nothing.
func (c *Config) ApplyPreset(name string) error {
	if name == "" {
		return nil
	}
	size, ok := presets[name]
	if !ok {
		return fmt.Errorf("%w: unknown preset %q (want 16:9, 9:16 or 4:5)", ErrInvalid, name)
	}
	c.Preset = name
	c.Width, c.Height = size[0], size[1]
	return nil
}

// FillDuration sets the duration of a frame-accurate recording to the scene
// length when none is configured.
func (c *Config) FillDuration(sceneLength float64) {
	if c.Duration != 0 {
		return
	}
	if mode, err := recording.ParseMode(c.Mode); err == nil && mode == recording.FrameAccurate {
		c.Duration = sceneLength
	}
}

// Validate checks every field and the record options they produce.
func (c Config) Validate() error {
	if c.FPS <= 0 {
		return fmt.Errorf("%w: fps must be > 0, got %v", ErrInvalid, c.FPS)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalid, c.Width, c.Height)
	}
	if c.TickRate < 0 {
		return fmt.Errorf("%w: negative tick rate %v", ErrInvalid, c.TickRate)
	}
	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log level: %v", ErrInvalid, err)
	}
	if err := c.Scene.validate(); err != nil {
		return err
	}
	opts, err := c.RecordOptions()
	if err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func (s Scene) validate() error {
	switch s.Kind {
	case SceneBall:
	case SceneSlideshow:
		if s.PageDuration <= 0 {
			return fmt.Errorf("%w: page duration must be > 0", ErrInvalid)
		}
		if s.Fade < 0 || s.Outro < 0 {
			return fmt.Errorf("%w: negative fade or outro", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown scene %q (want ball or slideshow)", ErrInvalid, s.Kind)
	}
	if _, err := scene.ParseZoomMode(s.Zoom); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// RecordOptions parses the recording fields.
func (c Config) RecordOptions() (canvas.RecordOptions, error) {
	var opts canvas.RecordOptions
	var err error
	if opts.Mode, err = recording.ParseMode(c.Mode); err != nil {
		return opts, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if opts.Scale, err = clock.ParseScale(c.Scale); err != nil {
		return opts, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if opts.Format, err = video.ParseFormat(c.Format); err != nil {
		return opts, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	opts.Codec = opts.Format.DefaultCodec()
	if c.Codec != "" {
		if opts.Codec, err = video.ParseCodec(c.Codec); err != nil {
			return opts, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	if opts.Quality, err = video.ParseQuality(c.Quality); err != nil {
		return opts, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if opts.Backend, err = video.ParseBackend(c.Backend); err != nil {
		return opts, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	opts.Duration = c.Duration
	opts.Encoder = c.Encoder
	return opts, nil
}

// OutputPath returns Output, or a timestamped file under output/ named after
// the scene input.
func (c Config) OutputPath(now time.Time) string {
	if c.Output != "" {
		return c.Output
	}
	name := c.Scene.Kind
	if c.Scene.Kind == SceneSlideshow && c.Scene.Input != "" {
		base := filepath.Base(c.Scene.Input)
		name = strings.ReplaceAll(strings.TrimSuffix(base, filepath.Ext(base)), " ", "_")
	}
	ext := c.Format
	if f, err := video.ParseFormat(c.Format); err == nil {
		ext = f.Extension()
	}
	return filepath.Join("output", fmt.Sprintf("%s_%s.%s", name, now.Format("2006-01-02_15-04-05"), ext))
}
