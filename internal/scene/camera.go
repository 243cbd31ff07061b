package scene

import (
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario is a camera script for a slideshow, one slide per page.
type Scenario struct {
	Version string  `yaml:"version"`
	Slides  []Slide `yaml:"slides"`
}

// Slide is the camera path over one page.
type Slide struct {
	ID       int     `yaml:"id"`
	Input    string  `yaml:"input,omitempty"`
	Duration float64 `yaml:"duration"` // seconds
	// Keyframes are sorted by Time, relative to the slide start.
	Keyframes []Keyframe `yaml:"keyframes"`
}

// Keyframe is a camera position at a moment of a slide.
type Keyframe struct {
	Time  float64 `yaml:"time"`
	Focus string  `yaml:"focus,omitempty"`
	// X and Y are the focus point as fractions of the page, 0.5 is center.
	X    float64 `yaml:"x"`
	Y    float64 `yaml:"y"`
	Zoom float64 `yaml:"zoom"` // 1.0 = whole page
}

// ReadScenario reads a scenario from a YAML file.
func ReadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if err := scenario.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &scenario, nil
}

// WriteScenario writes a scenario to a YAML file.
func WriteScenario(scenario *Scenario, path string) error {
	data, err := yaml.Marshal(scenario)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate sorts keyframes and rejects impossible values.
func (s *Scenario) Validate() error {
	for i := range s.Slides {
		sl := &s.Slides[i]
		if sl.Duration < 0 {
			return fmt.Errorf("slide %d: negative duration", sl.ID)
		}
		sort.SliceStable(sl.Keyframes, func(a, b int) bool {
			return sl.Keyframes[a].Time < sl.Keyframes[b].Time
		})
		for _, kf := range sl.Keyframes {
			if kf.Zoom <= 0 {
				return fmt.Errorf("slide %d: keyframe at %.2fs has zoom %v", sl.ID, kf.Time, kf.Zoom)
			}
		}
	}
	return nil
}

// Camera is the interpolated view of a page.
type Camera struct {
	X, Y float64 // focus point as page fractions
	Zoom float64
}

// FullView shows the whole page.
var FullView = Camera{X: 0.5, Y: 0.5, Zoom: 1}

// Interpolate returns the camera at time t, easing between the surrounding
// keyframes. Before the first and after the last keyframe the camera holds.
func Interpolate(keyframes []Keyframe, t float64) Camera {
	if len(keyframes) == 0 {
		return FullView
	}
	first, last := keyframes[0], keyframes[len(keyframes)-1]
	if t <= first.Time {
		return first.camera()
	}
	if t >= last.Time {
		return last.camera()
	}

	i := sort.Search(len(keyframes), func(i int) bool { return keyframes[i].Time > t }) - 1
	prev, next := keyframes[i], keyframes[i+1]

	span := next.Time - prev.Time
	if span <= 0 {
		return next.camera()
	}
	k := easeInOutCubic((t - prev.Time) / span)
	return Camera{
		X:    lerp(prev.X, next.X, k),
		Y:    lerp(prev.Y, next.Y, k),
		Zoom: lerp(prev.Zoom, next.Zoom, k),
	}
}

func (k Keyframe) camera() Camera {
	return Camera{X: k.X, Y: k.Y, Zoom: k.Zoom}
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	u := -2*t + 2
	return 1 - u*u*u/2
}

// ZoomMode names where an automatic zoom focuses.
type ZoomMode string

const (
	ZoomNone        ZoomMode = "none"
	ZoomCenter      ZoomMode = "center"
	ZoomTopLeft     ZoomMode = "top-left"
	ZoomTopRight    ZoomMode = "top-right"
	ZoomBottomLeft  ZoomMode = "bottom-left"
	ZoomBottomRight ZoomMode = "bottom-right"
	// ZoomRandom picks one of the corners or the center per page. The
	// choice depends only on the page index.
	ZoomRandom ZoomMode = "random"
	// ZoomSmart aims at the most detailed region of each page. It needs the
	// rendered page; see SmartScenario. Without one it zooms to the center.
	ZoomSmart ZoomMode = "smart"
)

var zoomAnchors = map[ZoomMode][2]float64{
	ZoomCenter:      {0.5, 0.5},
	ZoomTopLeft:     {0, 0},
	ZoomTopRight:    {1, 0},
	ZoomBottomLeft:  {0, 1},
	ZoomBottomRight: {1, 1},
}

var randomModes = []ZoomMode{ZoomCenter, ZoomTopLeft, ZoomTopRight, ZoomBottomLeft, ZoomBottomRight}

// ParseZoomMode accepts the mode names; the empty string means none.
func ParseZoomMode(s string) (ZoomMode, error) {
	m := ZoomMode(strings.ToLower(strings.TrimSpace(s)))
	if m == "" {
		return ZoomNone, nil
	}
	if _, ok := zoomAnchors[m]; ok || m == ZoomNone || m == ZoomRandom || m == ZoomSmart {
		return m, nil
	}
	return "", fmt.Errorf("scene: unknown zoom mode %q", s)
}

// ZoomKeyframes builds a slow push-in toward the mode's anchor that peaks
// mid-slide and returns to the full page for the last outro seconds.
func ZoomKeyframes(mode ZoomMode, page int, duration, peak, outro float64) []Keyframe {
	if mode == ZoomRandom {
		h := fnv.New32a()
		h.Write([]byte(strconv.Itoa(page)))
		mode = randomModes[h.Sum32()%uint32(len(randomModes))]
	}
	if mode == ZoomSmart {
		mode = ZoomCenter
	}
	anchor, ok := zoomAnchors[mode]
	if !ok {
		return pushIn(string(mode), FullView, duration, outro)
	}
	return pushIn(string(mode), Camera{X: anchor[0], Y: anchor[1], Zoom: peak}, duration, outro)
}

func pushIn(focus string, target Camera, duration, outro float64) []Keyframe {
	full := Keyframe{Time: 0, Focus: "full_view", X: 0.5, Y: 0.5, Zoom: 1}
	if target.Zoom <= 1 || duration <= 0 {
		return []Keyframe{full}
	}
	if outro < 0 || outro >= duration {
		outro = 0
	}
	active := duration - outro
	end := full
	end.Time = active
	return []Keyframe{
		full,
		{Time: active / 2, Focus: focus, X: target.X, Y: target.Y, Zoom: target.Zoom},
		end,
	}
}

// GenerateScenario writes automatic zoom keyframes for count pages.
func GenerateScenario(count int, duration float64, mode ZoomMode, peak, outro float64) *Scenario {
	s := &Scenario{Version: "1.0"}
	for i := 0; i < count; i++ {
		s.Slides = append(s.Slides, Slide{
			ID:        i + 1,
			Input:     fmt.Sprintf("page_%d", i+1),
			Duration:  duration,
			Keyframes: ZoomKeyframes(mode, i, duration, peak, outro),
		})
	}
	return s
}
