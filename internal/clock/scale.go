package clock

import (
	"fmt"
	"strings"
)

// ScalePreset is an integer resolution multiplier applied to the device
// pixel ratio while a recording is active.
type ScalePreset int

// Supported presets.
const (
	Scale1x ScalePreset = 1
	Scale2x ScalePreset = 2
	Scale3x ScalePreset = 3
	Scale4x ScalePreset = 4
)

// ParseScale accepts "1x".."4x" as well as the bare digits "1".."4".
func ParseScale(s string) (ScalePreset, error) {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "x") {
	case "1":
		return Scale1x, nil
	case "2":
		return Scale2x, nil
	case "3":
		return Scale3x, nil
	case "4":
		return Scale4x, nil
	}
	return 0, fmt.Errorf("clock: unknown scale preset %q (want 1x, 2x, 3x or 4x)", s)
}

// Valid reports whether p is one of the supported presets.
func (p ScalePreset) Valid() bool {
	return p >= Scale1x && p <= Scale4x
}

// Factor returns the multiplier as a float.
func (p ScalePreset) Factor() float64 {
	return float64(p)
}

func (p ScalePreset) String() string {
	return fmt.Sprintf("%dx", int(p))
}

// UnmarshalText lets presets be read from YAML and flag values.
func (p *ScalePreset) UnmarshalText(b []byte) error {
	v, err := ParseScale(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// MarshalText renders the preset as "Nx".
func (p ScalePreset) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
