package geometry

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ResolveRotation truncates degrees and folds them into [-180, 180].
func ResolveRotation(degrees float64) int {
	if math.IsNaN(degrees) || math.IsInf(degrees, 0) {
		return 0
	}
	d := int(math.Mod(math.Trunc(degrees), 360))
	if d > 180 {
		d -= 360
	} else if d < -180 {
		d += 360
	}
	return d
}

func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampAmount bounds sharpen amounts and opacities to 1..100.
func ClampAmount(v int) int {
	return Clamp(v, 1, 100)
}

// ClampQuality bounds encoder quality to 1..100; zero picks the default.
func ClampQuality(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return Clamp(v, 1, 100)
}

type Direction int

const (
	FlipHorizontal Direction = iota + 1
	FlipVertical
)

func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "horizontal", "h":
		return FlipHorizontal, nil
	case "vertical", "v":
		return FlipVertical, nil
	default:
		return 0, fmt.Errorf("%w: flip direction %q", ErrInvalidArgument, s)
	}
}

func (d Direction) String() string {
	switch d {
	case FlipHorizontal:
		return "horizontal"
	case FlipVertical:
		return "vertical"
	default:
		return "unknown"
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	if d != FlipHorizontal && d != FlipVertical {
		return nil, fmt.Errorf("%w: flip direction %d", ErrInvalidArgument, int(d))
	}
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	parsed, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

type Background struct {
	R       uint8 `json:"r"`
	G       uint8 `json:"g"`
	B       uint8 `json:"b"`
	Opacity int   `json:"opacity"`
}

// ResolveBackground parses a #rgb or #rrggbb color. Opacity is clamped to
// 0..100.
func ResolveBackground(hex string, opacity int) (Background, error) {
	hex = strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return Background{}, fmt.Errorf("%w: color %q", ErrInvalidArgument, hex)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return Background{}, fmt.Errorf("%w: color %q", ErrInvalidArgument, hex)
	}
	return Background{
		R:       uint8(v >> 16),
		G:       uint8(v >> 8),
		B:       uint8(v),
		Opacity: Clamp(opacity, 0, 100),
	}, nil
}
