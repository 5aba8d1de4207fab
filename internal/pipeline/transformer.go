package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"strings"

	"github.com/dunamismax/imagery/internal/geometry"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrEmptyArea         = errors.New("operation leaves no pixels")
)

// Backend opens encoded source bytes into a Canvas. Backends are safe for
// concurrent use; canvases are not.
type Backend interface {
	Name() string
	Open(ctx context.Context, data []byte) (Canvas, error)
}

// Canvas is one decoded image being transformed in place. Every operation
// takes concrete, already resolved parameters.
type Canvas interface {
	Size() geometry.Size
	SourceFormat() string
	Resize(width, height int) error
	Crop(area geometry.Crop) error
	Rotate(degrees int) error
	Flip(direction geometry.Direction) error
	Sharpen(amount int) error
	Watermark(mark image.Image, at image.Point, opacity int) error
	Background(bg geometry.Background) error
	Encode(format string, quality int) ([]byte, error)
	Close()
}

const defaultQuality = 80

func normalizeOutputFormat(format string) string {
	switch format = strings.ToLower(strings.TrimSpace(format)); format {
	case "jpg":
		return "jpeg"
	case "tif":
		return "tiff"
	case "jpeg", "png", "webp", "gif", "bmp", "tiff":
		return format
	default:
		return "png"
	}
}

// outputFormat picks the step format, falling back to the source format.
func outputFormat(stepFormat, sourceFormat string) string {
	if strings.TrimSpace(stepFormat) != "" {
		return normalizeOutputFormat(stepFormat)
	}
	return normalizeOutputFormat(sourceFormat)
}

func contentTypeForFormat(format string) string {
	switch normalizeOutputFormat(format) {
	case "jpeg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	case "gif":
		return "image/gif"
	case "bmp":
		return "image/bmp"
	case "tiff":
		return "image/tiff"
	default:
		return "image/png"
	}
}

// sharpenSigma maps a 1..100 sharpen amount onto a gaussian sigma.
func sharpenSigma(amount int) float64 {
	amount = max(5, geometry.ClampAmount(amount))
	return float64(amount) * 3 / 100
}

func backgroundFill(bg geometry.Background) color.NRGBA {
	return color.NRGBA{R: bg.R, G: bg.G, B: bg.B, A: uint8(bg.Opacity * 255 / 100)}
}
