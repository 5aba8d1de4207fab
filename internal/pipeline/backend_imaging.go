package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/imagery/internal/geometry"
)

const DriverImaging = "imaging"

var imagingFormats = map[string]imaging.Format{
	"jpeg": imaging.JPEG,
	"png":  imaging.PNG,
	"gif":  imaging.GIF,
	"bmp":  imaging.BMP,
	"tiff": imaging.TIFF,
}

type imagingBackend struct{}

func newImagingBackend() (Backend, error) {
	return imagingBackend{}, nil
}

func (imagingBackend) Name() string { return DriverImaging }

func (imagingBackend) Open(ctx context.Context, data []byte) (Canvas, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, format, err := decodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}
	return &imagingCanvas{img: imaging.Clone(src), format: format}, nil
}

type imagingCanvas struct {
	img    *image.NRGBA
	format string
}

func (c *imagingCanvas) Size() geometry.Size {
	b := c.img.Bounds()
	return geometry.Size{Width: b.Dx(), Height: b.Dy()}
}

func (c *imagingCanvas) SourceFormat() string { return c.format }

func (c *imagingCanvas) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: resize to %dx%d", ErrEmptyArea, width, height)
	}
	c.img = imaging.Resize(c.img, width, height, imaging.Lanczos)
	return nil
}

func (c *imagingCanvas) Crop(area geometry.Crop) error {
	rect := area.Rect().Intersect(c.img.Bounds())
	if rect.Empty() {
		return fmt.Errorf("%w: crop %v of %v", ErrEmptyArea, area.Rect(), c.img.Bounds())
	}
	c.img = imaging.Crop(c.img, rect)
	return nil
}

// Rotate turns the image clockwise. Uncovered corners are transparent.
func (c *imagingCanvas) Rotate(degrees int) error {
	if degrees == 0 {
		return nil
	}
	c.img = imaging.Rotate(c.img, -float64(degrees), color.Transparent)
	return nil
}

func (c *imagingCanvas) Flip(direction geometry.Direction) error {
	switch direction {
	case geometry.FlipHorizontal:
		c.img = imaging.FlipH(c.img)
	case geometry.FlipVertical:
		c.img = imaging.FlipV(c.img)
	default:
		return fmt.Errorf("%w: flip %s", geometry.ErrInvalidArgument, direction)
	}
	return nil
}

func (c *imagingCanvas) Sharpen(amount int) error {
	c.img = imaging.Sharpen(c.img, sharpenSigma(amount))
	return nil
}

func (c *imagingCanvas) Watermark(mark image.Image, at image.Point, opacity int) error {
	if mark == nil || mark.Bounds().Empty() {
		return errNoMark
	}
	c.img = imaging.Overlay(c.img, mark, at, float64(geometry.ClampAmount(opacity))/100)
	return nil
}

// Background flattens the image onto a solid color.
func (c *imagingCanvas) Background(bg geometry.Background) error {
	b := c.img.Bounds()
	base := imaging.New(b.Dx(), b.Dy(), backgroundFill(bg))
	c.img = imaging.Overlay(base, c.img, image.Point{}, 1)
	return nil
}

func (c *imagingCanvas) Encode(format string, quality int) ([]byte, error) {
	format = normalizeOutputFormat(format)
	target, ok := imagingFormats[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s output needs the vips driver", ErrUnsupportedFormat, format)
	}

	var buf bytes.Buffer
	err := imaging.Encode(&buf, c.img, target,
		imaging.JPEGQuality(geometry.ClampQuality(quality, defaultQuality)),
		imaging.PNGCompressionLevel(png.DefaultCompression),
	)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

func (c *imagingCanvas) Close() {
	c.img = nil
}
