//go:build govips && cgo

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/disintegration/imaging"
	"github.com/dunamismax/imagery/internal/bmp"
	"github.com/dunamismax/imagery/internal/geometry"
)

type govipsBackend struct{}

func newGovipsBackend() (Backend, error) {
	if err := Startup(); err != nil {
		return nil, err
	}
	return govipsBackend{}, nil
}

func (govipsBackend) Name() string { return DriverVips }

func (govipsBackend) Open(ctx context.Context, data []byte) (Canvas, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// libvips has no decoder for every bitmap variant; route BMP through
	// the bitmap package.
	if bmp.IsBitmap(data) {
		src, _, err := decodeImage(data)
		if err != nil {
			return nil, fmt.Errorf("decode source image: %w", err)
		}
		img, err := vipsFromImage(src)
		if err != nil {
			return nil, err
		}
		return &govipsCanvas{img: img, format: "bmp"}, nil
	}

	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}
	return &govipsCanvas{img: img, format: vipsFormatName(img.Format())}, nil
}

type govipsCanvas struct {
	img    *vips.ImageRef
	format string
}

func (c *govipsCanvas) Size() geometry.Size {
	return geometry.Size{Width: c.img.Width(), Height: c.img.Height()}
}

func (c *govipsCanvas) SourceFormat() string { return c.format }

func (c *govipsCanvas) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: resize to %dx%d", ErrEmptyArea, width, height)
	}
	hscale := float64(width) / float64(c.img.Width())
	vscale := float64(height) / float64(c.img.Height())
	if err := c.img.ResizeWithVScale(hscale, vscale, vips.KernelLanczos3); err != nil {
		return fmt.Errorf("resize image: %w", err)
	}
	return nil
}

func (c *govipsCanvas) Crop(area geometry.Crop) error {
	rect := area.Rect().Intersect(image.Rect(0, 0, c.img.Width(), c.img.Height()))
	if rect.Empty() {
		return fmt.Errorf("%w: crop %v", ErrEmptyArea, area.Rect())
	}
	if err := c.img.ExtractArea(rect.Min.X, rect.Min.Y, rect.Dx(), rect.Dy()); err != nil {
		return fmt.Errorf("crop image: %w", err)
	}
	return nil
}

func (c *govipsCanvas) Rotate(degrees int) error {
	var err error
	switch degrees {
	case 0:
		return nil
	case 90:
		err = c.img.Rotate(vips.Angle90)
	case 180, -180:
		err = c.img.Rotate(vips.Angle180)
	case -90:
		err = c.img.Rotate(vips.Angle270)
	default:
		if err = c.img.AddAlpha(); err == nil {
			err = c.img.Similarity(1, float64(degrees), &vips.ColorRGBA{}, 0, 0, 0, 0)
		}
	}
	if err != nil {
		return fmt.Errorf("rotate image: %w", err)
	}
	return nil
}

func (c *govipsCanvas) Flip(direction geometry.Direction) error {
	var err error
	switch direction {
	case geometry.FlipHorizontal:
		err = c.img.Flip(vips.DirectionHorizontal)
	case geometry.FlipVertical:
		err = c.img.Flip(vips.DirectionVertical)
	default:
		return fmt.Errorf("%w: flip %s", geometry.ErrInvalidArgument, direction)
	}
	if err != nil {
		return fmt.Errorf("flip image: %w", err)
	}
	return nil
}

func (c *govipsCanvas) Sharpen(amount int) error {
	if err := c.img.Sharpen(sharpenSigma(amount), 1, 2); err != nil {
		return fmt.Errorf("sharpen image: %w", err)
	}
	return nil
}

func (c *govipsCanvas) Watermark(mark image.Image, at image.Point, opacity int) error {
	if mark == nil || mark.Bounds().Empty() {
		return errNoMark
	}
	overlay, err := vipsFromImage(mark)
	if err != nil {
		return err
	}
	defer overlay.Close()

	if !overlay.HasAlpha() {
		if err := overlay.AddAlpha(); err != nil {
			return fmt.Errorf("prepare watermark: %w", err)
		}
	}
	alpha := float64(geometry.ClampAmount(opacity)) / 100
	if err := overlay.Linear([]float64{1, 1, 1, alpha}, []float64{0, 0, 0, 0}); err != nil {
		return fmt.Errorf("apply watermark opacity: %w", err)
	}
	if err := c.img.Composite(overlay, vips.BlendModeOver, at.X, at.Y); err != nil {
		return fmt.Errorf("apply watermark: %w", err)
	}
	return nil
}

func (c *govipsCanvas) Background(bg geometry.Background) error {
	if bg.Opacity >= 100 {
		if err := c.img.Flatten(&vips.Color{R: bg.R, G: bg.G, B: bg.B}); err != nil {
			return fmt.Errorf("flatten background: %w", err)
		}
		return nil
	}

	fill := imaging.New(c.img.Width(), c.img.Height(), backgroundFill(bg))
	base, err := vipsFromImage(fill)
	if err != nil {
		return err
	}
	if err := base.Composite(c.img, vips.BlendModeOver, 0, 0); err != nil {
		base.Close()
		return fmt.Errorf("apply background: %w", err)
	}
	c.img.Close()
	c.img = base
	return nil
}

func (c *govipsCanvas) Encode(format string, quality int) ([]byte, error) {
	quality = geometry.ClampQuality(quality, defaultQuality)

	var (
		data []byte
		err  error
	)
	switch format = normalizeOutputFormat(format); format {
	case "jpeg":
		params := vips.NewJpegExportParams()
		params.Quality = quality
		data, _, err = c.img.ExportJpeg(params)
	case "png":
		data, _, err = c.img.ExportPng(vips.NewPngExportParams())
	case "webp":
		params := vips.NewWebpExportParams()
		params.Quality = quality
		data, _, err = c.img.ExportWebp(params)
	case "gif":
		data, _, err = c.img.ExportGIF(vips.NewGifExportParams())
	case "tiff":
		data, _, err = c.img.ExportTiff(vips.NewTiffExportParams())
	case "bmp":
		var img image.Image
		if img, err = c.img.ToImage(vips.NewDefaultPNGExportParams()); err == nil {
			var buf bytes.Buffer
			err = imaging.Encode(&buf, img, imaging.BMP)
			data = buf.Bytes()
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	return data, nil
}

func (c *govipsCanvas) Close() {
	if c.img != nil {
		c.img.Close()
		c.img = nil
	}
}

// vipsFromImage loads a decoded image into libvips through a lossless PNG.
func vipsFromImage(src image.Image) (*vips.ImageRef, error) {
	if _, ok := src.(*image.NRGBA); !ok {
		dst := image.NewNRGBA(src.Bounds())
		draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
		src = dst
	}
	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.NoCompression}
	if err := encoder.Encode(&buf, src); err != nil {
		return nil, fmt.Errorf("bridge image to vips: %w", err)
	}
	img, err := vips.NewImageFromBuffer(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("bridge image to vips: %w", err)
	}
	return img, nil
}

func vipsFormatName(t vips.ImageType) string {
	switch t {
	case vips.ImageTypeJPEG:
		return "jpeg"
	case vips.ImageTypeWEBP:
		return "webp"
	case vips.ImageTypeGIF:
		return "gif"
	case vips.ImageTypeTIFF:
		return "tiff"
	case vips.ImageTypeBMP:
		return "bmp"
	default:
		return "png"
	}
}
