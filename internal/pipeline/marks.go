package pipeline

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"strings"

	"github.com/dunamismax/imagery/internal/domain"
	"github.com/dunamismax/imagery/internal/geometry"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var errNoMark = errors.New("watermark needs text or image")

var markFace = basicfont.Face7x13

// renderMark produces the overlay image for a watermark. Text is drawn white
// on a transparent background; opacity is applied when compositing.
func renderMark(wm *domain.Watermark) (image.Image, error) {
	if wm == nil {
		return nil, errNoMark
	}
	if len(wm.Image) > 0 {
		img, _, err := decodeImage(wm.Image)
		if err != nil {
			return nil, err
		}
		return img, nil
	}

	text := strings.TrimSpace(wm.Text)
	if text == "" {
		return nil, errNoMark
	}
	size := textMarkSize(text)
	dst := image.NewNRGBA(image.Rect(0, 0, size.Width, size.Height))
	draw.Draw(dst, dst.Bounds(), image.Transparent, image.Point{}, draw.Src)

	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.White),
		Face: markFace,
		Dot:  fixed.P(0, markFace.Metrics().Ascent.Ceil()),
	}
	drawer.DrawString(text)
	return dst, nil
}

// markSize reports the overlay size without rendering it.
func markSize(wm *domain.Watermark) (geometry.Size, error) {
	if wm == nil {
		return geometry.Size{}, errNoMark
	}
	if len(wm.Image) > 0 {
		size, _, err := decodeImageSize(wm.Image)
		return size, err
	}
	text := strings.TrimSpace(wm.Text)
	if text == "" {
		return geometry.Size{}, errNoMark
	}
	return textMarkSize(text), nil
}

func textMarkSize(text string) geometry.Size {
	drawer := &font.Drawer{Face: markFace}
	return geometry.Size{
		Width:  max(1, drawer.MeasureString(text).Ceil()),
		Height: markFace.Metrics().Height.Ceil(),
	}
}
