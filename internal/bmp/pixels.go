package bmp

import (
	"image"
	"image/color"
)

// PixelBuffer is a decoded truecolor bitmap. Pix holds one 0x00RRGGBB value
// per pixel, row-major, with row 0 at the top whatever the source row order.
type PixelBuffer struct {
	Width  int
	Height int
	Pix    []uint32
}

func NewPixelBuffer(width, height int) *PixelBuffer {
	return &PixelBuffer{
		Width:  width,
		Height: height,
		Pix:    make([]uint32, width*height),
	}
}

func (p *PixelBuffer) RGB(x, y int) uint32 {
	return p.Pix[y*p.Width+x]
}

func (p *PixelBuffer) Set(x, y int, rgb uint32) {
	p.Pix[y*p.Width+x] = rgb & 0x00ffffff
}

func (p *PixelBuffer) ColorModel() color.Model {
	return color.RGBAModel
}

func (p *PixelBuffer) Bounds() image.Rectangle {
	return image.Rect(0, 0, p.Width, p.Height)
}

func (p *PixelBuffer) At(x, y int) color.Color {
	if !image.Pt(x, y).In(p.Bounds()) {
		return color.RGBA{}
	}
	return unpack(p.RGB(x, y))
}

// RGBA copies the buffer into an opaque *image.RGBA.
func (p *PixelBuffer) RGBA() *image.RGBA {
	dst := image.NewRGBA(p.Bounds())
	for i, v := range p.Pix {
		j := i * 4
		dst.Pix[j] = uint8(v >> 16)
		dst.Pix[j+1] = uint8(v >> 8)
		dst.Pix[j+2] = uint8(v)
		dst.Pix[j+3] = 0xff
	}
	return dst
}

func unpack(v uint32) color.RGBA {
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
}
