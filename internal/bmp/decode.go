// Package bmp decodes uncompressed Windows bitmaps into truecolor pixel
// buffers. Supported depths are 1, 4, 8, 16 and 24 bits per pixel; every
// depth below 24 resolves samples through the file's palette, 16-bit
// included.
package bmp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Images with at least this many pixels are decoded in parallel row bands.
const parallelPixels = 1 << 20

// Decode reads a bitmap from r. It stops at the magic when r is not a bitmap.
func Decode(r io.Reader) (*PixelBuffer, error) {
	h, consumed, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	if skip := int64(h.File.BitmapOffset) - consumed; skip > 0 {
		if _, err := io.CopyN(io.Discard, r, skip); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: nothing at offset %d", ErrEmptyPixelData, h.File.BitmapOffset)
			}
			return nil, fmt.Errorf("bmp: seek to pixel data: %w", err)
		}
	}

	size := int64(h.Info.SizeBitmap)
	if size == 0 {
		size = int64(h.File.FileSize) - int64(h.File.BitmapOffset)
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: declared size %d", ErrEmptyPixelData, size)
	}

	payload, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return nil, fmt.Errorf("bmp: read pixel data: %w", err)
	}
	if len(payload) == 0 {
		return nil, ErrEmptyPixelData
	}

	return decodePixels(h, payload)
}

// DecodeBytes decodes a bitmap held in memory.
func DecodeBytes(b []byte) (*PixelBuffer, error) {
	return Decode(bytes.NewReader(b))
}

func decodePixels(h Header, payload []byte) (*PixelBuffer, error) {
	width := int(h.Info.Width)
	height := h.Info.Rows()
	stride := h.Info.RowStride()

	// The last row may omit its padding; everything before it may not.
	if int64(height-1) > int64(len(payload))/int64(stride) ||
		(height-1)*stride+h.Info.RowBytes() > len(payload) {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d at %d bpp", ErrTruncated, len(payload), width, height, h.Info.BitsPerPixel)
	}

	d := &decoder{
		info:    h.Info,
		palette: h.Palette,
		payload: payload,
		dst:     NewPixelBuffer(width, height),
	}

	if width*height < parallelPixels {
		if err := d.rows(0, height); err != nil {
			return nil, err
		}
		return d.dst, nil
	}

	bands := runtime.GOMAXPROCS(0)
	per := (height + bands - 1) / bands

	var g errgroup.Group
	g.SetLimit(bands)
	for from := 0; from < height; from += per {
		to := min(from+per, height)
		g.Go(func() error {
			return d.rows(from, to)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return d.dst, nil
}

// decoder is shared read-only across row bands; each band writes disjoint
// rows of dst.
type decoder struct {
	info    InfoHeader
	palette []uint32
	payload []byte
	dst     *PixelBuffer
}

// rows decodes source rows [from, to), counted in file order.
func (d *decoder) rows(from, to int) error {
	var (
		width   = int(d.info.Width)
		height  = d.info.Rows()
		bpp     = int(d.info.BitsPerPixel)
		padding = d.info.RowPadding()
		c       = cursor{buf: d.payload, off: from * d.info.RowStride()}
	)

	for i := from; i < to; i++ {
		y := height - 1 - i
		if d.info.TopDown() {
			y = i
		}
		row := d.dst.Pix[y*width : (y+1)*width]
		for x := range row {
			sample, err := c.sample(bpp)
			if err != nil {
				return err
			}
			rgb, err := d.resolve(sample)
			if err != nil {
				return fmt.Errorf("%w at (%d,%d)", err, x, y)
			}
			row[x] = rgb
		}
		c.endRow(padding)
	}
	return nil
}

func (d *decoder) resolve(sample uint32) (uint32, error) {
	if !d.info.Indexed() {
		return sample, nil
	}
	if int64(sample) >= int64(len(d.palette)) {
		return 0, fmt.Errorf("%w: index %d, palette has %d entries", ErrPaletteIndexOutOfRange, sample, len(d.palette))
	}
	return d.palette[sample], nil
}
