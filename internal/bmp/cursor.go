package bmp

import (
	"encoding/binary"
	"fmt"
)

// cursor walks the pixel array at bit granularity so sub-byte depths never
// need fractional byte offsets. bit counts from the most significant bit of
// buf[off].
type cursor struct {
	buf []byte
	off int
	bit uint
}

// sample reads one pixel sample of the given depth and advances past it.
// 24-bit samples come back packed as 0x00RRGGBB; every other depth yields a
// palette index.
func (c *cursor) sample(bpp int) (uint32, error) {
	switch bpp {
	case 24:
		if c.off+3 > len(c.buf) {
			return 0, c.short(3)
		}
		b, g, r := c.buf[c.off], c.buf[c.off+1], c.buf[c.off+2]
		c.off += 3
		return uint32(r)<<16 | uint32(g)<<8 | uint32(b), nil
	case 16:
		if c.off+2 > len(c.buf) {
			return 0, c.short(2)
		}
		v := binary.BigEndian.Uint16(c.buf[c.off:])
		c.off += 2
		return uint32(v), nil
	case 8:
		if c.off >= len(c.buf) {
			return 0, c.short(1)
		}
		v := c.buf[c.off]
		c.off++
		return uint32(v), nil
	case 4, 1:
		if c.off >= len(c.buf) {
			return 0, c.short(1)
		}
		shift := 8 - c.bit - uint(bpp)
		v := (c.buf[c.off] >> shift) & (1<<uint(bpp) - 1)
		c.bit += uint(bpp)
		if c.bit == 8 {
			c.bit = 0
			c.off++
		}
		return uint32(v), nil
	}
	return 0, fmt.Errorf("%w: %d", ErrUnsupportedDepth, bpp)
}

// endRow finishes a partially consumed byte and skips the row padding.
func (c *cursor) endRow(padding int) {
	if c.bit != 0 {
		c.bit = 0
		c.off++
	}
	c.off += padding
}

func (c *cursor) short(need int) error {
	return fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, need, c.off, len(c.buf))
}
