package bmp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// Magic is "BM" read as a little-endian 16-bit word.
	Magic = 19778

	fileHeaderLen = 14
	infoHeaderLen = 40
)

var (
	ErrNotABitmap             = errors.New("bmp: not a bitmap")
	ErrUnsupportedHeader      = errors.New("bmp: unsupported info header")
	ErrUnsupportedDepth       = errors.New("bmp: unsupported bits per pixel")
	ErrUnsupportedCompression = errors.New("bmp: unsupported compression")
	ErrPaletteIndexOutOfRange = errors.New("bmp: palette index out of range")
	ErrEmptyPixelData         = errors.New("bmp: empty pixel data")
	ErrTruncated              = errors.New("bmp: truncated pixel data")
)

// FileHeader is the 14-byte BITMAPFILEHEADER at the start of every bitmap.
type FileHeader struct {
	Magic        uint16 // Always Magic once parsed.
	FileSize     uint32 // Size of the whole file in bytes.
	Reserved     uint32 // Ignored.
	BitmapOffset uint32 // Offset of the pixel array from the start of the file.
}

// InfoHeader holds the BITMAPINFOHEADER fields. V4 and V5 headers are accepted
// and read through their first 40 bytes.
type InfoHeader struct {
	HeaderSize      uint32 // Declared size of the info header, at least 40.
	Width           int32  // Pixel columns.
	Height          int32  // Pixel rows. Positive means rows are stored bottom-up.
	Planes          uint16
	BitsPerPixel    uint16 // One of 1, 4, 8, 16 or 24 for this decoder.
	Compression     uint32 // Must be 0 (BI_RGB).
	SizeBitmap      uint32 // Raw pixel data size, 0 means FileSize - BitmapOffset.
	HorizResolution int32  // Pixels per meter.
	VertResolution  int32  // Pixels per meter.
	ColorsUsed      uint32 // Palette entries, 0 means 2^BitsPerPixel.
	ColorsImportant uint32
}

// Header is everything in front of the pixel array.
type Header struct {
	File    FileHeader
	Info    InfoHeader
	Palette []uint32 // 0x00RRGGBB entries, nil for 24-bit images.
}

// TopDown reports whether rows are stored top to bottom.
func (h InfoHeader) TopDown() bool {
	return h.Height < 0
}

// Rows is the absolute image height.
func (h InfoHeader) Rows() int {
	if h.Height < 0 {
		return -int(h.Height)
	}
	return int(h.Height)
}

// Indexed reports whether samples are palette indices rather than colors.
func (h InfoHeader) Indexed() bool {
	return h.BitsPerPixel < 24
}

// Colors is the palette size the header asks for: ColorsUsed when it is set
// and fits the depth, 2^BitsPerPixel otherwise. Truecolor images have none.
func (h InfoHeader) Colors() int {
	if !h.Indexed() {
		return 0
	}
	limit := 1 << h.BitsPerPixel
	if h.ColorsUsed == 0 || int64(h.ColorsUsed) > int64(limit) {
		return limit
	}
	return int(h.ColorsUsed)
}

// RowBytes is ceil(width*bpp/8), the unpadded length of one row.
func (h InfoHeader) RowBytes() int {
	return (int(h.Width)*int(h.BitsPerPixel) + 7) / 8
}

// RowStride is the length of one row including its padding.
func (h InfoHeader) RowStride() int {
	return ((int(h.Width)*int(h.BitsPerPixel) + 31) / 32) * 4
}

// RowPadding is the number of zero bytes that bring a row to a multiple of 4.
func (h InfoHeader) RowPadding() int {
	return h.RowStride() - h.RowBytes()
}

// IsBitmap reports whether b starts with the bitmap magic.
func IsBitmap(b []byte) bool {
	return len(b) >= 2 && binary.LittleEndian.Uint16(b) == Magic
}

// DecodeConfig reads the file header, info header and palette without
// touching the pixel array.
func DecodeConfig(r io.Reader) (Header, error) {
	h, _, err := readHeader(r)
	return h, err
}

// readHeader returns the parsed header and the number of bytes consumed.
// The magic is checked before anything past the first two bytes is read.
func readHeader(r io.Reader) (Header, int64, error) {
	var (
		h Header
		b [infoHeaderLen]byte
	)

	if _, err := io.ReadFull(r, b[:2]); err != nil {
		return Header{}, 0, fmt.Errorf("%w: read magic: %v", ErrNotABitmap, err)
	}
	h.File.Magic = binary.LittleEndian.Uint16(b[:2])
	if h.File.Magic != Magic {
		return Header{}, 2, fmt.Errorf("%w: magic %q", ErrNotABitmap, b[:2])
	}
	if _, err := io.ReadFull(r, b[2:fileHeaderLen]); err != nil {
		return Header{}, 2, fmt.Errorf("%w: short file header: %v", ErrNotABitmap, err)
	}
	h.File.FileSize = binary.LittleEndian.Uint32(b[2:6])
	h.File.Reserved = binary.LittleEndian.Uint32(b[6:10])
	h.File.BitmapOffset = binary.LittleEndian.Uint32(b[10:14])
	consumed := int64(fileHeaderLen)

	if _, err := io.ReadFull(r, b[:infoHeaderLen]); err != nil {
		return Header{}, consumed, fmt.Errorf("%w: short info header: %v", ErrNotABitmap, err)
	}
	consumed += infoHeaderLen

	info := InfoHeader{
		HeaderSize:      binary.LittleEndian.Uint32(b[0:4]),
		Width:           int32(binary.LittleEndian.Uint32(b[4:8])),
		Height:          int32(binary.LittleEndian.Uint32(b[8:12])),
		Planes:          binary.LittleEndian.Uint16(b[12:14]),
		BitsPerPixel:    binary.LittleEndian.Uint16(b[14:16]),
		Compression:     binary.LittleEndian.Uint32(b[16:20]),
		SizeBitmap:      binary.LittleEndian.Uint32(b[20:24]),
		HorizResolution: int32(binary.LittleEndian.Uint32(b[24:28])),
		VertResolution:  int32(binary.LittleEndian.Uint32(b[28:32])),
		ColorsUsed:      binary.LittleEndian.Uint32(b[32:36]),
		ColorsImportant: binary.LittleEndian.Uint32(b[36:40]),
	}
	h.Info = info

	if info.HeaderSize < infoHeaderLen {
		return Header{}, consumed, fmt.Errorf("%w: header size %d", ErrUnsupportedHeader, info.HeaderSize)
	}
	if info.Width <= 0 || info.Height == 0 {
		return Header{}, consumed, fmt.Errorf("%w: dimensions %dx%d", ErrUnsupportedHeader, info.Width, info.Height)
	}
	switch info.BitsPerPixel {
	case 1, 4, 8, 16, 24:
	default:
		return Header{}, consumed, fmt.Errorf("%w: %d", ErrUnsupportedDepth, info.BitsPerPixel)
	}
	if info.Compression != 0 {
		return Header{}, consumed, fmt.Errorf("%w: method %d", ErrUnsupportedCompression, info.Compression)
	}

	if extra := int64(info.HeaderSize) - infoHeaderLen; extra > 0 {
		if _, err := io.CopyN(io.Discard, r, extra); err != nil {
			return Header{}, consumed, fmt.Errorf("%w: short extended header: %v", ErrNotABitmap, err)
		}
		consumed += extra
	}

	offset := int64(h.File.BitmapOffset)
	if offset < consumed {
		return Header{}, consumed, fmt.Errorf("%w: pixel data offset %d inside headers", ErrNotABitmap, offset)
	}

	if info.Indexed() {
		entries := int64(info.Colors())
		if room := (offset - consumed) / 4; room < entries {
			entries = room
		}
		raw := make([]byte, entries*4)
		if _, err := io.ReadFull(r, raw); err != nil {
			return Header{}, consumed, fmt.Errorf("%w: short palette: %v", ErrNotABitmap, err)
		}
		consumed += int64(len(raw))

		h.Palette = make([]uint32, entries)
		for i := range h.Palette {
			// BGRx entries; the reserved byte is dropped.
			h.Palette[i] = binary.LittleEndian.Uint32(raw[i*4:]) & 0x00ffffff
		}
	}

	return h, consumed, nil
}
