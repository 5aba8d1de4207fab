package pipeline

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/dunamismax/imagery/internal/bmp"
	"github.com/dunamismax/imagery/internal/geometry"
	"github.com/klauspost/compress/zstd"
	_ "golang.org/x/image/webp"
)

const maxSourceBytes = 256 << 20

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var sourceDecoder = newSourceDecoder()

func newSourceDecoder() *zstd.Decoder {
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(0),
		zstd.WithDecoderMaxMemory(maxSourceBytes),
	)
	if err != nil {
		panic(fmt.Sprintf("pipeline: zstd decoder: %v", err))
	}
	return dec
}

// unwrapSource strips a zstd frame around an uploaded image. Anything else is
// returned unchanged.
func unwrapSource(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, zstdMagic) {
		return data, nil
	}
	out, err := sourceDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress zstd source: %w", err)
	}
	return out, nil
}

// decodeImage decodes BMP through the bitmap package and everything else
// through the registered image codecs.
func decodeImage(data []byte) (image.Image, string, error) {
	if bmp.IsBitmap(data) {
		pix, err := bmp.DecodeBytes(data)
		if err != nil {
			return nil, "", err
		}
		return pix.RGBA(), "bmp", nil
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	return img, format, nil
}

func decodeImageSize(data []byte) (geometry.Size, string, error) {
	if bmp.IsBitmap(data) {
		h, err := bmp.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return geometry.Size{}, "", err
		}
		return geometry.Size{Width: int(h.Info.Width), Height: h.Info.Rows()}, "bmp", nil
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return geometry.Size{}, "", fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	return geometry.Size{Width: cfg.Width, Height: cfg.Height}, format, nil
}

// Inspection describes an encoded image. Bitmap is set only for BMP sources.
type Inspection struct {
	Size   geometry.Size
	Format string
	Bitmap *bmp.Header
}

// Inspect reports the size and format of an encoded, possibly zstd framed,
// image without decoding its pixels. Bitmap headers are read from the
// unwrapped bytes.
func Inspect(data []byte) (Inspection, error) {
	data, err := unwrapSource(data)
	if err != nil {
		return Inspection{}, err
	}
	if bmp.IsBitmap(data) {
		h, err := bmp.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return Inspection{}, err
		}
		return Inspection{
			Size:   geometry.Size{Width: int(h.Info.Width), Height: h.Info.Rows()},
			Format: "bmp",
			Bitmap: &h,
		}, nil
	}
	size, format, err := decodeImageSize(data)
	if err != nil {
		return Inspection{}, err
	}
	return Inspection{Size: size, Format: format}, nil
}
