package geometry

import (
	"fmt"
	"image"
	"strings"
)

// Offset positions one axis of a crop or watermark. The zero value centers;
// End aligns to the right or bottom edge; anything else is a literal pixel
// offset. At(-1) is the same as End.
type Offset struct {
	set   bool
	pixel int
}

func Center() Offset { return Offset{} }

func End() Offset { return At(-1) }

func At(pixel int) Offset { return Offset{set: true, pixel: pixel} }

// OffsetFrom maps an optional literal onto an Offset; nil centers.
func OffsetFrom(v *int) Offset {
	if v == nil {
		return Center()
	}
	return At(*v)
}

func (o Offset) IsCenter() bool { return !o.set }

func (o Offset) IsEnd() bool { return o.set && o.pixel == -1 }

// Resolve places the offset within space, the leftover room along the axis.
func (o Offset) Resolve(space int) int {
	switch {
	case !o.set:
		return space / 2
	case o.pixel == -1:
		return space
	default:
		return o.pixel
	}
}

func (o Offset) String() string {
	switch {
	case o.IsCenter():
		return "center"
	case o.IsEnd():
		return "end"
	default:
		return fmt.Sprint(o.pixel)
	}
}

// CropRequest leaves Width or Height at zero to keep the current value.
type CropRequest struct {
	Width   int
	Height  int
	OffsetX Offset
	OffsetY Offset
}

type Crop struct {
	Width   int `json:"width"`
	Height  int `json:"height"`
	OffsetX int `json:"offset_x"`
	OffsetY int `json:"offset_y"`
}

// Rect is the crop area in source coordinates.
func (c Crop) Rect() image.Rectangle {
	return image.Rect(c.OffsetX, c.OffsetY, c.OffsetX+c.Width, c.OffsetY+c.Height)
}

// ResolveCrop fills in the crop size and offsets. Nothing is checked against
// the image bounds; clamping belongs to the backend.
func ResolveCrop(current Size, req CropRequest) Crop {
	w, h := req.Width, req.Height
	if w <= 0 {
		w = current.Width
	}
	if h <= 0 {
		h = current.Height
	}
	return Crop{
		Width:   w,
		Height:  h,
		OffsetX: req.OffsetX.Resolve(current.Width - w),
		OffsetY: req.OffsetY.Resolve(current.Height - h),
	}
}

// ResolveWatermark positions a mark of size mark on an image of size base.
func ResolveWatermark(base, mark Size, x, y Offset) image.Point {
	return image.Pt(
		x.Resolve(base.Width-mark.Width),
		y.Resolve(base.Height-mark.Height),
	)
}

// GravityOffsets maps a compass gravity onto offsets. Unknown or empty
// gravity means southeast.
func GravityOffsets(gravity string) (x, y Offset) {
	switch strings.ToLower(strings.TrimSpace(gravity)) {
	case "northwest":
		return At(0), At(0)
	case "north":
		return Center(), At(0)
	case "northeast":
		return End(), At(0)
	case "west":
		return At(0), Center()
	case "center":
		return Center(), Center()
	case "east":
		return End(), Center()
	case "southwest":
		return At(0), End()
	case "south":
		return Center(), End()
	default:
		return End(), End()
	}
}
