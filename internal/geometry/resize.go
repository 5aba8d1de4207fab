// Package geometry turns partially specified transformation requests into
// concrete integer parameters. Every function is pure: callers pass the
// image's current size on each call and nothing is cached between calls.
package geometry

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var ErrInvalidArgument = errors.New("invalid argument")

type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Master is the resize axis taken literally; the other axis follows the
// aspect ratio.
type Master int

const (
	MasterAuto Master = iota
	MasterNone
	MasterWidth
	MasterHeight
)

func ParseMaster(s string) (Master, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return MasterAuto, nil
	case "none":
		return MasterNone, nil
	case "width":
		return MasterWidth, nil
	case "height":
		return MasterHeight, nil
	default:
		return MasterAuto, fmt.Errorf("%w: master %q", ErrInvalidArgument, s)
	}
}

func (m Master) String() string {
	switch m {
	case MasterNone:
		return "none"
	case MasterWidth:
		return "width"
	case MasterHeight:
		return "height"
	default:
		return "auto"
	}
}

// ResizeRequest leaves Width or Height at zero to omit it.
type ResizeRequest struct {
	Width  int
	Height int
	Master Master
}

// ResolveResize computes the final resize dimensions.
//
// An omitted axis is derived from the other one proportionally, or kept at
// its current value under MasterNone. MasterAuto drives the resize from the
// axis that needs the larger scale-down. Arithmetic is exact; results are
// truncated toward zero and never drop below one pixel.
func ResolveResize(current Size, req ResizeRequest) (Size, error) {
	if current.Width <= 0 || current.Height <= 0 {
		return Size{}, fmt.Errorf("%w: resize source %s", ErrInvalidArgument, current)
	}
	if req.Width < 0 || req.Height < 0 {
		return Size{}, fmt.Errorf("%w: resize target %dx%d", ErrInvalidArgument, req.Width, req.Height)
	}
	if req.Width == 0 && req.Height == 0 {
		return current, nil
	}

	cw := big.NewRat(int64(current.Width), 1)
	ch := big.NewRat(int64(current.Height), 1)
	w := big.NewRat(int64(req.Width), 1)
	h := big.NewRat(int64(req.Height), 1)

	if req.Width == 0 {
		if req.Master == MasterNone {
			w.Set(cw)
		} else {
			w = scale(cw, h, ch)
		}
	}
	if req.Height == 0 {
		if req.Master == MasterNone {
			h.Set(ch)
		} else {
			h = scale(ch, w, cw)
		}
	}

	master := req.Master
	if master == MasterAuto {
		byWidth := new(big.Rat).Quo(cw, w)
		byHeight := new(big.Rat).Quo(ch, h)
		if byWidth.Cmp(byHeight) > 0 {
			master = MasterWidth
		} else {
			master = MasterHeight
		}
	}

	switch master {
	case MasterWidth:
		h = scale(ch, w, cw)
	case MasterHeight:
		w = scale(cw, h, ch)
	}

	return Size{Width: truncate(w), Height: truncate(h)}, nil
}

// scale returns a*b/c exactly.
func scale(a, b, c *big.Rat) *big.Rat {
	r := new(big.Rat).Mul(a, b)
	return r.Quo(r, c)
}

func truncate(r *big.Rat) int {
	return int(new(big.Int).Quo(r.Num(), r.Denom()).Int64())
}
