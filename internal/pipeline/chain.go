package pipeline

import (
	"context"
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/dunamismax/imagery/internal/domain"
	"github.com/dunamismax/imagery/internal/geometry"
)

// Resolved is one operation with every parameter made concrete against the
// size of the image it runs on.
type Resolved struct {
	Action     string               `json:"action"`
	Before     geometry.Size        `json:"before"`
	After      geometry.Size        `json:"after"`
	Resize     *geometry.Size       `json:"resize,omitempty"`
	Crop       *geometry.Crop       `json:"crop,omitempty"`
	Degrees    *int                 `json:"degrees,omitempty"`
	Direction  geometry.Direction   `json:"direction,omitempty"`
	Amount     int                  `json:"amount,omitempty"`
	Background *geometry.Background `json:"background,omitempty"`
	Mark       *geometry.Size       `json:"mark,omitempty"`
	Position   *image.Point         `json:"position,omitempty"`
	Opacity    int                  `json:"opacity,omitempty"`
}

// Resolve makes op concrete for an image of the given size without touching
// any pixels.
func Resolve(size geometry.Size, op domain.Operation) (Resolved, error) {
	action := strings.ToLower(strings.TrimSpace(op.Action))
	r := Resolved{Action: action, Before: size, After: size}

	switch action {
	case domain.ActionResize:
		master, err := geometry.ParseMaster(op.Master)
		if err != nil {
			return Resolved{}, err
		}
		target, err := geometry.ResolveResize(size, geometry.ResizeRequest{
			Width:  op.Width,
			Height: op.Height,
			Master: master,
		})
		if err != nil {
			return Resolved{}, err
		}
		if target.Width <= 0 || target.Height <= 0 {
			return Resolved{}, fmt.Errorf("%w: resize %s to %s", ErrEmptyArea, size, target)
		}
		r.Resize, r.After = &target, target
	case domain.ActionCrop:
		area := geometry.ResolveCrop(size, geometry.CropRequest{
			Width:   op.Width,
			Height:  op.Height,
			OffsetX: geometry.OffsetFrom(op.OffsetX),
			OffsetY: geometry.OffsetFrom(op.OffsetY),
		})
		visible := area.Rect().Intersect(image.Rect(0, 0, size.Width, size.Height))
		if visible.Empty() {
			return Resolved{}, fmt.Errorf("%w: crop %dx%d+%d+%d of %s", ErrEmptyArea, area.Width, area.Height, area.OffsetX, area.OffsetY, size)
		}
		r.Crop = &area
		r.After = geometry.Size{Width: visible.Dx(), Height: visible.Dy()}
	case domain.ActionRotate:
		degrees := geometry.ResolveRotation(op.Degrees)
		r.Degrees = &degrees
		r.After = rotatedSize(size, degrees)
	case domain.ActionFlip:
		direction, err := geometry.ParseDirection(op.Direction)
		if err != nil {
			return Resolved{}, err
		}
		r.Direction = direction
	case domain.ActionSharpen:
		r.Amount = geometry.ClampAmount(op.Amount)
	case domain.ActionBackground:
		bg, err := geometry.ResolveBackground(op.Color, defaultOpacity(op.Opacity))
		if err != nil {
			return Resolved{}, err
		}
		r.Background = &bg
	case domain.ActionWatermark:
		mark, err := markSize(op.Watermark)
		if err != nil {
			return Resolved{}, err
		}
		x, y := watermarkOffsets(op)
		pos := geometry.ResolveWatermark(size, mark, x, y)
		r.Mark, r.Position = &mark, &pos
		r.Opacity = geometry.ClampAmount(defaultOpacity(op.Opacity))
	default:
		return Resolved{}, fmt.Errorf("%w: %q", ErrInvalidStepAction, op.Action)
	}
	return r, nil
}

// Plan resolves ops in sequence, feeding each one the size predicted by the
// one before it.
func Plan(size geometry.Size, ops []domain.Operation) ([]Resolved, error) {
	out := make([]Resolved, 0, len(ops))
	for i, op := range ops {
		r, err := Resolve(size, op)
		if err != nil {
			return nil, fmt.Errorf("operation %d (%s): %w", i, op.Action, err)
		}
		out = append(out, r)
		size = r.After
	}
	return out, nil
}

// StepPlan is the dry run of one pipeline step.
type StepPlan struct {
	ID         string        `json:"id"`
	Operations []Resolved    `json:"operations"`
	Output     geometry.Size `json:"output"`
}

// PlanSteps plans every step against the same source size, the way the
// processor gives each step its own canvas.
func PlanSteps(source geometry.Size, steps []domain.PipelineStep) ([]StepPlan, error) {
	plans := make([]StepPlan, 0, len(steps))
	for _, step := range steps {
		resolved, err := Plan(source, step.Operations)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", step.ID, err)
		}
		out := source
		if n := len(resolved); n > 0 {
			out = resolved[n-1].After
		}
		plans = append(plans, StepPlan{ID: step.ID, Operations: resolved, Output: out})
	}
	return plans, nil
}

// Chain is an immutable list of operations. Then never modifies the receiver,
// so a chain can be shared and extended from several places.
type Chain struct {
	ops []domain.Operation
}

func NewChain(ops ...domain.Operation) Chain {
	return Chain{ops: append([]domain.Operation(nil), ops...)}
}

func (c Chain) Then(op domain.Operation) Chain {
	ops := make([]domain.Operation, len(c.ops), len(c.ops)+1)
	copy(ops, c.ops)
	return Chain{ops: append(ops, op)}
}

func (c Chain) Len() int {
	return len(c.ops)
}

func (c Chain) Operations() []domain.Operation {
	return append([]domain.Operation(nil), c.ops...)
}

// Apply runs the chain on canvas. Each operation is resolved against the
// canvas size at the moment it runs. The first failure stops the chain.
func (c Chain) Apply(ctx context.Context, canvas Canvas) error {
	for i, op := range c.ops {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := applyOperation(canvas, op); err != nil {
			return fmt.Errorf("operation %d (%s): %w", i, op.Action, err)
		}
	}
	return nil
}

func applyOperation(canvas Canvas, op domain.Operation) error {
	r, err := Resolve(canvas.Size(), op)
	if err != nil {
		return err
	}

	switch r.Action {
	case domain.ActionResize:
		return canvas.Resize(r.Resize.Width, r.Resize.Height)
	case domain.ActionCrop:
		return canvas.Crop(*r.Crop)
	case domain.ActionRotate:
		return canvas.Rotate(*r.Degrees)
	case domain.ActionFlip:
		return canvas.Flip(r.Direction)
	case domain.ActionSharpen:
		return canvas.Sharpen(r.Amount)
	case domain.ActionBackground:
		return canvas.Background(*r.Background)
	case domain.ActionWatermark:
		mark, err := renderMark(op.Watermark)
		if err != nil {
			return err
		}
		return canvas.Watermark(mark, *r.Position, r.Opacity)
	}
	return fmt.Errorf("%w: %q", ErrInvalidStepAction, op.Action)
}

// watermarkOffsets prefers explicit offsets, then gravity, then centering.
func watermarkOffsets(op domain.Operation) (x, y geometry.Offset) {
	if op.OffsetX != nil || op.OffsetY != nil {
		return geometry.OffsetFrom(op.OffsetX), geometry.OffsetFrom(op.OffsetY)
	}
	if op.Watermark != nil && strings.TrimSpace(op.Watermark.Gravity) != "" {
		return geometry.GravityOffsets(op.Watermark.Gravity)
	}
	return geometry.Center(), geometry.Center()
}

// defaultOpacity treats an omitted opacity as fully opaque. An explicit zero
// is kept and left to the clamps.
func defaultOpacity(v *int) int {
	if v == nil {
		return 100
	}
	return *v
}

// rotatedSize predicts the canvas after a clockwise rotation. It follows
// imaging.Rotate: the box spans the rotated pixel centres plus one, and a
// fractional part above 0.1 adds a pixel.
func rotatedSize(size geometry.Size, degrees int) geometry.Size {
	switch degrees {
	case 0, 180, -180:
		return size
	case 90, -90:
		return geometry.Size{Width: size.Height, Height: size.Width}
	}
	if size.Width <= 0 || size.Height <= 0 {
		return geometry.Size{}
	}

	angle := -float64(degrees)
	angle -= math.Floor(angle/360) * 360
	sin, cos := math.Sincos(math.Pi * angle / 180)
	turn := func(x, y float64) (float64, float64) { return x*cos - y*sin, x*sin + y*cos }

	w, h := float64(size.Width-1), float64(size.Height-1)
	x1, y1 := turn(w, 0)
	x2, y2 := turn(w, h)
	x3, y3 := turn(0, h)
	span := func(a, b, c float64) int {
		n := max(a, b, c, 0) - min(a, b, c, 0) + 1
		if n-math.Floor(n) > 0.1 {
			n++
		}
		return int(n)
	}
	return geometry.Size{Width: span(x1, x2, x3), Height: span(y1, y2, y3)}
}
