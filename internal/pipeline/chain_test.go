package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"reflect"
	"testing"

	"github.com/dunamismax/imagery/internal/domain"
	"github.com/dunamismax/imagery/internal/geometry"
)

type recordingCanvas struct {
	size  geometry.Size
	calls []string
	fail  string
}

func (c *recordingCanvas) record(call string) error {
	c.calls = append(c.calls, call)
	if c.fail != "" && c.fail == call {
		return errors.New("backend refused " + call)
	}
	return nil
}

func (c *recordingCanvas) Size() geometry.Size  { return c.size }
func (c *recordingCanvas) SourceFormat() string { return "png" }
func (c *recordingCanvas) Close()               {}

func (c *recordingCanvas) Resize(w, h int) error {
	c.size = geometry.Size{Width: w, Height: h}
	return c.record(fmt.Sprintf("resize %dx%d", w, h))
}

func (c *recordingCanvas) Crop(area geometry.Crop) error {
	c.size = geometry.Size{Width: area.Width, Height: area.Height}
	return c.record(fmt.Sprintf("crop %dx%d+%d+%d", area.Width, area.Height, area.OffsetX, area.OffsetY))
}

func (c *recordingCanvas) Rotate(degrees int) error {
	c.size = rotatedSize(c.size, degrees)
	return c.record(fmt.Sprintf("rotate %d", degrees))
}

func (c *recordingCanvas) Flip(d geometry.Direction) error {
	return c.record("flip " + d.String())
}

func (c *recordingCanvas) Sharpen(amount int) error {
	return c.record(fmt.Sprintf("sharpen %d", amount))
}

func (c *recordingCanvas) Watermark(mark image.Image, at image.Point, opacity int) error {
	b := mark.Bounds()
	return c.record(fmt.Sprintf("watermark %dx%d at %d,%d opacity %d", b.Dx(), b.Dy(), at.X, at.Y, opacity))
}

func (c *recordingCanvas) Background(bg geometry.Background) error {
	return c.record(fmt.Sprintf("background %02x%02x%02x/%d", bg.R, bg.G, bg.B, bg.Opacity))
}

func (c *recordingCanvas) Encode(string, int) ([]byte, error) { return nil, nil }

func intPtr(v int) *int { return &v }

func TestChainResolvesAgainstCurrentSize(t *testing.T) {
	canvas := &recordingCanvas{size: geometry.Size{Width: 200, Height: 100}}

	chain := NewChain(
		domain.Operation{Action: domain.ActionResize, Width: 100},
		domain.Operation{Action: domain.ActionCrop, Width: 40, Height: 40},
		domain.Operation{Action: domain.ActionCrop, Width: 10, OffsetX: intPtr(-1), OffsetY: intPtr(-1)},
		domain.Operation{Action: "Rotate", Degrees: -270.5},
		domain.Operation{Action: domain.ActionFlip, Direction: "v"},
		domain.Operation{Action: domain.ActionSharpen, Amount: 500},
		domain.Operation{Action: domain.ActionBackground, Color: "#102030"},
		domain.Operation{
			Action:    domain.ActionWatermark,
			Opacity:   intPtr(300),
			Watermark: &domain.Watermark{Text: "a"},
		},
	)
	if err := chain.Apply(context.Background(), canvas); err != nil {
		t.Fatalf("apply chain: %v", err)
	}

	want := []string{
		"resize 100x50",
		"crop 40x40+30+5",
		"crop 10x40+30+0",
		"rotate 90",
		"flip vertical",
		"sharpen 100",
		"background 102030/100",
		"watermark 7x13 at 16,-1 opacity 100",
	}
	if !reflect.DeepEqual(canvas.calls, want) {
		t.Fatalf("unexpected calls\n got: %q\nwant: %q", canvas.calls, want)
	}
}

func TestChainStopsAtFirstFailure(t *testing.T) {
	canvas := &recordingCanvas{size: geometry.Size{Width: 10, Height: 10}, fail: "rotate 45"}
	chain := NewChain(
		domain.Operation{Action: domain.ActionRotate, Degrees: 45},
		domain.Operation{Action: domain.ActionSharpen, Amount: 10},
	)

	err := chain.Apply(context.Background(), canvas)
	if err == nil {
		t.Fatal("expected backend failure to surface")
	}
	if len(canvas.calls) != 1 {
		t.Fatalf("expected chain to stop after the failing call, got %q", canvas.calls)
	}
}

func TestChainHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	canvas := &recordingCanvas{size: geometry.Size{Width: 10, Height: 10}}
	err := NewChain(domain.Operation{Action: domain.ActionSharpen}).Apply(ctx, canvas)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(canvas.calls) != 0 {
		t.Fatalf("expected no canvas calls, got %q", canvas.calls)
	}
}

func TestChainThenDoesNotShareState(t *testing.T) {
	base := NewChain(domain.Operation{Action: domain.ActionResize, Width: 10})
	a := base.Then(domain.Operation{Action: domain.ActionSharpen, Amount: 10})
	b := base.Then(domain.Operation{Action: domain.ActionFlip, Direction: "h"})

	if base.Len() != 1 || a.Len() != 2 || b.Len() != 2 {
		t.Fatalf("unexpected lengths base=%d a=%d b=%d", base.Len(), a.Len(), b.Len())
	}
	if a.Operations()[1].Action != domain.ActionSharpen || b.Operations()[1].Action != domain.ActionFlip {
		t.Fatal("extending one chain changed a sibling")
	}
}

func TestPlanFeedsSizesForward(t *testing.T) {
	steps, err := Plan(geometry.Size{Width: 640, Height: 480}, []domain.Operation{
		{Action: domain.ActionResize, Width: 320, Height: 320},
		{Action: domain.ActionRotate, Degrees: 90},
		{Action: domain.ActionCrop, Width: 100, Height: 100, OffsetX: intPtr(0)},
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	if got := steps[0].After; got != (geometry.Size{Width: 320, Height: 240}) {
		t.Fatalf("resize after = %v", got)
	}
	if got := steps[1].After; got != (geometry.Size{Width: 240, Height: 320}) {
		t.Fatalf("rotate after = %v", got)
	}
	crop := steps[2].Crop
	if crop == nil || crop.OffsetX != 0 || crop.OffsetY != 110 {
		t.Fatalf("unexpected crop %+v", crop)
	}
}

func TestPlanRejectsUnknownAction(t *testing.T) {
	_, err := Plan(geometry.Size{Width: 10, Height: 10}, []domain.Operation{{Action: "emboss"}})
	if !errors.Is(err, ErrInvalidStepAction) {
		t.Fatalf("expected ErrInvalidStepAction, got %v", err)
	}
}

func TestResolveCropOutsideImage(t *testing.T) {
	_, err := Resolve(geometry.Size{Width: 10, Height: 10}, domain.Operation{
		Action:  domain.ActionCrop,
		Width:   5,
		OffsetX: intPtr(50),
	})
	if !errors.Is(err, ErrEmptyArea) {
		t.Fatalf("expected ErrEmptyArea, got %v", err)
	}
}

func TestResolveWatermarkOffsets(t *testing.T) {
	size := geometry.Size{Width: 100, Height: 50}
	mark := &domain.Watermark{Text: "ab", Gravity: "northwest"}

	r, err := Resolve(size, domain.Operation{Action: domain.ActionWatermark, Watermark: mark})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if *r.Position != image.Pt(0, 0) || r.Opacity != 100 {
		t.Fatalf("gravity placement got %v opacity %d", *r.Position, r.Opacity)
	}

	r, err = Resolve(size, domain.Operation{
		Action:    domain.ActionWatermark,
		OffsetX:   intPtr(-1),
		Opacity:   intPtr(40),
		Watermark: mark,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// Explicit offsets win over gravity; the missing axis centers.
	if *r.Position != image.Pt(86, 18) || r.Opacity != 40 {
		t.Fatalf("offset placement got %v opacity %d", *r.Position, r.Opacity)
	}
}

func TestRotatedSize(t *testing.T) {
	cases := map[int]geometry.Size{
		0:    {Width: 40, Height: 20},
		90:   {Width: 20, Height: 40},
		-180: {Width: 40, Height: 20},
		45:   {Width: 42, Height: 42},
	}
	for degrees, want := range cases {
		if got := rotatedSize(geometry.Size{Width: 40, Height: 20}, degrees); got != want {
			t.Fatalf("rotatedSize(%d) = %v, want %v", degrees, got, want)
		}
	}
}

func TestPlanRotationMatchesImagingCanvas(t *testing.T) {
	source := geometry.Size{Width: 100, Height: 50}
	cases := map[float64]geometry.Size{
		10: {Width: 107, Height: 67},
		30: {Width: 112, Height: 93},
		45: {Width: 106, Height: 106},
	}
	for degrees, want := range cases {
		ops := []domain.Operation{{Action: domain.ActionRotate, Degrees: degrees}}
		plan, err := Plan(source, ops)
		if err != nil {
			t.Fatalf("plan %v: %v", degrees, err)
		}
		canvas := openImaging(t, gradient(source.Width, source.Height))
		if err := NewChain(ops...).Apply(context.Background(), canvas); err != nil {
			t.Fatalf("apply %v: %v", degrees, err)
		}
		if got := plan[0].After; got != canvas.Size() || got != want {
			t.Fatalf("rotate %v: plan %v, canvas %v, want %v", degrees, got, canvas.Size(), want)
		}
	}
}

func TestResolveKeepsExplicitZeroOpacity(t *testing.T) {
	size := geometry.Size{Width: 100, Height: 50}

	r, err := Resolve(size, domain.Operation{
		Action:    domain.ActionWatermark,
		Opacity:   intPtr(0),
		Watermark: &domain.Watermark{Text: "ab"},
	})
	if err != nil {
		t.Fatalf("resolve watermark: %v", err)
	}
	if r.Opacity != 1 {
		t.Fatalf("expected zero opacity clamped to 1, got %d", r.Opacity)
	}

	r, err = Resolve(size, domain.Operation{Action: domain.ActionBackground, Color: "#000", Opacity: intPtr(0)})
	if err != nil {
		t.Fatalf("resolve background: %v", err)
	}
	if r.Background.Opacity != 0 {
		t.Fatalf("expected transparent background, got %d", r.Background.Opacity)
	}

	r, err = Resolve(size, domain.Operation{Action: domain.ActionBackground, Color: "#000"})
	if err != nil {
		t.Fatalf("resolve background: %v", err)
	}
	if r.Background.Opacity != 100 {
		t.Fatalf("expected omitted opacity to mean opaque, got %d", r.Background.Opacity)
	}
}

func TestResolvedFlipMarshalsDirectionName(t *testing.T) {
	r, err := Resolve(geometry.Size{Width: 4, Height: 4}, domain.Operation{Action: domain.ActionFlip, Direction: "v"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if r.Direction != geometry.FlipVertical {
		t.Fatalf("expected vertical flip, got %v", r.Direction)
	}

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Resolved
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal %s: %v", b, err)
	}
	if decoded.Direction != geometry.FlipVertical {
		t.Fatalf("direction did not survive JSON %s", b)
	}
}

func TestPlanStepsStartEachStepFromSource(t *testing.T) {
	source := geometry.Size{Width: 400, Height: 300}
	plans, err := PlanSteps(source, []domain.PipelineStep{
		{ID: "thumb", Operations: []domain.Operation{{Action: domain.ActionResize, Width: 100}}},
		{ID: "turned", Operations: []domain.Operation{{Action: domain.ActionRotate, Degrees: 90}}},
		{ID: "copy"},
	})
	if err != nil {
		t.Fatalf("plan steps: %v", err)
	}
	want := []geometry.Size{{Width: 100, Height: 75}, {Width: 300, Height: 400}, source}
	for i, p := range plans {
		if p.Output != want[i] {
			t.Fatalf("step %s: output %v, want %v", p.ID, p.Output, want[i])
		}
	}

	_, err = PlanSteps(source, []domain.PipelineStep{{ID: "bad", Operations: []domain.Operation{{Action: "emboss"}}}})
	if !errors.Is(err, ErrInvalidStepAction) {
		t.Fatalf("expected ErrInvalidStepAction, got %v", err)
	}
}

func TestResolveResizeToZeroRowsIsEmpty(t *testing.T) {
	_, err := Plan(geometry.Size{Width: 1000, Height: 1}, []domain.Operation{{Action: domain.ActionResize, Width: 10}})
	if !errors.Is(err, ErrEmptyArea) {
		t.Fatalf("expected ErrEmptyArea, got %v", err)
	}
}
