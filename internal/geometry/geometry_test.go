package geometry

import (
	"image"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveResize(t *testing.T) {
	for name, tc := range map[string]struct {
		current Size
		req     ResizeRequest
		want    Size
	}{
		"proportional height": {
			current: Size{100, 50},
			req:     ResizeRequest{Width: 50},
			want:    Size{50, 25},
		},
		"proportional width": {
			current: Size{100, 50},
			req:     ResizeRequest{Height: 10},
			want:    Size{20, 10},
		},
		"nothing requested": {
			current: Size{100, 50},
			req:     ResizeRequest{Master: MasterNone},
			want:    Size{100, 50},
		},
		"none keeps current height": {
			current: Size{100, 50},
			req:     ResizeRequest{Width: 30, Master: MasterNone},
			want:    Size{30, 50},
		},
		"none takes both literally": {
			current: Size{100, 50},
			req:     ResizeRequest{Width: 30, Height: 40, Master: MasterNone},
			want:    Size{30, 40},
		},
		"auto fits inside box by width": {
			current: Size{400, 100},
			req:     ResizeRequest{Width: 100, Height: 100},
			want:    Size{100, 25},
		},
		"auto fits inside box by height": {
			current: Size{100, 400},
			req:     ResizeRequest{Width: 100, Height: 100},
			want:    Size{25, 100},
		},
		"width master": {
			current: Size{300, 200},
			req:     ResizeRequest{Width: 150, Height: 10, Master: MasterWidth},
			want:    Size{150, 100},
		},
		"height master": {
			current: Size{300, 200},
			req:     ResizeRequest{Width: 10, Height: 50, Master: MasterHeight},
			want:    Size{75, 50},
		},
		"truncates toward zero": {
			current: Size{10, 7},
			req:     ResizeRequest{Width: 4},
			want:    Size{4, 2},
		},
		"thin source collapses to zero rows": {
			current: Size{1000, 1},
			req:     ResizeRequest{Width: 10},
			want:    Size{10, 0},
		},
		"derived axis survives exact ratio tie": {
			current: Size{3, 7},
			req:     ResizeRequest{Width: 2},
			want:    Size{2, 4},
		},
		"never below one pixel": {
			current: Size{1000, 1},
			req:     ResizeRequest{Width: 10},
			want:    Size{10, 1},
		},
	} {
		t.Run(name, func(t *testing.T) {
			got, err := ResolveResize(tc.current, tc.req)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestResolveResizeRejectsDegenerateInput(t *testing.T) {
	_, err := ResolveResize(Size{0, 50}, ResizeRequest{Width: 10})
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = ResolveResize(Size{50, 0}, ResizeRequest{})
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = ResolveResize(Size{50, 50}, ResizeRequest{Width: -1})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestResolveCrop(t *testing.T) {
	current := Size{100, 80}

	centered := ResolveCrop(current, CropRequest{Width: 40, Height: 40})
	require.Equal(t, Crop{Width: 40, Height: 40, OffsetX: 30, OffsetY: 20}, centered)

	aligned := ResolveCrop(current, CropRequest{Width: 40, Height: 40, OffsetX: At(-1), OffsetY: End()})
	require.Equal(t, Crop{Width: 40, Height: 40, OffsetX: 60, OffsetY: 40}, aligned)

	literal := ResolveCrop(current, CropRequest{Width: 10, OffsetX: At(5), OffsetY: At(0)})
	require.Equal(t, Crop{Width: 10, Height: 80, OffsetX: 5, OffsetY: 0}, literal)
	require.Equal(t, image.Rect(5, 0, 15, 80), literal.Rect())

	whole := ResolveCrop(current, CropRequest{})
	require.Equal(t, Crop{Width: 100, Height: 80}, whole)
}

func TestResolveCropLargerThanImage(t *testing.T) {
	// Offsets go negative rather than being clamped here.
	got := ResolveCrop(Size{10, 10}, CropRequest{Width: 15, Height: 13})
	require.Equal(t, -2, got.OffsetX)
	require.Equal(t, -1, got.OffsetY)
}

func TestResolveRotation(t *testing.T) {
	for in, want := range map[float64]int{
		200:    -160,
		-200:   160,
		180:    180,
		-180:   -180,
		360:    0,
		540:    180,
		-540:   -180,
		90.9:   90,
		-90.9:  -90,
		725:    5,
		0:      0,
		-1081:  -1,
		359.99: -1,
	} {
		require.Equal(t, want, ResolveRotation(in), "degrees=%v", in)
	}
}

func TestResolveRotationIdempotent(t *testing.T) {
	for x := -1500; x <= 1500; x++ {
		once := ResolveRotation(float64(x))
		require.GreaterOrEqual(t, once, -180)
		require.LessOrEqual(t, once, 180)
		require.Equal(t, once, ResolveRotation(float64(once)), "x=%d", x)
	}
}

func TestResolveWatermark(t *testing.T) {
	base, mark := Size{200, 100}, Size{50, 20}

	require.Equal(t, image.Pt(75, 40), ResolveWatermark(base, mark, Center(), Center()))
	require.Equal(t, image.Pt(150, 80), ResolveWatermark(base, mark, End(), End()))
	require.Equal(t, image.Pt(3, 4), ResolveWatermark(base, mark, At(3), At(4)))

	x, y := GravityOffsets("north")
	require.Equal(t, image.Pt(75, 0), ResolveWatermark(base, mark, x, y))
	x, y = GravityOffsets("")
	require.Equal(t, image.Pt(150, 80), ResolveWatermark(base, mark, x, y))
}

func TestClampAmount(t *testing.T) {
	require.Equal(t, 100, ClampAmount(150))
	require.Equal(t, 1, ClampAmount(0))
	require.Equal(t, 1, ClampAmount(-20))
	require.Equal(t, 42, ClampAmount(42))
	require.Equal(t, 80, ClampQuality(0, 80))
	require.Equal(t, 100, ClampQuality(1000, 80))
}

func TestParseMaster(t *testing.T) {
	m, err := ParseMaster("Height")
	require.NoError(t, err)
	require.Equal(t, MasterHeight, m)

	m, err = ParseMaster("")
	require.NoError(t, err)
	require.Equal(t, MasterAuto, m)

	_, err = ParseMaster("diagonal")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestResolveBackground(t *testing.T) {
	bg, err := ResolveBackground("#f80", 150)
	require.NoError(t, err)
	require.Equal(t, Background{R: 0xff, G: 0x88, B: 0x00, Opacity: 100}, bg)

	bg, err = ResolveBackground("102030", -5)
	require.NoError(t, err)
	require.Equal(t, Background{R: 0x10, G: 0x20, B: 0x30, Opacity: 0}, bg)

	_, err = ResolveBackground("#zzzzzz", 50)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("vertical")
	require.NoError(t, err)
	require.Equal(t, FlipVertical, d)

	_, err = ParseDirection("sideways")
	require.ErrorIs(t, err, ErrInvalidArgument)
}
