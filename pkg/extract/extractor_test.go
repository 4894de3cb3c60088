package extract

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xdraw "golang.org/x/image/draw"

	"github.com/menta2k/crop-surface/pkg/geom"
	"github.com/menta2k/crop-surface/pkg/types"
)

var (
	red  = color.NRGBA{255, 0, 0, 255}
	blue = color.NRGBA{0, 0, 255, 255}
)

// createSplitImage creates an image that is red left of splitX and blue from it on
func createSplitImage(width, height, splitX int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x < splitX {
				img.SetNRGBA(x, y, red)
			} else {
				img.SetNRGBA(x, y, blue)
			}
		}
	}
	return img
}

func nearest() *Extractor {
	cfg := DefaultConfig()
	cfg.Interpolation = "nearest"
	return NewWithConfig(cfg)
}

func assertColor(t *testing.T, want color.NRGBA, img image.Image, x, y int) {
	t.Helper()
	got := color.NRGBAModel.Convert(img.At(img.Bounds().Min.X+x, img.Bounds().Min.Y+y)).(color.NRGBA)
	assert.Equal(t, want, got, "pixel (%d,%d)", x, y)
}

func TestExtractSingleBoxScenario(t *testing.T) {
	img := createSplitImage(1000, 800, 500)
	c := types.Container{Width: 500, Height: 400}
	boxes := []types.CropBox{{ID: "a", X: 100, Y: 100, Width: 50, Height: 50}}

	result := New().Extract(img, boxes, c, types.DefaultViewport())

	require.Len(t, result, 1)
	a, ok := result["a"]
	require.True(t, ok)
	assert.NotEmpty(t, a.Data)
	assert.Equal(t, 50, a.Width)
	assert.Equal(t, 50, a.Height)

	decoded, err := png.Decode(bytes.NewReader(a.Data))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(50, 50), decoded.Bounds().Size())
}

func TestExtractSkipsZeroAreaBoxes(t *testing.T) {
	img := createSplitImage(1000, 800, 500)
	c := types.Container{Width: 500, Height: 400}
	boxes := []types.CropBox{
		{ID: "no-width", X: 10, Y: 10, Width: 0, Height: 40},
		{ID: "no-height", X: 10, Y: 10, Width: 40, Height: 0},
		{ID: "ok", X: 10, Y: 10, Width: 40, Height: 40},
	}

	result := New().Extract(img, boxes, c, types.DefaultViewport())

	assert.Equal(t, []string{"ok"}, result.IDs())
}

func TestExtractPixelContent(t *testing.T) {
	img := createSplitImage(1000, 800, 500)
	c := types.Container{Width: 500, Height: 400}
	boxes := []types.CropBox{
		{ID: "left", X: 10, Y: 10, Width: 50, Height: 50},
		{ID: "right", X: 400, Y: 10, Width: 50, Height: 50},
	}

	images := nearest().ExtractImages(img, boxes, c, types.DefaultViewport())
	require.Len(t, images, 2)

	assertColor(t, red, images["left"], 25, 25)
	assertColor(t, blue, images["right"], 25, 25)
}

func TestExtractUndoesViewportRotation(t *testing.T) {
	img := createSplitImage(1000, 800, 500)
	c := types.Container{Width: 500, Height: 400}
	box := types.CropBox{ID: "a", X: 10, Y: 10, Width: 50, Height: 50}

	// a half turn brings the right half of the image to the left of the screen
	v := types.Viewport{Rotation: 180, Zoom: 1}
	images := nearest().ExtractImages(img, []types.CropBox{box}, c, v)

	require.Contains(t, images, "a")
	assertColor(t, blue, images["a"], 25, 25)
}

func TestExtractUndoesBoxRotation(t *testing.T) {
	img := createSplitImage(200, 200, 100)
	c := types.Container{Width: 200, Height: 200}

	// a tall box turned a quarter clockwise lies horizontally across the split
	box := types.CropBox{ID: "a", X: 90, Y: 50, Width: 20, Height: 100, Rotation: 90}
	images := nearest().ExtractImages(img, []types.CropBox{box}, c, types.DefaultViewport())

	require.Contains(t, images, "a")
	out := images["a"]
	assert.Equal(t, image.Pt(20, 100), out.Bounds().Size())

	// the top of the crop is the right end of the rotated box
	assertColor(t, blue, out, 10, 2)
	assertColor(t, red, out, 10, 97)
}

func TestExtractPanAndZoom(t *testing.T) {
	img := createSplitImage(1000, 800, 500)
	c := types.Container{Width: 500, Height: 400}

	// zoomed 2x and panned left by 200: screen x=250 shows image x=700
	v := types.Viewport{Zoom: 2, Pan: geom.V(-200, 0)}
	box := types.CropBox{ID: "a", X: 240, Y: 190, Width: 20, Height: 20}
	images := nearest().ExtractImages(img, []types.CropBox{box}, c, v)

	require.Contains(t, images, "a")
	assertColor(t, blue, images["a"], 10, 10)
}

func TestExtractDevicePixelRatio(t *testing.T) {
	img := createSplitImage(1000, 800, 500)
	c := types.Container{Width: 500, Height: 400, PixelRatio: 2}
	boxes := []types.CropBox{{ID: "a", X: 100, Y: 100, Width: 50, Height: 50}}

	result := New().Extract(img, boxes, c, types.DefaultViewport())

	require.Contains(t, result, "a")
	assert.Equal(t, 100, result["a"].Width)
	assert.Equal(t, 100, result["a"].Height)
}

func TestExtractSkipsWhenNoSurface(t *testing.T) {
	img := createSplitImage(100, 100, 50)
	boxes := []types.CropBox{{ID: "a", X: 0, Y: 0, Width: 10, Height: 10}}

	result := New().Extract(img, boxes, types.Container{}, types.DefaultViewport())
	assert.Empty(t, result)

	cfg := DefaultConfig()
	cfg.MaxSurfacePixels = 10
	result = NewWithConfig(cfg).Extract(img, boxes, types.Container{Width: 100, Height: 100}, types.DefaultViewport())
	assert.Empty(t, result)
}

func TestExtractSkipsWhenEncodingFails(t *testing.T) {
	img := createSplitImage(100, 100, 50)
	boxes := []types.CropBox{{ID: "a", X: 0, Y: 0, Width: 10, Height: 10}}

	cfg := DefaultConfig()
	cfg.Format = "tiff"
	result := NewWithConfig(cfg).Extract(img, boxes, types.Container{Width: 100, Height: 100}, types.DefaultViewport())
	assert.Empty(t, result)
}

func TestExtractBoxOutsideContainer(t *testing.T) {
	img := createSplitImage(100, 100, 50)
	boxes := []types.CropBox{{ID: "a", X: 500, Y: 500, Width: 10, Height: 10}}

	images := New().ExtractImages(img, boxes, types.Container{Width: 100, Height: 100}, types.DefaultViewport())

	require.Contains(t, images, "a")
	_, _, _, alpha := images["a"].At(5, 5).RGBA()
	assert.Zero(t, alpha, "area outside the surface reads back transparent")
}

func TestExtractNormalizesNegativeSize(t *testing.T) {
	img := createSplitImage(1000, 800, 500)
	c := types.Container{Width: 500, Height: 400}
	boxes := []types.CropBox{{ID: "a", X: 150, Y: 150, Width: -50, Height: -50}}

	result := New().Extract(img, boxes, c, types.DefaultViewport())
	require.Contains(t, result, "a")
	assert.Equal(t, 50, result["a"].Width)
}

func TestExtractDoesNotMutateInput(t *testing.T) {
	img := createSplitImage(100, 100, 50)
	before := append([]byte(nil), img.Pix...)
	boxes := []types.CropBox{{ID: "a", X: 20, Y: 20, Width: -10, Height: 10, Rotation: 30}}
	orig := boxes[0]

	New().Extract(img, boxes, types.Container{Width: 100, Height: 100}, types.Viewport{Rotation: 45, Zoom: 1.5})

	assert.Equal(t, orig, boxes[0])
	assert.Equal(t, before, img.Pix)
}

func TestExtractOutputSize(t *testing.T) {
	img := createSplitImage(1000, 800, 500)
	cfg := DefaultConfig()
	cfg.OutputWidth, cfg.OutputHeight = 64, 32
	boxes := []types.CropBox{{ID: "a", X: 100, Y: 100, Width: 50, Height: 50}}

	result := NewWithConfig(cfg).Extract(img, boxes, types.Container{Width: 500, Height: 400}, types.DefaultViewport())
	require.Contains(t, result, "a")
	assert.Equal(t, 64, result["a"].Width)
	assert.Equal(t, 32, result["a"].Height)
}

func TestExtractFromSurface(t *testing.T) {
	surface := createSplitImage(400, 200, 200)
	boxes := []types.CropBox{
		{ID: "left", X: 10, Y: 10, Width: 20, Height: 20},
		{ID: "right", X: 110, Y: 10, Width: 20, Height: 20},
		{ID: "empty", X: 110, Y: 10, Width: 0, Height: 20},
	}

	// pixel ratio 2: the surface covers a 200x100 container
	result := nearest().ExtractFromSurface(surface, boxes, 2)
	require.Len(t, result, 2)

	left, err := png.Decode(bytes.NewReader(result["left"].Data))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(40, 40), left.Bounds().Size())
	assertColor(t, red, left, 20, 20)

	right, err := png.Decode(bytes.NewReader(result["right"].Data))
	require.NoError(t, err)
	assertColor(t, blue, right, 20, 20)
}

func TestReadbackRect(t *testing.T) {
	r := ReadbackRect(types.CropBox{X: 10.6, Y: 3.2, Width: 20.4, Height: 5}, 1.5)
	assert.Equal(t, image.Rect(15, 4, 15+31, 4+8), r)
}

func BenchmarkExtract(b *testing.B) {
	img := createSplitImage(1920, 1080, 960)
	c := types.Container{Width: 960, Height: 540}
	boxes := []types.CropBox{
		{ID: "a", X: 100, Y: 100, Width: 200, Height: 150, Rotation: 15},
		{ID: "b", X: 500, Y: 200, Width: 120, Height: 120},
	}
	e := New()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.Extract(img, boxes, c, types.Viewport{Rotation: 10, Zoom: 1.2})
	}
}

func TestInterpolatorFollowsConfig(t *testing.T) {
	tests := []struct {
		name string
		want xdraw.Interpolator
	}{
		{"nearest", xdraw.NearestNeighbor},
		{"approx-bilinear", xdraw.ApproxBiLinear},
		{"bilinear", xdraw.BiLinear},
		{"CatmullRom", xdraw.CatmullRom},
		{"", xdraw.BiLinear},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Interpolation = tt.name
			assert.Equal(t, tt.want, NewWithConfig(cfg).Interpolator())
		})
	}
}
