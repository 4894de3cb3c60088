package cropsurface

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/crop-surface/pkg/extract"
	"github.com/menta2k/crop-surface/pkg/geom"
	"github.com/menta2k/crop-surface/pkg/sat"
	"github.com/menta2k/crop-surface/pkg/session"
	"github.com/menta2k/crop-surface/pkg/types"
	"github.com/menta2k/crop-surface/pkg/vision"
	"github.com/menta2k/crop-surface/pkg/worker"
)

var (
	red  = color.NRGBA{255, 0, 0, 255}
	blue = color.NRGBA{0, 0, 255, 255}
)

// createTestImage creates an image that is red on the left half and blue on the right
func createTestImage(width, height int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x < width/2 {
				img.SetNRGBA(x, y, red)
			} else {
				img.SetNRGBA(x, y, blue)
			}
		}
	}
	return img
}

func centerColor(t *testing.T, a types.Artifact) color.NRGBA {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(a.Data))
	require.NoError(t, err)
	b := img.Bounds()
	return color.NRGBAModel.Convert(img.At(b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2)).(color.NRGBA)
}

func TestNew(t *testing.T) {
	cs := New()
	defer cs.Close()

	require.NotNil(t, cs.processor)
	require.NotNil(t, cs.extractor)
	assert.Equal(t, "1.0.0", GetVersion())
}

func TestCloseWithoutBridge(t *testing.T) {
	cs := New()
	cs.Close()
	assert.Nil(t, cs.bridge)
}

func TestExtract(t *testing.T) {
	cs := New()
	img := createTestImage(1000, 800)
	c := types.Container{Width: 500, Height: 400}
	boxes := []types.CropBox{
		{ID: "left", X: 50, Y: 50, Width: 60, Height: 40},
		{ID: "right", X: 350, Y: 50, Width: 60, Height: 40},
		{ID: "empty", X: 10, Y: 10},
	}

	artifacts := cs.Extract(img, boxes, c, types.DefaultViewport())
	assert.Equal(t, []string{"left", "right"}, artifacts.IDs())
	assert.Equal(t, red, centerColor(t, artifacts["left"]))
	assert.Equal(t, blue, centerColor(t, artifacts["right"]))
}

func TestExtractAsyncMatchesExtract(t *testing.T) {
	cs := New()
	defer cs.Close()
	img := createTestImage(1000, 800)
	c := types.Container{Width: 500, Height: 400, PixelRatio: 2}
	boxes := []types.CropBox{
		{ID: "left", X: 50, Y: 50, Width: 60, Height: 40},
		{ID: "right", X: 350, Y: 50, Width: 60, Height: 40, Rotation: 20},
	}
	v := types.Viewport{Rotation: 180, Zoom: 1}

	sync := cs.Extract(img, boxes, c, v)
	reply, err := cs.ExtractAsync(context.Background(), img, boxes, c, v)
	require.NoError(t, err)

	require.Equal(t, sync.IDs(), reply.ImageMap.IDs())
	for _, id := range sync.IDs() {
		assert.Equal(t, sync[id].Width, reply.ImageMap[id].Width, id)
		assert.Equal(t, sync[id].Height, reply.ImageMap[id].Height, id)
		assert.Equal(t, centerColor(t, sync[id]), centerColor(t, reply.ImageMap[id]), id)
	}
	// the half turn puts the blue half under the left box
	assert.Equal(t, blue, centerColor(t, reply.ImageMap["left"]))
}

func TestSessionToExtraction(t *testing.T) {
	cs := NewWithConfig(extract.DefaultConfig(), worker.DefaultConfig(), session.DefaultConfig())
	img := createTestImage(1000, 800)
	c := types.Container{Width: 500, Height: 400}

	s := cs.NewSession(img, c)
	s.PointerDown(geom.V(300, 100))
	s.PointerMove(geom.V(360, 160))
	s.PointerUp()
	s.PointerDown(geom.V(10, 10))
	s.PointerMove(geom.V(60, 60))

	// the second box is still being drawn, so only the first is extracted
	artifacts := cs.Extract(img, s.Committed(), s.Container(), s.Viewport())
	require.Len(t, artifacts, 1)
	for _, a := range artifacts {
		assert.Equal(t, 60, a.Width)
		assert.Equal(t, blue, centerColor(t, a))
	}
}

func TestSaveArtifactsAndManifest(t *testing.T) {
	cs := New()
	dir := t.TempDir()
	artifacts := cs.Extract(createTestImage(200, 100), []types.CropBox{
		{ID: "b", X: 10, Y: 10, Width: 20, Height: 20},
		{ID: "a", X: 50, Y: 10, Width: 20, Height: 20},
	}, types.Container{Width: 200, Height: 100}, types.DefaultViewport())

	paths, err := cs.SaveArtifacts(artifacts, filepath.Join(dir, "crops"), "crop_", "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "crops", "crop_a.png"),
		filepath.Join(dir, "crops", "crop_b.png"),
	}, paths)
	for _, p := range paths {
		_, err := os.Stat(p)
		assert.NoError(t, err)
	}

	manifest := filepath.Join(dir, "artifacts.json")
	require.NoError(t, cs.WriteManifest(artifacts, manifest))
	data, err := os.ReadFile(manifest)
	require.NoError(t, err)

	var back types.ArtifactMap
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back["a"].Equal(artifacts["a"]))
}

type stubClient struct{}

func (stubClient) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	return "", nil
}

func (stubClient) DescribeImage(ctx context.Context, model, prompt, imgB64 string) (*types.Label, error) {
	return &types.Label{Label: "Swatch", Confidence: 0.6, Tags: []string{"Red", "red"}}, nil
}

func TestLabel(t *testing.T) {
	cs := New()
	artifacts := cs.Extract(createTestImage(200, 100), []types.CropBox{
		{ID: "a", X: 10, Y: 10, Width: 20, Height: 20},
	}, types.Container{Width: 200, Height: 100}, types.DefaultViewport())

	labels, err := cs.Label(context.Background(), stubClient{}, "llava", artifacts)
	require.NoError(t, err)
	require.Contains(t, labels, "a")
	assert.Equal(t, "Swatch", labels["a"].Label)
	assert.Equal(t, []string{"red"}, labels["a"].Tags)
}

func TestSaveImage(t *testing.T) {
	cs := New()
	path := filepath.Join(t.TempDir(), "overlay.png")
	require.NoError(t, cs.SaveImage(createTestImage(10, 10), path))

	img, err := cs.LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, 10, img.Bounds().Dx())
}

func TestOverlay(t *testing.T) {
	cs := New()
	img := image.NewNRGBA(image.Rect(0, 0, 200, 100))
	c := types.Container{Width: 200, Height: 100}

	// identity fit: screen and image pixels coincide
	out := cs.Overlay(img, []types.CropBox{{ID: "a", X: 20, Y: 20, Width: 40, Height: 40}}, c, types.DefaultViewport())
	_, _, _, a := out.At(40, 20).RGBA()
	assert.NotZero(t, a)
	_, _, _, a = out.At(40, 40).RGBA()
	assert.Zero(t, a)
}

// createSubjectImage creates a black image with a white square at r
func createSubjectImage(width, height int, r image.Rectangle) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := color.NRGBA{0, 0, 0, 255}
			if (image.Point{x, y}).In(r) {
				c = color.NRGBA{255, 255, 255, 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestSuggest(t *testing.T) {
	cs := New()
	img := createSubjectImage(200, 100, image.Rect(150, 30, 190, 70))
	c := types.Container{Width: 400, Height: 200}

	boxes := cs.Suggest(img, c, types.Viewport{}, 2)
	require.NotEmpty(t, boxes)
	assert.LessOrEqual(t, len(boxes), 2)

	// the image is shown at twice its size, so the square sits at (300, 60)-(380, 140)
	square := geom.NewBox(geom.V(300, 60), 80, 80)
	first := boxes[0]
	assert.True(t, first.Committed)
	assert.NotEmpty(t, first.ID)
	assert.True(t, sat.TestPolygonPolygon(first.Polygon(), square, nil))

	rotated := cs.Suggest(img, c, types.Viewport{Rotation: 90}, 1)
	require.Len(t, rotated, 1)
	assert.Equal(t, 90.0, rotated[0].Rotation)
}

func TestSuggestAspect(t *testing.T) {
	cs := New()
	img := createSubjectImage(200, 100, image.Rect(150, 30, 190, 70))
	c := types.Container{Width: 400, Height: 200}

	box := cs.SuggestAspect(img, c, types.Viewport{}, vision.Square)
	assert.InDelta(t, 200.0, box.Width, 1e-9)
	assert.InDelta(t, 200.0, box.Height, 1e-9)
	assert.InDelta(t, 0.0, box.Y, 1e-9)
	assert.LessOrEqual(t, box.X, 300.0)
	assert.GreaterOrEqual(t, box.X+box.Width, 380.0)

	artifacts := cs.Extract(img, []types.CropBox{box}, c, types.Viewport{})
	require.Contains(t, artifacts, box.ID)
	assert.Equal(t, 200, artifacts[box.ID].Width)
}
