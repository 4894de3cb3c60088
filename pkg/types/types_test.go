package types

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/crop-surface/pkg/geom"
)

func TestNewCropBox(t *testing.T) {
	a := NewCropBox(10, 20, 15)
	b := NewCropBox(10, 20, 15)

	assert.NotEqual(t, a.ID, b.ID)
	_, err := uuid.Parse(a.ID)
	assert.NoError(t, err)
	assert.True(t, a.IsEmpty())
	assert.Equal(t, 15.0, a.Rotation)
}

func TestCropBoxNormalized(t *testing.T) {
	b := CropBox{X: 50, Y: 40, Width: -30, Height: -20}
	n := b.Normalized()

	assert.Equal(t, CropBox{X: 20, Y: 20, Width: 30, Height: 20}, n)
	assert.Equal(t, b.Center(), n.Center())
}

func TestCropBoxPolygon(t *testing.T) {
	b := CropBox{X: 10, Y: 10, Width: 20, Height: 10}
	min, max := b.Polygon().Bounds()
	assert.True(t, min.Approx(geom.V(10, 10), 1e-9), "min %v", min)
	assert.True(t, max.Approx(geom.V(30, 20), 1e-9), "max %v", max)

	// a quarter turn swaps the extents about the centre (20, 15)
	b.Rotation = 90
	min, max = b.Polygon().Bounds()
	assert.True(t, min.Approx(geom.V(15, 5), 1e-9), "min %v", min)
	assert.True(t, max.Approx(geom.V(25, 25), 1e-9), "max %v", max)
}

func TestEffectiveZoom(t *testing.T) {
	assert.Equal(t, 2.0, Viewport{Zoom: 2}.EffectiveZoom())
	for _, z := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		assert.Equal(t, 1.0, Viewport{Zoom: z}.EffectiveZoom(), "zoom %v", z)
	}
}

func TestContainerRatio(t *testing.T) {
	assert.Equal(t, 1.0, Container{}.Ratio())
	assert.Equal(t, 2.0, Container{PixelRatio: 2}.Ratio())
}

func TestParseCursorMode(t *testing.T) {
	for _, m := range []CursorMode{ModeDraw, ModePan, ModeSelect} {
		parsed, err := ParseCursorMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}
	m, err := ParseCursorMode(" Pan ")
	require.NoError(t, err)
	assert.Equal(t, ModePan, m)

	_, err = ParseCursorMode("zoom")
	assert.Error(t, err)
}

func TestArtifactJSON(t *testing.T) {
	m := ArtifactMap{
		"a": {Format: "jpg", Width: 2, Height: 3, Data: []byte{1, 2, 3}},
		"b": {Format: "png", Data: []byte("png")},
	}
	data, err := json.Marshal(m)
	require.NoError(t, err)

	var raw map[string]string
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "data:image/jpeg;base64,AQID", raw["a"])

	var back ArtifactMap
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back["a"].Equal(m["a"]))
	assert.True(t, back["b"].Equal(m["b"]))
	assert.Zero(t, back["a"].Width)
}

func TestArtifactUnmarshalErrors(t *testing.T) {
	var a Artifact
	assert.Error(t, json.Unmarshal([]byte(`"http://example.com/a.png"`), &a))
	assert.Error(t, json.Unmarshal([]byte(`"data:image/png,abc"`), &a))
	assert.Error(t, json.Unmarshal([]byte(`"data:image/png;base64,***"`), &a))
	assert.Error(t, json.Unmarshal([]byte(`42`), &a))
}

func TestArtifactMapMergeAndPrune(t *testing.T) {
	old := ArtifactMap{"a": {Data: []byte("old-a")}, "b": {Data: []byte("old-b")}}
	fresh := ArtifactMap{"a": {Data: []byte("new-a")}, "c": {Data: []byte("new-c")}}

	merged := old.Merge(fresh)
	assert.Equal(t, []string{"a", "b", "c"}, merged.IDs())
	assert.Equal(t, []byte("new-a"), merged["a"].Data)
	assert.Equal(t, []byte("old-b"), merged["b"].Data)

	merged.Prune([]string{"a", "c"})
	assert.Equal(t, []string{"a", "c"}, merged.IDs())

	var empty ArtifactMap
	assert.Len(t, empty.Merge(fresh), 2)
}
