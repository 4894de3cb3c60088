package processing

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/crop-surface/pkg/geom"
)

// createTestImage creates a gradient test image
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r := uint8((x * 255) / width)
			g := uint8((y * 255) / height)
			img.Set(x, y, color.RGBA{r, g, 128, 255})
		}
	}
	return img
}

func TestGetImageInfo(t *testing.T) {
	p := NewProcessor()
	info := p.GetImageInfo(createTestImage(400, 300))

	assert.Equal(t, 400, info.Width)
	assert.Equal(t, 300, info.Height)
	assert.InDelta(t, 400.0/300.0, info.AspectRatio, 1e-12)
	assert.Equal(t, 120000, info.Area)

	empty := p.GetImageInfo(image.NewRGBA(image.Rect(0, 0, 0, 0)))
	assert.Equal(t, 1.0, empty.AspectRatio)
}

func TestEncodeFormats(t *testing.T) {
	p := NewProcessor()
	img := createTestImage(32, 24)

	for _, format := range []string{"png", "jpg", "jpeg", "webp"} {
		t.Run(format, func(t *testing.T) {
			data, err := p.Encode(img, format, 90, false)
			require.NoError(t, err)
			require.NotEmpty(t, data)

			decoded, err := p.DecodeBytes(data)
			require.NoError(t, err)
			assert.Equal(t, 32, decoded.Bounds().Dx())
			assert.Equal(t, 24, decoded.Bounds().Dy())
		})
	}

	_, err := p.Encode(img, "tiff", 90, false)
	assert.Error(t, err)
}

func TestEncodeArtifact(t *testing.T) {
	p := NewProcessor()
	a, err := p.EncodeArtifact(createTestImage(10, 20), "JPEG", 80, false)
	require.NoError(t, err)

	assert.Equal(t, "jpg", a.Format)
	assert.Equal(t, 10, a.Width)
	assert.Equal(t, 20, a.Height)
	assert.Equal(t, "image/jpeg", a.MimeType())
}

func TestDecodeBytesRejectsGarbage(t *testing.T) {
	_, err := NewProcessor().DecodeBytes([]byte("not an image"))
	assert.Error(t, err)
}

func TestLoadAndSaveImage(t *testing.T) {
	p := NewProcessor()
	dir := t.TempDir()
	img := createTestImage(40, 30)

	for _, format := range []string{"png", "jpg", "webp"} {
		path := filepath.Join(dir, "img."+format)
		require.NoError(t, p.SaveImage(img, path, format, 90, true))

		loaded, err := p.LoadImageSmart(path)
		require.NoError(t, err, format)
		assert.Equal(t, img.Bounds().Size(), loaded.Bounds().Size(), format)
	}
}

func TestLoadImageUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.gif")
	require.NoError(t, os.WriteFile(path, []byte("GIF89a"), 0o644))

	_, err := NewProcessor().LoadImage(path)
	assert.Error(t, err)
}

func TestLoadImageFromURL(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, createTestImage(16, 8)))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/img.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write(buf.Bytes())
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewProcessor()
	img, err := p.LoadImageSmart(srv.URL + "/img.png")
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())

	_, err = p.LoadImageFromURL(srv.URL + "/page")
	assert.Error(t, err)

	_, err = p.LoadImageFromURL(srv.URL + "/missing.png")
	assert.Error(t, err)

	_, err = p.LoadImageFromURL("ftp://example.com/x.png")
	assert.Error(t, err)
}

func TestCreateOverlay(t *testing.T) {
	p := NewProcessor()
	img := image.NewNRGBA(image.Rect(0, 0, 100, 100))

	box := geom.NewBox(geom.V(20, 20), 40, 40)
	overlay := p.CreateOverlay(img, []*geom.Polygon{box})

	// an edge pixel of the box is painted, the centre of the box is not
	_, _, _, a := overlay.At(40, 20).RGBA()
	assert.NotZero(t, a)
	_, _, _, a = overlay.At(40, 40).RGBA()
	assert.Zero(t, a)

	// the source is untouched
	_, _, _, a = img.At(40, 20).RGBA()
	assert.Zero(t, a)
}

func BenchmarkEncodePNG(b *testing.B) {
	p := NewProcessor()
	img := createTestImage(256, 256)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.Encode(img, "png", 0, false)
	}
}
