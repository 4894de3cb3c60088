package extract

import (
	"image"
	"image/draw"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"

	"github.com/menta2k/crop-surface/pkg/geom"
	"github.com/menta2k/crop-surface/pkg/processing"
	"github.com/menta2k/crop-surface/pkg/transform"
	"github.com/menta2k/crop-surface/pkg/types"
)

// DefaultMaxSurfacePixels bounds the scratch surface (16384 x 16384)
const DefaultMaxSurfacePixels = 16384 * 16384

// Extractor cuts crop boxes out of an image as de-rotated artifacts
type Extractor struct {
	config    Config
	processor *processing.Processor
}

// Config holds configuration for extraction
type Config struct {
	// Format of the encoded artifacts: png, jpg or webp
	Format   string
	Quality  int
	Lossless bool
	// Interpolation is nearest, bilinear, approx-bilinear or catmullrom
	Interpolation string
	// MaxSurfacePixels is the largest scratch surface that may be
	// allocated. Boxes on a larger container are skipped.
	MaxSurfacePixels int
	// OutputWidth and OutputHeight, when both positive, resize every
	// artifact to exactly that size (centre crop to fill).
	OutputWidth  int
	OutputHeight int
}

// DefaultConfig returns the default extraction configuration
func DefaultConfig() Config {
	return Config{
		Format:           "png",
		Quality:          92,
		Interpolation:    "bilinear",
		MaxSurfacePixels: DefaultMaxSurfacePixels,
	}
}

// New creates a new Extractor with default configuration
func New() *Extractor {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a new Extractor with custom configuration
func NewWithConfig(config Config) *Extractor {
	if config.MaxSurfacePixels <= 0 {
		config.MaxSurfacePixels = DefaultMaxSurfacePixels
	}
	if config.Format == "" {
		config.Format = "png"
	}
	return &Extractor{
		config:    config,
		processor: processing.NewProcessor(),
	}
}

// SetProcessor allows setting a custom processor for encoding
func (e *Extractor) SetProcessor(p *processing.Processor) {
	e.processor = p
}

// Config returns the extractor configuration
func (e *Extractor) Config() Config {
	return e.config
}

// Extract renders and encodes every box of the batch. Boxes with no area,
// or for which no surface can be allocated or encoding fails, get no entry.
func (e *Extractor) Extract(src image.Image, boxes []types.CropBox, c types.Container, v types.Viewport) types.ArtifactMap {
	return e.encodeAll(e.ExtractImages(src, boxes, c, v))
}

// ExtractImages is Extract without the encoding step
func (e *Extractor) ExtractImages(src image.Image, boxes []types.CropBox, c types.Container, v types.Viewport) map[string]image.Image {
	toScreen := SourceToScreen(src, c, v)
	out := make(map[string]image.Image, len(boxes))
	for _, box := range boxes {
		if img, ok := e.RenderBox(src, toScreen, box, c); ok {
			out[box.ID] = img
		}
	}
	return out
}

// ExtractFromSurface runs the same readback against a surface that already
// holds the composed container view in device pixels.
func (e *Extractor) ExtractFromSurface(surface image.Image, boxes []types.CropBox, pixelRatio float64) types.ArtifactMap {
	c := SurfaceContainer(surface, pixelRatio)
	toScreen := SurfaceToScreen(surface, c.Ratio())
	out := make(map[string]image.Image, len(boxes))
	for _, box := range boxes {
		if img, ok := e.RenderBox(surface, toScreen, box, c); ok {
			out[box.ID] = img
		}
	}
	return e.encodeAll(out)
}

// SourceToScreen maps pixels of src to container space for the viewport
func SourceToScreen(src image.Image, c types.Container, v types.Viewport) transform.Matrix {
	b := src.Bounds()
	r := transform.NewResolver(float64(b.Dx()), float64(b.Dy()), c, v)
	return r.ImageToScreen().Multiply(transform.Translate(float64(-b.Min.X), float64(-b.Min.Y)))
}

// SurfaceToScreen maps device pixels of a composed surface to container space
func SurfaceToScreen(surface image.Image, pixelRatio float64) transform.Matrix {
	b := surface.Bounds()
	return transform.Scale(1/pixelRatio, 1/pixelRatio).
		Multiply(transform.Translate(float64(-b.Min.X), float64(-b.Min.Y)))
}

// SurfaceContainer returns the container a device-pixel surface covers
func SurfaceContainer(surface image.Image, pixelRatio float64) types.Container {
	c := types.Container{PixelRatio: pixelRatio}
	dpr := c.Ratio()
	b := surface.Bounds()
	c.Width = float64(b.Dx()) / dpr
	c.Height = float64(b.Dy()) / dpr
	return c
}

// ReadbackRect returns the device-pixel rectangle read back for box
func ReadbackRect(box types.CropBox, pixelRatio float64) image.Rectangle {
	n := box.Normalized()
	x0 := int(math.Floor(n.X * pixelRatio))
	y0 := int(math.Floor(n.Y * pixelRatio))
	w := int(math.Round(n.Width * pixelRatio))
	h := int(math.Round(n.Height * pixelRatio))
	return image.Rect(x0, y0, x0+w, y0+h)
}

// RenderBox composes src onto a scratch surface with the box's rotation
// undone about its centre and reads back the box rectangle. toScreen maps
// src pixels to container space. The second result is false when the box
// is skipped.
func (e *Extractor) RenderBox(src image.Image, toScreen transform.Matrix, box types.CropBox, c types.Container) (image.Image, bool) {
	box = box.Normalized()
	if box.IsEmpty() {
		return nil, false
	}

	dpr := c.Ratio()
	surfaceW, surfaceH := transform.SurfaceSize(c)
	if !e.surfaceAvailable(surfaceW, surfaceH) {
		return nil, false
	}

	rect := ReadbackRect(box, dpr)
	if rect.Empty() {
		return nil, false
	}

	s2d := transform.Scale(dpr, dpr).
		Multiply(transform.RotateAbout(-geom.Radians(box.Rotation), box.Center())).
		Multiply(toScreen)

	// only the part of the surface under the box is ever read back, so the
	// scratch window is allocated at the readback rectangle
	scratch := image.NewNRGBA(rect)
	visible := rect.Intersect(image.Rect(0, 0, surfaceW, surfaceH))
	if !visible.Empty() {
		target := scratch.SubImage(visible).(draw.Image)
		e.Interpolator().Transform(target, s2d.Aff3(), src, src.Bounds(), xdraw.Src, nil)
	}

	out := imaging.Crop(scratch, rect)
	if e.config.OutputWidth > 0 && e.config.OutputHeight > 0 {
		out = imaging.Fill(out, e.config.OutputWidth, e.config.OutputHeight, imaging.Center, imaging.Lanczos)
	}
	return out, true
}

// Encode encodes a rendered box with the configured format
func (e *Extractor) Encode(img image.Image) (types.Artifact, error) {
	return e.processor.EncodeArtifact(img, e.config.Format, e.config.Quality, e.config.Lossless)
}

func (e *Extractor) encodeAll(images map[string]image.Image) types.ArtifactMap {
	out := make(types.ArtifactMap, len(images))
	for id, img := range images {
		a, err := e.Encode(img)
		if err != nil {
			continue
		}
		out[id] = a
	}
	return out
}

func (e *Extractor) surfaceAvailable(w, h int) bool {
	if w <= 0 || h <= 0 {
		return false
	}
	return int64(w)*int64(h) <= int64(e.config.MaxSurfacePixels)
}

// Interpolator returns the resampling kernel named by the configuration
func (e *Extractor) Interpolator() xdraw.Interpolator {
	switch strings.ToLower(e.config.Interpolation) {
	case "nearest":
		return xdraw.NearestNeighbor
	case "approx-bilinear":
		return xdraw.ApproxBiLinear
	case "catmullrom":
		return xdraw.CatmullRom
	default:
		return xdraw.BiLinear
	}
}
