// Package transform maps points between image pixel space and container
// (screen) space for a given viewport.
//
// The image is first fitted into the container preserving its aspect
// ratio and centred. Zoom scales it about its centre, rotation turns it
// about its centre, and the pan offset moves that centre. All box
// coordinates are container CSS pixels; the device pixel ratio is applied
// only when a raster surface is involved.
package transform

import (
	"math"

	"github.com/menta2k/crop-surface/pkg/geom"
	"github.com/menta2k/crop-surface/pkg/types"
)

// Resolver holds the mapping for one image, container and viewport
type Resolver struct {
	imageW, imageH float64
	container      types.Container
	viewport       types.Viewport

	baseW, baseH float64
	toScreen     Matrix
	toImage      Matrix
}

// NewResolver precomputes the mappings for the given state
func NewResolver(imageW, imageH float64, c types.Container, v types.Viewport) *Resolver {
	r := &Resolver{
		imageW:    imageW,
		imageH:    imageH,
		container: c,
		viewport:  v,
	}
	r.baseW, r.baseH = FitSize(imageW, imageH, c.Width, c.Height)
	r.toScreen = r.buildImageToScreen()
	r.toImage = r.toScreen.Invert()
	return r
}

// AspectRatio returns w/h, or 1 when either dimension is zero or negative
func AspectRatio(w, h float64) float64 {
	if w <= 0 || h <= 0 {
		return 1
	}
	return w / h
}

// FitSize returns the displayed size of an image fitted into a container.
// When the container is wider than the image the height binds, otherwise
// the width does.
func FitSize(imageW, imageH, containerW, containerH float64) (w, h float64) {
	imageAR := AspectRatio(imageW, imageH)
	containerAR := AspectRatio(containerW, containerH)
	if containerAR > imageAR {
		h = math.Max(containerH, 0)
		w = h * imageAR
	} else {
		w = math.Max(containerW, 0)
		h = w / imageAR
	}
	return w, h
}

func (r *Resolver) buildImageToScreen() Matrix {
	zoom := r.viewport.EffectiveZoom()
	center := r.ScreenCenter()

	sx, sy := 1.0, 1.0
	if r.imageW > 0 {
		sx = r.baseW / r.imageW
	}
	if r.imageH > 0 {
		sy = r.baseH / r.imageH
	}

	return Translate(center.X, center.Y).
		Multiply(Rotate(geom.Radians(r.viewport.Rotation))).
		Multiply(Scale(zoom, zoom)).
		Multiply(Translate(-r.baseW/2, -r.baseH/2)).
		Multiply(Scale(sx, sy))
}

// BaseSize returns the fitted image size before zoom
func (r *Resolver) BaseSize() (w, h float64) {
	return r.baseW, r.baseH
}

// CenterOffset returns the translation that centres the fitted image in
// the container before rotation and pan are applied.
func (r *Resolver) CenterOffset() geom.Vector {
	return geom.V((r.container.Width-r.baseW)/2, (r.container.Height-r.baseH)/2)
}

// ScreenCenter returns the image centre in container space, pan included
func (r *Resolver) ScreenCenter() geom.Vector {
	return geom.V(r.container.Width/2, r.container.Height/2).Add(r.viewport.Pan)
}

// ImageToScreen returns the mapping from image pixels to container space
func (r *Resolver) ImageToScreen() Matrix {
	return r.toScreen
}

// ScreenToImage returns the mapping from container space to image pixels
func (r *Resolver) ScreenToImage() Matrix {
	return r.toImage
}

// ScreenToImagePoint maps a container point to image pixel coordinates
func (r *Resolver) ScreenToImagePoint(p geom.Vector) geom.Vector {
	return r.toImage.Apply(p)
}

// ImageToScreenPoint maps an image pixel coordinate to container space
func (r *Resolver) ImageToScreenPoint(p geom.Vector) geom.Vector {
	return r.toScreen.Apply(p)
}

// Container returns the container the resolver was built for
func (r *Resolver) Container() types.Container {
	return r.container
}

// Viewport returns the viewport the resolver was built for
func (r *Resolver) Viewport() types.Viewport {
	return r.viewport
}

// ImageSize returns the natural image size
func (r *Resolver) ImageSize() (w, h float64) {
	return r.imageW, r.imageH
}

// SurfaceParams describes how to paint the image onto a device-pixel
// surface: translate to the pivot, rotate, translate back, then draw the
// whole source at the draw offset scaled to SourceWidth x SourceHeight.
type SurfaceParams struct {
	CanvasWidth     int
	CanvasHeight    int
	TranslateX      float64
	TranslateY      float64
	RotationDegrees float64
	DrawOffsetX     float64
	DrawOffsetY     float64
	SourceWidth     float64
	SourceHeight    float64
}

// SurfaceParams returns the paint parameters equivalent to ImageToScreen
// scaled by the container's pixel ratio.
func (r *Resolver) SurfaceParams() SurfaceParams {
	dpr := r.container.Ratio()
	zoom := r.viewport.EffectiveZoom()
	center := r.ScreenCenter()
	w, h := SurfaceSize(r.container)
	return SurfaceParams{
		CanvasWidth:     w,
		CanvasHeight:    h,
		TranslateX:      center.X * dpr,
		TranslateY:      center.Y * dpr,
		RotationDegrees: r.viewport.Rotation,
		DrawOffsetX:     (center.X - zoom*r.baseW/2) * dpr,
		DrawOffsetY:     (center.Y - zoom*r.baseH/2) * dpr,
		SourceWidth:     zoom * r.baseW * dpr,
		SourceHeight:    zoom * r.baseH * dpr,
	}
}

// Matrix returns the source-pixel to surface mapping described by p for a
// source of the given natural size.
func (p SurfaceParams) Matrix(srcW, srcH float64) Matrix {
	sx, sy := 1.0, 1.0
	if srcW > 0 {
		sx = p.SourceWidth / srcW
	}
	if srcH > 0 {
		sy = p.SourceHeight / srcH
	}
	return RotateAbout(geom.Radians(p.RotationDegrees), geom.V(p.TranslateX, p.TranslateY)).
		Multiply(Translate(p.DrawOffsetX, p.DrawOffsetY)).
		Multiply(Scale(sx, sy))
}

// SurfaceSize returns the device-pixel size of a surface covering the container
func SurfaceSize(c types.Container) (w, h int) {
	dpr := c.Ratio()
	return devicePixels(c.Width, dpr), devicePixels(c.Height, dpr)
}

func devicePixels(v, dpr float64) int {
	if v <= 0 {
		return 0
	}
	return int(math.Ceil(v*dpr - 1e-9))
}
