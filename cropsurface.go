// Package cropsurface extracts user-drawn crop regions from a displayed
// image as stand-alone pictures.
//
// The displayed image is fitted into a container, then rotated, zoomed and
// panned by a viewport. Crop boxes are drawn in container space and may be
// rotated themselves. Extraction maps every box back through the viewport,
// undoes the box rotation and reads the region back at device resolution.
//
// Basic usage:
//
//	package main
//
//	import (
//		"log"
//
//		cropsurface "github.com/menta2k/crop-surface"
//		"github.com/menta2k/crop-surface/pkg/types"
//	)
//
//	func main() {
//		cs := cropsurface.New()
//		defer cs.Close()
//
//		img, err := cs.LoadImage("photo.jpg")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		c := types.Container{Width: 800, Height: 600, PixelRatio: 2}
//		boxes := []types.CropBox{{ID: "face", X: 320, Y: 140, Width: 160, Height: 200, Rotation: 12}}
//
//		artifacts := cs.Extract(img, boxes, c, types.Viewport{Rotation: 90, Zoom: 1.5})
//		if _, err := cs.SaveArtifacts(artifacts, "out", "", ""); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// The package wires together:
//
//  1. Geometry (pkg/geom, pkg/sat): vectors, polygons and SAT hit-testing
//  2. Transforms (pkg/transform): the image/container mapping for a viewport
//  3. Extraction (pkg/extract): per-box de-rotated readback and encoding
//  4. Worker (pkg/worker): the same readback on a background goroutine
//  5. Session (pkg/session): pointer-driven drawing, dragging and panning
//  6. Labeling (pkg/labeling): optional vision-model labels for artifacts
//  7. Suggestions (pkg/vision): salient regions proposed as starting boxes
package cropsurface

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	"github.com/menta2k/crop-surface/internal/utils"
	"github.com/menta2k/crop-surface/pkg/client"
	"github.com/menta2k/crop-surface/pkg/extract"
	"github.com/menta2k/crop-surface/pkg/geom"
	"github.com/menta2k/crop-surface/pkg/labeling"
	"github.com/menta2k/crop-surface/pkg/processing"
	"github.com/menta2k/crop-surface/pkg/session"
	"github.com/menta2k/crop-surface/pkg/transform"
	"github.com/menta2k/crop-surface/pkg/types"
	"github.com/menta2k/crop-surface/pkg/vision"
	"github.com/menta2k/crop-surface/pkg/worker"
)

// Version of the crop-surface library
const Version = "1.0.0"

// CropSurface provides a high-level interface for crop extraction
type CropSurface struct {
	processor     *processing.Processor
	extractor     *extract.Extractor
	detector      *vision.SubjectDetector
	bridgeConfig  worker.Config
	sessionConfig session.Config

	bridgeOnce sync.Once
	bridge     *worker.Bridge
}

// New creates a new CropSurface with default configuration
func New() *CropSurface {
	return NewWithConfig(extract.DefaultConfig(), worker.DefaultConfig(), session.DefaultConfig())
}

// NewWithConfig creates a new CropSurface with custom configuration. The
// bridge always encodes with extractConfig.
func NewWithConfig(extractConfig extract.Config, bridgeConfig worker.Config, sessionConfig session.Config) *CropSurface {
	processor := processing.NewProcessor()
	extractor := extract.NewWithConfig(extractConfig)
	extractor.SetProcessor(processor)
	bridgeConfig.Extract = extractConfig

	return &CropSurface{
		processor:     processor,
		extractor:     extractor,
		detector:      vision.New(),
		bridgeConfig:  bridgeConfig,
		sessionConfig: sessionConfig,
	}
}

// LoadImage loads an image from a file path or an http(s) URL
func (cs *CropSurface) LoadImage(source string) (image.Image, error) {
	return cs.processor.LoadImageSmart(source)
}

// SaveImage saves an image, choosing the format from the file extension
func (cs *CropSurface) SaveImage(img image.Image, path string) error {
	format := utils.GetFileExtension(path)
	if format == "" {
		format = "png"
	}
	return cs.processor.SaveImage(img, path, format, cs.extractor.Config().Quality, cs.extractor.Config().Lossless)
}

// GetImageInfo returns basic information about an image
func (cs *CropSurface) GetImageInfo(img image.Image) processing.ImageInfo {
	return cs.processor.GetImageInfo(img)
}

// Extract renders every box of the batch synchronously
func (cs *CropSurface) Extract(img image.Image, boxes []types.CropBox, c types.Container, v types.Viewport) types.ArtifactMap {
	return cs.extractor.Extract(img, boxes, c, v)
}

// ExtractAsync runs the extraction on the background bridge: the viewport
// is composed onto the bridge surface and the boxes are read back from it.
// The bridge is shared, so concurrent callers with different images should
// each use their own CropSurface.
func (cs *CropSurface) ExtractAsync(ctx context.Context, img image.Image, boxes []types.CropBox, c types.Container, v types.Viewport) (worker.Reply, error) {
	b := cs.Bridge()
	ib := img.Bounds()
	r := transform.NewResolver(float64(ib.Dx()), float64(ib.Dy()), c, v)

	if err := b.SetCanvas(nil, false, c.Ratio()); err != nil {
		return worker.Reply{}, err
	}
	if err := b.Update(worker.NewUpdate(img, r)); err != nil {
		return worker.Reply{}, err
	}
	return b.RetrieveWait(ctx, boxes)
}

// Bridge returns the background bridge, starting it on first use
func (cs *CropSurface) Bridge() *worker.Bridge {
	cs.bridgeOnce.Do(func() {
		cs.bridge = worker.NewWithConfig(cs.bridgeConfig)
	})
	return cs.bridge
}

// Close stops the background bridge if it was started
func (cs *CropSurface) Close() {
	cs.bridgeOnce.Do(func() {})
	if cs.bridge != nil {
		cs.bridge.Close()
	}
}

// NewSession starts an interaction session for img shown in c
func (cs *CropSurface) NewSession(img image.Image, c types.Container) *session.Session {
	b := img.Bounds()
	return session.NewWithConfig(float64(b.Dx()), float64(b.Dy()), c, cs.sessionConfig)
}

// Label asks a vision model to label every artifact. Partial results are
// returned together with an error describing the failures.
func (cs *CropSurface) Label(ctx context.Context, vc client.VisionClient, model string, artifacts types.ArtifactMap) (map[string]types.Label, error) {
	return labeling.NewLabeler(vc).LabelArtifacts(ctx, model, artifacts)
}

// SaveArtifacts writes one file per artifact into dir and returns the
// paths in id order.
func (cs *CropSurface) SaveArtifacts(artifacts types.ArtifactMap, dir, prefix, suffix string) ([]string, error) {
	if err := utils.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	paths := make([]string, 0, len(artifacts))
	for _, id := range artifacts.IDs() {
		a := artifacts[id]
		path := utils.ArtifactFilename(dir, prefix, id, suffix, a.Format)
		if err := cs.processor.SaveArtifact(a, path); err != nil {
			return paths, fmt.Errorf("save %s: %w", id, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// WriteManifest writes the artifact map as JSON, one data URI per id
func (cs *CropSurface) WriteManifest(artifacts types.ArtifactMap, path string) error {
	data, err := json.MarshalIndent(artifacts, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// Overlay returns a copy of img with the outline of every box drawn where
// it falls on the image under viewport v.
func (cs *CropSurface) Overlay(img image.Image, boxes []types.CropBox, c types.Container, v types.Viewport) image.Image {
	b := img.Bounds()
	r := transform.NewResolver(float64(b.Dx()), float64(b.Dy()), c, v)

	polygons := make([]*geom.Polygon, 0, len(boxes))
	for _, box := range boxes {
		if box.IsEmpty() {
			continue
		}
		screen := box.Polygon().WorldPoints()
		pts := make([]geom.Vector, len(screen))
		for i, p := range screen {
			pts[i] = r.ScreenToImagePoint(p)
		}
		polygons = append(polygons, geom.NewPolygon(geom.Vector{}, pts))
	}
	return cs.processor.CreateOverlay(img, polygons)
}

// SetDetector replaces the subject detector used for suggestions
func (cs *CropSurface) SetDetector(d *vision.SubjectDetector) {
	cs.detector = d
}

// Suggest proposes up to max crop boxes around the salient regions of img,
// in container space for c and v. Boxes are committed and axis-aligned with
// the displayed image. max <= 0 returns every detected region.
func (cs *CropSurface) Suggest(img image.Image, c types.Container, v types.Viewport, max int) []types.CropBox {
	regions := cs.detector.DetectSubjects(img)
	if max > 0 && len(regions) > max {
		regions = regions[:max]
	}
	return regionsToBoxes(img, regions, c, v)
}

// SuggestAspect proposes the single box of the given aspect ratio that
// covers the most salient area of img.
func (cs *CropSurface) SuggestAspect(img image.Image, c types.Container, v types.Viewport, ratio vision.AspectRatio) types.CropBox {
	region := cs.detector.FindBestCropRegion(img, ratio.Ratio())
	return regionsToBoxes(img, []vision.Region{region}, c, v)[0]
}

func regionsToBoxes(img image.Image, regions []vision.Region, c types.Container, v types.Viewport) []types.CropBox {
	b := img.Bounds()
	r := transform.NewResolver(float64(b.Dx()), float64(b.Dy()), c, v)
	baseW, _ := r.BaseSize()
	scale := v.EffectiveZoom()
	if b.Dx() > 0 {
		scale *= baseW / float64(b.Dx())
	}

	boxes := make([]types.CropBox, 0, len(regions))
	for _, region := range regions {
		cx := float64(region.X) + float64(region.Width)/2
		cy := float64(region.Y) + float64(region.Height)/2
		center := r.ImageToScreenPoint(geom.V(cx, cy))

		w := float64(region.Width) * scale
		h := float64(region.Height) * scale
		box := types.NewCropBox(center.X-w/2, center.Y-h/2, v.Rotation)
		box.Width = w
		box.Height = h
		box.Committed = true
		boxes = append(boxes, box)
	}
	return boxes
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
