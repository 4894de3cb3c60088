// Package vision proposes crop regions from a saliency map so a session can
// start from suggested boxes instead of an empty surface.
package vision

import (
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"

	"github.com/menta2k/crop-surface/pkg/geom"
	"github.com/menta2k/crop-surface/pkg/sat"
)

// SubjectDetector finds salient regions in images
type SubjectDetector struct {
	config DetectionConfig
}

// DetectionConfig holds configuration for subject detection
type DetectionConfig struct {
	// EdgeThreshold is the minimum mean saliency of a candidate window
	EdgeThreshold  float64
	ContrastWeight float64
	ColorWeight    float64
	// MinSubjectRatio is the smallest region area as a share of the image
	MinSubjectRatio float64
	// MaxRegions bounds the number of regions returned
	MaxRegions int
	// AnalysisSize is the long side the image is reduced to before scoring
	AnalysisSize int
	// MaxOverlap is the largest overlap depth, as a share of the smaller
	// region's shorter side, two returned regions may have
	MaxOverlap float64
}

// DefaultConfig returns the default detection configuration
func DefaultConfig() DetectionConfig {
	return DetectionConfig{
		EdgeThreshold:   0.01,
		ContrastWeight:  0.3,
		ColorWeight:     0.2,
		MinSubjectRatio: 0.01,
		MaxRegions:      10,
		AnalysisSize:    256,
		MaxOverlap:      0.5,
	}
}

// New creates a new SubjectDetector with default configuration
func New() *SubjectDetector {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a new SubjectDetector with custom configuration
func NewWithConfig(config DetectionConfig) *SubjectDetector {
	if config.AnalysisSize <= 0 {
		config.AnalysisSize = 256
	}
	if config.MaxRegions <= 0 {
		config.MaxRegions = 10
	}
	return &SubjectDetector{config: config}
}

// Region is a rectangle of interest in source image pixels
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
	Score  float64
}

// Center returns the center point of the region
func (r Region) Center() (int, int) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Area returns the area of the region
func (r Region) Area() int {
	return r.Width * r.Height
}

// Polygon returns the region outline
func (r Region) Polygon() *geom.Polygon {
	return geom.NewBox(geom.V(float64(r.X), float64(r.Y)), float64(r.Width), float64(r.Height))
}

// AspectRatio is a named width:height ratio
type AspectRatio struct {
	Width  int
	Height int
	Name   string
}

// Ratio returns width / height
func (a AspectRatio) Ratio() float64 {
	if a.Height == 0 {
		return 1
	}
	return float64(a.Width) / float64(a.Height)
}

// Common aspect ratios
var (
	Square     = AspectRatio{1, 1, "square"}
	Portrait   = AspectRatio{3, 4, "portrait"}
	Landscape  = AspectRatio{4, 3, "landscape"}
	Widescreen = AspectRatio{16, 9, "widescreen"}
	Instagram  = AspectRatio{4, 5, "instagram"}
	Story      = AspectRatio{9, 16, "story"}
)

// CommonAspectRatios returns a list of commonly used aspect ratios
func CommonAspectRatios() []AspectRatio {
	return []AspectRatio{Square, Portrait, Landscape, Widescreen, Instagram, Story}
}

// ParseAspectRatio looks up a named ratio
func ParseAspectRatio(name string) (AspectRatio, bool) {
	for _, a := range CommonAspectRatios() {
		if a.Name == name {
			return a, true
		}
	}
	return AspectRatio{}, false
}

// DetectSubjects returns up to MaxRegions non-overlapping salient regions,
// best first, in source pixels relative to the image's top-left corner.
func (d *SubjectDetector) DetectSubjects(img image.Image) []Region {
	bounds := img.Bounds()
	if bounds.Dx() < 3 || bounds.Dy() < 3 {
		return nil
	}

	small, scale := d.reduce(img)
	sw, sh := small.Bounds().Dx(), small.Bounds().Dy()
	integral := integrate(d.saliency(small), sw, sh)

	candidates := d.findImportantRegions(integral, sw, sh)
	candidates = d.filterAndScoreRegions(candidates, sw, sh)

	out := make([]Region, 0, d.config.MaxRegions)
	for _, r := range d.suppress(candidates) {
		out = append(out, upscale(r, scale, bounds))
	}
	return out
}

// FindBestCropRegion returns the largest region of the given aspect ratio
// that fits the image, placed to cover as much salient area as possible.
func (d *SubjectDetector) FindBestCropRegion(img image.Image, targetAspectRatio float64) Region {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 || targetAspectRatio <= 0 {
		return Region{Width: width, Height: height}
	}

	var cropWidth, cropHeight int
	if targetAspectRatio > float64(width)/float64(height) {
		// wider than the image, bound by width
		cropWidth = width
		cropHeight = int(float64(width) / targetAspectRatio)
	} else {
		cropHeight = height
		cropWidth = int(float64(height) * targetAspectRatio)
	}

	return d.findOptimalCropPosition(d.DetectSubjects(img), cropWidth, cropHeight, width, height)
}

// reduce returns an analysis copy no larger than AnalysisSize on its long
// side and the factor from copy pixels to source pixels.
func (d *SubjectDetector) reduce(img image.Image) (*image.NRGBA, float64) {
	b := img.Bounds()
	long := max(b.Dx(), b.Dy())
	if long <= d.config.AnalysisSize {
		return imaging.Clone(img), 1
	}
	small := imaging.Fit(img, d.config.AnalysisSize, d.config.AnalysisSize, imaging.Box)
	return small, float64(b.Dx()) / float64(small.Bounds().Dx())
}

var neighbors = [8][2]int{{-1, -1}, {-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, -1}, {1, 0}, {1, 1}}

// saliency scores each pixel by colour difference to its 8 neighbours and
// by brightness. Border pixels score zero.
func (d *SubjectDetector) saliency(img *image.NRGBA) []float64 {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	out := make([]float64, w*h)
	at := func(x, y int) (float64, float64, float64) {
		i := img.PixOffset(x, y)
		return float64(img.Pix[i]), float64(img.Pix[i+1]), float64(img.Pix[i+2])
	}

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			r1, g1, b1 := at(x, y)
			var edgeStrength float64
			for _, o := range neighbors {
				r2, g2, b2 := at(x+o[0], y+o[1])
				dr, dg, db := r1-r2, g1-g2, b1-b2
				edgeStrength += math.Sqrt(dr*dr + dg*dg + db*db)
			}
			edgeStrength /= 8 * 255
			brightness := (r1 + g1 + b1) / (3 * 255)
			out[y*w+x] = d.config.ContrastWeight*edgeStrength + d.config.ColorWeight*brightness
		}
	}
	return out
}

// integrate builds a summed-area table with a zero first row and column
func integrate(values []float64, w, h int) []float64 {
	stride := w + 1
	sum := make([]float64, stride*(h+1))
	for y := 0; y < h; y++ {
		var row float64
		for x := 0; x < w; x++ {
			row += values[y*w+x]
			sum[(y+1)*stride+x+1] = sum[y*stride+x+1] + row
		}
	}
	return sum
}

func windowMean(sum []float64, w, x, y, ww, wh int) float64 {
	stride := w + 1
	total := sum[(y+wh)*stride+x+ww] - sum[y*stride+x+ww] - sum[(y+wh)*stride+x] + sum[y*stride+x]
	return total / float64(ww*wh)
}

func (d *SubjectDetector) findImportantRegions(sum []float64, width, height int) []Region {
	var regions []Region
	short := min(width, height)
	windowSizes := []int{short / 8, short / 6, short / 4, short / 3, short / 2}

	for _, windowSize := range windowSizes {
		if windowSize < 4 {
			continue
		}
		step := max(1, windowSize/8)
		for y := 0; y+windowSize <= height; y += step {
			for x := 0; x+windowSize <= width; x += step {
				score := windowMean(sum, width, x, y, windowSize, windowSize)
				if score > d.config.EdgeThreshold {
					regions = append(regions, Region{X: x, Y: y, Width: windowSize, Height: windowSize, Score: score})
				}
			}
		}
	}
	return regions
}

func (d *SubjectDetector) filterAndScoreRegions(regions []Region, imageWidth, imageHeight int) []Region {
	minArea := int(float64(imageWidth*imageHeight) * d.config.MinSubjectRatio)
	filtered := regions[:0]
	for _, region := range regions {
		if region.Area() >= minArea {
			filtered = append(filtered, region)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Score > filtered[j].Score })
	return filtered
}

// suppress keeps the best regions greedily, dropping any that sits too deep
// inside one already kept.
func (d *SubjectDetector) suppress(candidates []Region) []Region {
	var kept []Region
	var keptPolys []*geom.Polygon
	r := sat.NewResponse()

	for _, c := range candidates {
		if len(kept) == d.config.MaxRegions {
			break
		}
		poly := c.Polygon()
		ok := true
		for i, k := range keptPolys {
			r.Clear()
			if !sat.TestPolygonPolygon(poly, k, r) {
				continue
			}
			limit := d.config.MaxOverlap * float64(min(c.Width, c.Height, kept[i].Width, kept[i].Height))
			if r.AInB || r.BInA || r.Overlap > limit {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, c)
			keptPolys = append(keptPolys, poly)
		}
	}
	return kept
}

func upscale(r Region, scale float64, bounds image.Rectangle) Region {
	if scale == 1 {
		return r
	}
	x0 := int(math.Round(float64(r.X) * scale))
	y0 := int(math.Round(float64(r.Y) * scale))
	x1 := min(bounds.Dx(), int(math.Round(float64(r.X+r.Width)*scale)))
	y1 := min(bounds.Dy(), int(math.Round(float64(r.Y+r.Height)*scale)))
	return Region{
		X:      x0,
		Y:      y0,
		Width:  x1 - x0,
		Height: y1 - y0,
		Score:  r.Score,
	}
}

func (d *SubjectDetector) findOptimalCropPosition(subjects []Region, cropWidth, cropHeight, imageWidth, imageHeight int) Region {
	bestScore := 0.0
	bestRegion := Region{
		X:      (imageWidth - cropWidth) / 2,
		Y:      (imageHeight - cropHeight) / 2,
		Width:  cropWidth,
		Height: cropHeight,
	}

	stepSize := max(10, max(cropWidth, cropHeight)/20)
	for y := 0; y <= imageHeight-cropHeight; y += stepSize {
		for x := 0; x <= imageWidth-cropWidth; x += stepSize {
			score := scoreCropPosition(subjects, x, y, cropWidth, cropHeight)
			if score > bestScore {
				bestScore = score
				bestRegion = Region{X: x, Y: y, Width: cropWidth, Height: cropHeight, Score: score}
			}
		}
	}
	return bestRegion
}

// scoreCropPosition sums the covered share of every subject weighted by its score
func scoreCropPosition(subjects []Region, cropX, cropY, cropWidth, cropHeight int) float64 {
	score := 0.0
	for _, subject := range subjects {
		overlap := image.Rect(cropX, cropY, cropX+cropWidth, cropY+cropHeight).
			Intersect(image.Rect(subject.X, subject.Y, subject.X+subject.Width, subject.Y+subject.Height))
		if overlap.Empty() {
			continue
		}
		score += float64(overlap.Dx()*overlap.Dy()) / float64(subject.Area()) * subject.Score
	}
	return score
}
