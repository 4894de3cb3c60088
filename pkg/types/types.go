package types

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/menta2k/crop-surface/pkg/geom"
)

// CropBox is a user-drawn rectangle in container space (CSS pixels).
// Rotation is in degrees, clockwise on screen, about the box centre.
type CropBox struct {
	ID        string         `json:"id"`
	X         float64        `json:"x"`
	Y         float64        `json:"y"`
	Width     float64        `json:"width"`
	Height    float64        `json:"height"`
	Rotation  float64        `json:"rotation"`
	Committed bool           `json:"committed,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// NewCropBox creates a zero-size box at (x, y) with a fresh id
func NewCropBox(x, y, rotation float64) CropBox {
	return CropBox{
		ID:       uuid.New().String(),
		X:        x,
		Y:        y,
		Rotation: rotation,
	}
}

// Center returns the rotation pivot of the box
func (b CropBox) Center() geom.Vector {
	return geom.V(b.X+b.Width/2, b.Y+b.Height/2)
}

// IsEmpty reports whether the box has no area
func (b CropBox) IsEmpty() bool {
	return b.Width == 0 || b.Height == 0
}

// Normalized returns the box with negative width or height flipped so the
// same area is described with positive extents.
func (b CropBox) Normalized() CropBox {
	if b.Width < 0 {
		b.X += b.Width
		b.Width = -b.Width
	}
	if b.Height < 0 {
		b.Y += b.Height
		b.Height = -b.Height
	}
	return b
}

// Polygon returns the box outline in container space with its rotation applied
func (b CropBox) Polygon() *geom.Polygon {
	n := b.Normalized()
	p := geom.NewBox(n.Center(), n.Width, n.Height).
		Translate(-n.Width/2, -n.Height/2)
	if n.Rotation != 0 {
		p.Rotate(geom.Radians(n.Rotation))
	}
	return p
}

// Viewport is the rotation, zoom and pan applied to the displayed image
type Viewport struct {
	Rotation float64     `json:"rotation"`
	Zoom     float64     `json:"zoom"`
	Pan      geom.Vector `json:"pan"`
}

// DefaultViewport returns the identity viewport
func DefaultViewport() Viewport {
	return Viewport{Zoom: 1}
}

// EffectiveZoom returns the zoom factor, substituting 1 for non-positive values
func (v Viewport) EffectiveZoom() float64 {
	if v.Zoom <= 0 || math.IsNaN(v.Zoom) || math.IsInf(v.Zoom, 0) {
		return 1
	}
	return v.Zoom
}

// Container is the display area the image is fitted into
type Container struct {
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	PixelRatio float64 `json:"pixel_ratio"`
}

// Ratio returns the device pixel ratio, substituting 1 for non-positive values
func (c Container) Ratio() float64 {
	if c.PixelRatio <= 0 {
		return 1
	}
	return c.PixelRatio
}

// CursorMode gates which interaction handler is active
type CursorMode int

const (
	ModeDraw CursorMode = iota
	ModePan
	ModeSelect
)

func (m CursorMode) String() string {
	switch m {
	case ModeDraw:
		return "draw"
	case ModePan:
		return "pan"
	case ModeSelect:
		return "select"
	}
	return fmt.Sprintf("CursorMode(%d)", int(m))
}

// ParseCursorMode parses draw, pan or select
func ParseCursorMode(s string) (CursorMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "draw":
		return ModeDraw, nil
	case "pan":
		return ModePan, nil
	case "select":
		return ModeSelect, nil
	}
	return ModeDraw, fmt.Errorf("unknown cursor mode: %q", s)
}

// Artifact is an encoded still image extracted from a crop box
type Artifact struct {
	Format string
	Width  int
	Height int
	Data   []byte
}

// MimeType returns the content type for the artifact's format
func (a Artifact) MimeType() string {
	switch strings.ToLower(a.Format) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

// Base64 returns the encoded bytes as standard base64
func (a Artifact) Base64() string {
	return base64.StdEncoding.EncodeToString(a.Data)
}

// DataURI returns the artifact as a data: URI
func (a Artifact) DataURI() string {
	return "data:" + a.MimeType() + ";base64," + a.Base64()
}

// MarshalJSON encodes the artifact as its data URI
func (a Artifact) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.DataURI())
}

// UnmarshalJSON decodes a data URI produced by MarshalJSON. Width and
// Height are not carried by the URI and stay zero.
func (a *Artifact) UnmarshalJSON(data []byte) error {
	var uri string
	if err := json.Unmarshal(data, &uri); err != nil {
		return err
	}
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return fmt.Errorf("artifact is not a data URI")
	}
	mime, payload, ok := strings.Cut(rest, ";base64,")
	if !ok {
		return fmt.Errorf("artifact data URI is not base64 encoded")
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("failed to decode artifact payload: %w", err)
	}
	switch mime {
	case "image/jpeg":
		a.Format = "jpg"
	case "image/webp":
		a.Format = "webp"
	default:
		a.Format = "png"
	}
	a.Data = raw
	return nil
}

// Equal reports whether two artifacts carry the same encoded image
func (a Artifact) Equal(o Artifact) bool {
	return a.Format == o.Format && bytes.Equal(a.Data, o.Data)
}

// ArtifactMap maps crop box ids to extracted artifacts
type ArtifactMap map[string]Artifact

// IDs returns the ids present in the map, sorted
func (m ArtifactMap) IDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Merge copies every entry of other into m, replacing entries by id.
// Entries of m that other does not mention are kept.
func (m ArtifactMap) Merge(other ArtifactMap) ArtifactMap {
	if m == nil {
		m = make(ArtifactMap, len(other))
	}
	for id, a := range other {
		m[id] = a
	}
	return m
}

// Prune removes entries whose id is not in live
func (m ArtifactMap) Prune(live []string) ArtifactMap {
	keep := make(map[string]struct{}, len(live))
	for _, id := range live {
		keep[id] = struct{}{}
	}
	for id := range m {
		if _, ok := keep[id]; !ok {
			delete(m, id)
		}
	}
	return m
}

// Label is a vision-model annotation for one artifact
type Label struct {
	Label       string   `json:"label"`
	Confidence  float64  `json:"confidence"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}
