// Package session holds the interaction state for one displayed image: the
// crop boxes, the viewport and the active cursor mode. It is driven with
// raw pointer positions in container space and is not safe for concurrent
// use; the caller owns the event loop.
package session

import (
	"fmt"
	"math"
	"slices"

	"github.com/menta2k/crop-surface/pkg/geom"
	"github.com/menta2k/crop-surface/pkg/sat"
	"github.com/menta2k/crop-surface/pkg/transform"
	"github.com/menta2k/crop-surface/pkg/types"
)

// Handle names the edge or corner of a box being resized
type Handle int

const (
	HandleN Handle = iota
	HandleNE
	HandleE
	HandleSE
	HandleS
	HandleSW
	HandleW
	HandleNW
)

var handleNames = []string{"n", "ne", "e", "se", "s", "sw", "w", "nw"}

func (h Handle) String() string {
	if h < 0 || int(h) >= len(handleNames) {
		return fmt.Sprintf("Handle(%d)", int(h))
	}
	return handleNames[h]
}

// ParseHandle parses a handle name such as "se"
func ParseHandle(s string) (Handle, error) {
	for i, name := range handleNames {
		if name == s {
			return Handle(i), nil
		}
	}
	return 0, fmt.Errorf("unknown resize handle: %s", s)
}

// Config holds session limits
type Config struct {
	MinZoom float64
	MaxZoom float64
	// MinBoxSize is the smallest width and height a committed box keeps;
	// committed boxes below it are discarded.
	MinBoxSize float64
}

// DefaultConfig returns the default session configuration
func DefaultConfig() Config {
	return Config{
		MinZoom:    0.1,
		MaxZoom:    10,
		MinBoxSize: 0,
	}
}

// Session is the interaction state machine
type Session struct {
	config    Config
	imageW    float64
	imageH    float64
	container types.Container
	viewport  types.Viewport
	mode      types.CursorMode
	boxes     []types.CropBox
	selected  string

	active  bool
	anchor  geom.Vector
	last    geom.Vector
	drawing string
}

// New creates a session for an image of the given natural size
func New(imageW, imageH float64, c types.Container) *Session {
	return NewWithConfig(imageW, imageH, c, DefaultConfig())
}

// NewWithConfig creates a session with custom limits
func NewWithConfig(imageW, imageH float64, c types.Container, config Config) *Session {
	if config.MaxZoom <= 0 {
		config.MaxZoom = math.Inf(1)
	}
	return &Session{
		config:    config,
		imageW:    imageW,
		imageH:    imageH,
		container: c,
		viewport:  types.DefaultViewport(),
		mode:      types.ModeDraw,
	}
}

// SetImage switches to a new source image. The viewport is reset and any
// gesture in progress is dropped; boxes are kept.
func (s *Session) SetImage(imageW, imageH float64) {
	s.imageW, s.imageH = imageW, imageH
	s.viewport = types.DefaultViewport()
	s.cancelGesture()
}

// SetContainer updates the display area size
func (s *Session) SetContainer(c types.Container) {
	s.container = c
}

// SetMode changes the cursor mode, ending any gesture in progress
func (s *Session) SetMode(m types.CursorMode) {
	if s.active {
		s.PointerUp()
	}
	s.mode = m
}

// Mode returns the active cursor mode
func (s *Session) Mode() types.CursorMode {
	return s.mode
}

// PointerDown starts a gesture at p
func (s *Session) PointerDown(p geom.Vector) {
	if s.active {
		s.PointerUp()
	}
	s.active = true
	s.anchor = p
	s.last = p

	switch s.mode {
	case types.ModeDraw:
		box := types.NewCropBox(p.X, p.Y, 0)
		s.boxes = append(s.boxes, box)
		s.drawing = box.ID
		s.selected = box.ID
	case types.ModeSelect:
		if id, ok := s.Select(p); ok {
			s.selected = id
		} else {
			s.selected = ""
		}
	}
}

// PointerMove continues the gesture at p
func (s *Session) PointerMove(p geom.Vector) {
	if !s.active {
		return
	}
	delta := p.Sub(s.last)
	s.last = p

	switch s.mode {
	case types.ModeDraw:
		i := s.index(s.drawing)
		if i < 0 {
			return
		}
		box := s.boxes[i]
		box.X = math.Min(s.anchor.X, p.X)
		box.Y = math.Min(s.anchor.Y, p.Y)
		box.Width = math.Abs(p.X - s.anchor.X)
		box.Height = math.Abs(p.Y - s.anchor.Y)
		s.boxes[i] = box
	case types.ModePan:
		s.Pan(delta)
	case types.ModeSelect:
		if s.selected != "" {
			s.Move(s.selected, delta)
		}
	}
}

// PointerUp ends the gesture and commits the box it touched
func (s *Session) PointerUp() {
	if !s.active {
		return
	}
	s.active = false

	switch s.mode {
	case types.ModeDraw:
		s.commit(s.drawing)
		s.drawing = ""
	case types.ModeSelect:
		if s.selected != "" {
			s.commit(s.selected)
		}
	}
}

func (s *Session) cancelGesture() {
	if s.active && s.mode == types.ModeDraw {
		s.Delete(s.drawing)
	}
	s.active = false
	s.drawing = ""
}

// commit normalises a box and marks it ready for extraction; boxes too small
// to extract are removed instead.
func (s *Session) commit(id string) {
	i := s.index(id)
	if i < 0 {
		return
	}
	box := s.boxes[i].Normalized()
	if box.IsEmpty() || box.Width < s.config.MinBoxSize || box.Height < s.config.MinBoxSize {
		s.Delete(id)
		return
	}
	box.Committed = true
	s.boxes[i] = box
}

// Resize moves the given handle of box id by delta, a screen-space offset.
// The delta is taken in the box's own rotated frame and the opposite edge
// stays where it is.
func (s *Session) Resize(id string, h Handle, delta geom.Vector) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	box := s.boxes[i]
	angle := geom.Radians(box.Rotation)
	d := delta.Rotate(-angle)

	var grow, shift geom.Vector
	switch h {
	case HandleN, HandleNE, HandleNW:
		grow.Y = -d.Y
		shift.Y = d.Y / 2
	case HandleS, HandleSE, HandleSW:
		grow.Y = d.Y
		shift.Y = d.Y / 2
	}
	switch h {
	case HandleE, HandleNE, HandleSE:
		grow.X = d.X
		shift.X = d.X / 2
	case HandleW, HandleNW, HandleSW:
		grow.X = -d.X
		shift.X = d.X / 2
	}

	center := box.Center().Add(shift.Rotate(angle))
	box.Width += grow.X
	box.Height += grow.Y
	box.X = center.X - box.Width/2
	box.Y = center.Y - box.Height/2
	box.Committed = false
	s.boxes[i] = box.Normalized()
	return true
}

// Move translates box id by delta
func (s *Session) Move(id string, delta geom.Vector) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	box := s.boxes[i]
	box.X += delta.X
	box.Y += delta.Y
	box.Committed = false
	s.boxes[i] = box
	return true
}

// Rotate sets the rotation of box id in degrees. Like a move or resize it
// leaves the box uncommitted until Commit.
func (s *Session) Rotate(id string, degrees float64) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	s.boxes[i].Rotation = normalizeDegrees(degrees)
	s.boxes[i].Committed = false
	return true
}

// Commit marks box id as ready for extraction
func (s *Session) Commit(id string) {
	s.commit(id)
}

// Add inserts boxes supplied by the caller, replacing any with the same id
func (s *Session) Add(boxes ...types.CropBox) {
	for _, b := range boxes {
		if i := s.index(b.ID); i >= 0 {
			s.boxes[i] = b
			continue
		}
		s.boxes = append(s.boxes, b)
	}
}

// Delete removes box id
func (s *Session) Delete(id string) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	s.boxes = slices.Delete(s.boxes, i, i+1)
	if s.selected == id {
		s.selected = ""
	}
	return true
}

// SetRotation sets the viewport rotation in degrees, normalised to [0, 360)
func (s *Session) SetRotation(degrees float64) {
	s.viewport.Rotation = normalizeDegrees(degrees)
}

// SetZoom sets the viewport zoom, clamped to the configured range
func (s *Session) SetZoom(zoom float64) {
	if zoom <= 0 || math.IsNaN(zoom) || math.IsInf(zoom, 0) {
		return
	}
	s.viewport.Zoom = math.Max(s.config.MinZoom, math.Min(s.config.MaxZoom, zoom))
}

// ZoomBy multiplies the viewport zoom by factor
func (s *Session) ZoomBy(factor float64) {
	s.SetZoom(s.viewport.EffectiveZoom() * factor)
}

// Pan adds delta to the viewport pan offset
func (s *Session) Pan(delta geom.Vector) {
	s.viewport.Pan = s.viewport.Pan.Add(delta)
}

// ResetToCenter re-aligns the image with the container centre. Rotation and
// zoom are kept.
func (s *Session) ResetToCenter() {
	s.viewport.Pan = geom.Vector{}
}

// Select returns the topmost box containing p
func (s *Session) Select(p geom.Vector) (string, bool) {
	for i := len(s.boxes) - 1; i >= 0; i-- {
		b := s.boxes[i]
		if b.IsEmpty() {
			continue
		}
		if sat.PointInPolygon(p, b.Polygon()) {
			return b.ID, true
		}
	}
	return "", false
}

// Selected returns the id of the selected box, if any
func (s *Session) Selected() (string, bool) {
	return s.selected, s.selected != ""
}

// Overlapping returns the ids of boxes that intersect box id, in stacking order
func (s *Session) Overlapping(id string) []string {
	i := s.index(id)
	if i < 0 || s.boxes[i].IsEmpty() {
		return nil
	}
	target := s.boxes[i].Polygon()
	var out []string
	for j, b := range s.boxes {
		if j == i || b.IsEmpty() {
			continue
		}
		if sat.TestPolygonPolygon(target, b.Polygon(), nil) {
			out = append(out, b.ID)
		}
	}
	return out
}

// Separation returns the minimum translation that pushes box id off other.
// ok is false when the boxes do not overlap.
func (s *Session) Separation(id, other string) (geom.Vector, bool) {
	i, j := s.index(id), s.index(other)
	if i < 0 || j < 0 {
		return geom.Vector{}, false
	}
	r := sat.NewResponse()
	if !sat.TestPolygonPolygon(s.boxes[i].Polygon(), s.boxes[j].Polygon(), r) {
		return geom.Vector{}, false
	}
	return r.OverlapV.Reverse(), true
}

// Boxes returns a copy of every box in stacking order
func (s *Session) Boxes() []types.CropBox {
	return slices.Clone(s.boxes)
}

// Box returns box id
func (s *Session) Box(id string) (types.CropBox, bool) {
	i := s.index(id)
	if i < 0 {
		return types.CropBox{}, false
	}
	return s.boxes[i], true
}

// Committed returns the boxes eligible for extraction
func (s *Session) Committed() []types.CropBox {
	var out []types.CropBox
	for _, b := range s.boxes {
		if b.Committed && !b.IsEmpty() {
			out = append(out, b)
		}
	}
	return out
}

// Viewport returns the current viewport
func (s *Session) Viewport() types.Viewport {
	return s.viewport
}

// Container returns the display area
func (s *Session) Container() types.Container {
	return s.container
}

// Resolver returns a transform resolver for the current state
func (s *Session) Resolver() *transform.Resolver {
	return transform.NewResolver(s.imageW, s.imageH, s.container, s.viewport)
}

func (s *Session) index(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(s.boxes, func(b types.CropBox) bool { return b.ID == id })
}

func normalizeDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}
