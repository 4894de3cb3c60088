package worker

import (
	"encoding/json"
	"image"

	"github.com/menta2k/crop-surface/pkg/transform"
	"github.com/menta2k/crop-surface/pkg/types"
)

// Message is one request to the bridge. Exactly one field is set; a
// non-nil empty Retrieve is a valid, empty batch.
type Message struct {
	Canvas   *CanvasMessage
	Update   *UpdateMessage
	Retrieve []types.CropBox
}

type wireMessage struct {
	Canvas   *CanvasMessage   `json:"canvas,omitempty"`
	Update   *UpdateMessage   `json:"update,omitempty"`
	Retrieve *[]types.CropBox `json:"retrieve,omitempty"`
}

func (m Message) kinds() int {
	n := 0
	if m.Canvas != nil {
		n++
	}
	if m.Update != nil {
		n++
	}
	if m.Retrieve != nil {
		n++
	}
	return n
}

// MarshalJSON keeps an empty retrieve batch as "retrieve": []
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{Canvas: m.Canvas, Update: m.Update}
	if m.Retrieve != nil {
		w.Retrieve = &m.Retrieve
	}
	return json.Marshal(w)
}

// UnmarshalJSON is the inverse of MarshalJSON
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = Message{Canvas: w.Canvas, Update: w.Update}
	if w.Retrieve != nil {
		m.Retrieve = *w.Retrieve
		if m.Retrieve == nil {
			m.Retrieve = []types.CropBox{}
		}
	}
	return nil
}

// CanvasMessage hands the drawing target to the bridge. With Transfer set
// ownership moves to the bridge and the caller must not touch Surface
// again; otherwise the bridge keeps its own copy.
type CanvasMessage struct {
	Surface    *image.NRGBA `json:"-"`
	Transfer   bool         `json:"transfer"`
	PixelRatio float64      `json:"pixelRatio"`
}

// UpdateMessage repaints the retained surface with the viewport applied:
// translate to (TranslateX, TranslateY), rotate, translate back, then draw
// the source at the draw offset scaled to SourceWidth x SourceHeight.
// All values are device pixels.
type UpdateMessage struct {
	SourceImageData image.Image `json:"-"`
	CanvasHeight    int         `json:"canvasHeight"`
	CanvasWidth     int         `json:"canvasWidth"`
	TranslateX      float64     `json:"translateX"`
	TranslateY      float64     `json:"translateY"`
	RotationDegrees float64     `json:"rotationDegrees"`
	DrawOffsetX     float64     `json:"drawOffsetX"`
	DrawOffsetY     float64     `json:"drawOffsetY"`
	SourceWidth     float64     `json:"sourceWidth"`
	SourceHeight    float64     `json:"sourceHeight"`
}

// NewUpdate builds an update message from the resolver's surface parameters
func NewUpdate(src image.Image, r *transform.Resolver) *UpdateMessage {
	p := r.SurfaceParams()
	return &UpdateMessage{
		SourceImageData: src,
		CanvasHeight:    p.CanvasHeight,
		CanvasWidth:     p.CanvasWidth,
		TranslateX:      p.TranslateX,
		TranslateY:      p.TranslateY,
		RotationDegrees: p.RotationDegrees,
		DrawOffsetX:     p.DrawOffsetX,
		DrawOffsetY:     p.DrawOffsetY,
		SourceWidth:     p.SourceWidth,
		SourceHeight:    p.SourceHeight,
	}
}

func (u *UpdateMessage) params() transform.SurfaceParams {
	return transform.SurfaceParams{
		CanvasWidth:     u.CanvasWidth,
		CanvasHeight:    u.CanvasHeight,
		TranslateX:      u.TranslateX,
		TranslateY:      u.TranslateY,
		RotationDegrees: u.RotationDegrees,
		DrawOffsetX:     u.DrawOffsetX,
		DrawOffsetY:     u.DrawOffsetY,
		SourceWidth:     u.SourceWidth,
		SourceHeight:    u.SourceHeight,
	}
}

// Reply is posted once every box of a retrieve batch has completed.
// Version identifies the surface state the batch was read from.
type Reply struct {
	ImageMap types.ArtifactMap `json:"imageMap"`
	Version  uint64            `json:"version"`
}
