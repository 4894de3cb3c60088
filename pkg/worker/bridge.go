// Package worker runs surface composition and crop readback on a
// background goroutine that is driven only by messages.
//
// The bridge retains one surface. An update paints a fresh surface and
// swaps it in, bumping a version counter, so a retrieve batch always reads
// the surface that was current when the batch was dequeued even if later
// updates arrive while it is still encoding.
package worker

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"

	"github.com/menta2k/crop-surface/pkg/extract"
	"github.com/menta2k/crop-surface/pkg/types"
)

var (
	// ErrClosed is returned when posting to a closed bridge
	ErrClosed = errors.New("worker: bridge closed")
	// ErrInvalidMessage is returned for a message that does not set
	// exactly one of canvas, update or retrieve
	ErrInvalidMessage = errors.New("worker: message must set exactly one of canvas, update, retrieve")
)

// Config holds configuration for the bridge
type Config struct {
	// QueueSize is the inbox capacity
	QueueSize int
	// Concurrency bounds the boxes rendered at once within one batch
	Concurrency int
	// PixelRatio of the retained surface, used until a canvas message sets it
	PixelRatio float64
	Extract    extract.Config
}

// DefaultConfig returns the default bridge configuration
func DefaultConfig() Config {
	return Config{
		QueueSize:   16,
		Concurrency: 4,
		PixelRatio:  1,
		Extract:     extract.DefaultConfig(),
	}
}

type request struct {
	msg   Message
	reply chan Reply
}

// Bridge is the message-passing front of the background worker
type Bridge struct {
	config    Config
	extractor *extract.Extractor

	inbox   chan request
	done    chan struct{}
	closeMu sync.RWMutex
	closed  bool
	batches sync.WaitGroup

	// owned by the run goroutine
	surface    *image.NRGBA
	pixelRatio float64

	version atomic.Uint64
}

// New starts a bridge with default configuration
func New() *Bridge {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig starts a bridge with custom configuration
func NewWithConfig(config Config) *Bridge {
	if config.QueueSize <= 0 {
		config.QueueSize = 16
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PixelRatio <= 0 {
		config.PixelRatio = 1
	}
	b := &Bridge{
		config:     config,
		extractor:  extract.NewWithConfig(config.Extract),
		inbox:      make(chan request, config.QueueSize),
		done:       make(chan struct{}),
		pixelRatio: config.PixelRatio,
	}
	go b.run()
	return b
}

// Post sends a message. A retrieve message gets a reply channel that
// receives exactly one Reply; for other messages the channel is nil.
//
// Pixel buffers are owned by the bridge once Post returns: a canvas that is
// not transferred and an update source are copied before the message is
// queued, so the caller may reuse them immediately.
func (b *Bridge) Post(msg Message) (<-chan Reply, error) {
	if msg.kinds() != 1 {
		return nil, ErrInvalidMessage
	}
	req := request{msg: detach(msg)}
	if msg.Retrieve != nil {
		req.reply = make(chan Reply, 1)
	}

	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.inbox <- req
	return req.reply, nil
}

// SetCanvas hands over the drawing target
func (b *Bridge) SetCanvas(surface *image.NRGBA, transfer bool, pixelRatio float64) error {
	_, err := b.Post(Message{Canvas: &CanvasMessage{Surface: surface, Transfer: transfer, PixelRatio: pixelRatio}})
	return err
}

// Update repaints the retained surface. It does not wait for the paint.
func (b *Bridge) Update(u *UpdateMessage) error {
	_, err := b.Post(Message{Update: u})
	return err
}

// Retrieve queues a readback batch. The returned channel receives one
// reply holding exactly the ids of boxes that produced an artifact.
func (b *Bridge) Retrieve(boxes []types.CropBox) (<-chan Reply, error) {
	batch := make([]types.CropBox, len(boxes))
	copy(batch, boxes)
	return b.Post(Message{Retrieve: batch})
}

// RetrieveWait queues a batch and waits for its reply. Cancelling ctx stops
// the wait only; the batch itself still runs to completion.
func (b *Bridge) RetrieveWait(ctx context.Context, boxes []types.CropBox) (Reply, error) {
	ch, err := b.Retrieve(boxes)
	if err != nil {
		return Reply{}, err
	}
	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Version returns the number of surface changes applied so far
func (b *Bridge) Version() uint64 {
	return b.version.Load()
}

// Close stops accepting messages, drains the inbox and waits for in-flight
// batches to post their replies.
func (b *Bridge) Close() {
	b.closeMu.Lock()
	if b.closed {
		b.closeMu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	close(b.inbox)
	b.closeMu.Unlock()
	<-b.done
}

func (b *Bridge) run() {
	defer close(b.done)
	for req := range b.inbox {
		switch {
		case req.msg.Canvas != nil:
			b.handleCanvas(req.msg.Canvas)
		case req.msg.Update != nil:
			b.handleUpdate(req.msg.Update)
		case req.msg.Retrieve != nil:
			b.handleRetrieve(req.msg.Retrieve, req.reply)
		}
	}
	b.batches.Wait()
}

// detach copies the caller-owned pixel buffers of msg
func detach(msg Message) Message {
	switch {
	case msg.Canvas != nil && msg.Canvas.Surface != nil && !msg.Canvas.Transfer:
		c := *msg.Canvas
		c.Surface = imaging.Clone(c.Surface)
		c.Transfer = true
		msg.Canvas = &c
	case msg.Update != nil && msg.Update.SourceImageData != nil:
		u := *msg.Update
		u.SourceImageData = imaging.Clone(u.SourceImageData)
		msg.Update = &u
	}
	return msg
}

func (b *Bridge) handleCanvas(m *CanvasMessage) {
	if m.PixelRatio > 0 {
		b.pixelRatio = m.PixelRatio
	}
	if m.Surface == nil {
		return
	}
	// Post has already copied a surface that was not transferred
	b.surface = m.Surface
	b.version.Add(1)
}

func (b *Bridge) handleUpdate(u *UpdateMessage) {
	if u.SourceImageData == nil || u.CanvasWidth <= 0 || u.CanvasHeight <= 0 {
		return
	}
	if int64(u.CanvasWidth)*int64(u.CanvasHeight) > int64(b.extractor.Config().MaxSurfacePixels) {
		return
	}

	surface := image.NewNRGBA(image.Rect(0, 0, u.CanvasWidth, u.CanvasHeight))
	src := u.SourceImageData
	sb := src.Bounds()
	m := u.params().Matrix(float64(sb.Dx()), float64(sb.Dy()))
	b.extractor.Interpolator().Transform(surface, m.Aff3(), src, sb, xdraw.Over, nil)

	// swap rather than paint in place so batches holding the old surface
	// keep reading a consistent frame
	b.surface = surface
	b.version.Add(1)
}

func (b *Bridge) handleRetrieve(boxes []types.CropBox, reply chan Reply) {
	surface := b.surface
	version := b.version.Load()
	pixelRatio := b.pixelRatio

	b.batches.Add(1)
	go func() {
		defer b.batches.Done()
		reply <- Reply{
			ImageMap: b.readback(surface, boxes, pixelRatio),
			Version:  version,
		}
	}()
}

type result struct {
	id       string
	artifact types.Artifact
	ok       bool
}

// readback renders every box concurrently and joins before returning
func (b *Bridge) readback(surface *image.NRGBA, boxes []types.CropBox, pixelRatio float64) types.ArtifactMap {
	out := make(types.ArtifactMap, len(boxes))
	if surface == nil {
		return out
	}

	c := extract.SurfaceContainer(surface, pixelRatio)
	toScreen := extract.SurfaceToScreen(surface, c.Ratio())

	results := make(chan result, len(boxes))
	sem := make(chan struct{}, b.config.Concurrency)
	var wg sync.WaitGroup
	for _, box := range boxes {
		wg.Add(1)
		go func(box types.CropBox) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			img, ok := b.extractor.RenderBox(surface, toScreen, box, c)
			if !ok {
				results <- result{id: box.ID}
				return
			}
			a, err := b.extractor.Encode(img)
			results <- result{id: box.ID, artifact: a, ok: err == nil}
		}(box)
	}
	wg.Wait()
	close(results)

	for r := range results {
		if r.ok {
			out[r.id] = r.artifact
		}
	}
	return out
}
