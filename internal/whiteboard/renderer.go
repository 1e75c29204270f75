// Package whiteboard draws mentor annotations onto one or more canvases.
package whiteboard

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/mentor/internal/domain"
)

// Canvas is a drawing surface. Implementations guard their own state.
type Canvas interface {
	// Stroke draws a polyline through points in order, with round caps.
	Stroke(points []domain.Point, color string, width float64)
	// Dot draws a filled circle.
	Dot(at domain.Point, radius float64, color string)
	Clear()
}

type Renderer struct {
	mu      sync.Mutex
	canvas  Canvas
	applied int
}

func NewRenderer(c Canvas) *Renderer {
	return &Renderer{canvas: c}
}

// Apply draws a single annotation. Invalid annotations are rejected and
// leave the canvas untouched.
func (r *Renderer) Apply(a domain.Annotation) error {
	if err := a.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	switch a.Kind {
	case domain.AnnotationDraw:
		r.canvas.Stroke(a.Points, a.StrokeColor(), a.StrokeWidth())
	case domain.AnnotationPointer:
		r.canvas.Dot(a.At, domain.PointerRadius, a.StrokeColor())
	}
	r.applied++
	log.Debug().Str("module", "whiteboard").Str("kind", string(a.Kind)).Int("applied", r.applied).Msg("annotation drawn")
	return nil
}

// Clear wipes the board. It is the only way marks are removed.
func (r *Renderer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.canvas.Clear()
	r.applied = 0
}

// Applied counts annotations drawn since the last Clear.
func (r *Renderer) Applied() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applied
}

// MultiCanvas mirrors every call onto all of its canvases.
type MultiCanvas []Canvas

func (m MultiCanvas) Stroke(points []domain.Point, color string, width float64) {
	for _, c := range m {
		c.Stroke(points, color, width)
	}
}

func (m MultiCanvas) Dot(at domain.Point, radius float64, color string) {
	for _, c := range m {
		c.Dot(at, radius, color)
	}
}

func (m MultiCanvas) Clear() {
	for _, c := range m {
		c.Clear()
	}
}
