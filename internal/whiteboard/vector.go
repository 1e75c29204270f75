package whiteboard

import (
	"fmt"
	"io"
	"math"
	"sync"

	svg "github.com/ajstarks/svgo"

	"github.com/dkeye/mentor/internal/domain"
)

type shape struct {
	points []domain.Point
	radius float64 // > 0 for dots
	color  string
	width  float64
}

// VectorCanvas records shapes and renders them as SVG on demand.
type VectorCanvas struct {
	width, height int

	mu     sync.Mutex
	shapes []shape
}

func NewVectorCanvas(width, height int) *VectorCanvas {
	return &VectorCanvas{width: width, height: height}
}

func (c *VectorCanvas) Stroke(points []domain.Point, color string, width float64) {
	if len(points) == 0 {
		return
	}
	c.mu.Lock()
	c.shapes = append(c.shapes, shape{points: append([]domain.Point(nil), points...), color: color, width: width})
	c.mu.Unlock()
}

func (c *VectorCanvas) Dot(at domain.Point, radius float64, color string) {
	c.mu.Lock()
	c.shapes = append(c.shapes, shape{points: []domain.Point{at}, radius: radius, color: color})
	c.mu.Unlock()
}

func (c *VectorCanvas) Clear() {
	c.mu.Lock()
	c.shapes = nil
	c.mu.Unlock()
}

func (c *VectorCanvas) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.shapes)
}

func (c *VectorCanvas) WriteSVG(w io.Writer) {
	c.mu.Lock()
	shapes := append([]shape(nil), c.shapes...)
	c.mu.Unlock()

	canvas := svg.New(w)
	canvas.Start(c.width, c.height)
	canvas.Rect(0, 0, c.width, c.height, "fill:"+background)
	for _, s := range shapes {
		if s.radius > 0 {
			p := s.points[0]
			canvas.Circle(round(p.X), round(p.Y), round(s.radius), "fill:"+s.color)
			continue
		}
		xs := make([]int, len(s.points))
		ys := make([]int, len(s.points))
		for i, p := range s.points {
			xs[i], ys[i] = round(p.X), round(p.Y)
		}
		canvas.Polyline(xs, ys, fmt.Sprintf(
			"fill:none;stroke:%s;stroke-width:%g;stroke-linecap:round;stroke-linejoin:round", s.color, s.width))
	}
	canvas.End()
}

func round(v float64) int { return int(math.Round(v)) }
