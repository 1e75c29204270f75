package whiteboard

import (
	"image"
	"image/draw"
	"io"
	"sync"

	"github.com/fogleman/gg"

	"github.com/dkeye/mentor/internal/domain"
)

const background = "#ffffff"

// RasterCanvas renders into an in-memory RGBA image.
type RasterCanvas struct {
	mu sync.Mutex
	dc *gg.Context
}

func NewRasterCanvas(width, height int) *RasterCanvas {
	c := &RasterCanvas{dc: gg.NewContext(width, height)}
	c.Clear()
	return c
}

func (c *RasterCanvas) Stroke(points []domain.Point, color string, width float64) {
	if len(points) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dc.SetHexColor(color)
	c.dc.SetLineWidth(width)
	c.dc.SetLineCap(gg.LineCapRound)
	c.dc.SetLineJoin(gg.LineJoinRound)
	c.dc.MoveTo(points[0].X, points[0].Y)
	for _, p := range points[1:] {
		c.dc.LineTo(p.X, p.Y)
	}
	if len(points) == 1 {
		// a single point still leaves a round mark
		c.dc.Stroke()
		c.dc.DrawCircle(points[0].X, points[0].Y, width/2)
		c.dc.Fill()
		return
	}
	c.dc.Stroke()
}

func (c *RasterCanvas) Dot(at domain.Point, radius float64, color string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dc.SetHexColor(color)
	c.dc.DrawCircle(at.X, at.Y, radius)
	c.dc.Fill()
}

func (c *RasterCanvas) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dc.SetHexColor(background)
	c.dc.Clear()
}

// Image returns a snapshot of the current board.
func (c *RasterCanvas) Image() image.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	src := c.dc.Image()
	out := image.NewRGBA(src.Bounds())
	draw.Draw(out, out.Bounds(), src, src.Bounds().Min, draw.Src)
	return out
}

func (c *RasterCanvas) EncodePNG(w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dc.EncodePNG(w)
}
