// Package export draws a rendered frame into PDF or PNG documents.
package export

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/gogpu/gg"

	"melina-canvas-sync/internal/models"
	"melina-canvas-sync/internal/render"
)

type Format string

const (
	FormatPDF Format = "pdf"
	FormatPNG Format = "png"
)

// ParseFormat accepts a format name or a file name ending in one.
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(s)
	switch {
	case s == "pdf" || strings.HasSuffix(s, ".pdf"):
		return FormatPDF, nil
	case s == "png" || strings.HasSuffix(s, ".png"):
		return FormatPNG, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

func (f Format) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "image/png"
}

const (
	padding     = 16
	maxSide     = 4096
	fadedAlpha  = 0.25
	emptyWidth  = 800
	emptyHeight = 600
)

// frame maps canvas coordinates onto the output page.
type frame struct {
	origin models.Point
	scale  float64
	width  float64
	height float64
}

func newFrame(cmds []render.DrawCommand) frame {
	bounds, ok := render.Bounds(cmds)
	if !ok {
		return frame{scale: 1, width: emptyWidth, height: emptyHeight}
	}
	f := frame{
		origin: models.Point{X: bounds.X - padding, Y: bounds.Y - padding},
		scale:  1,
		width:  bounds.Width + 2*padding,
		height: bounds.Height + 2*padding,
	}
	if side := math.Max(f.width, f.height); side > maxSide {
		f.scale = maxSide / side
		f.width *= f.scale
		f.height *= f.scale
	}
	return f
}

func (f frame) point(p models.Point) (float64, float64) {
	return (p.X - f.origin.X) * f.scale, (p.Y - f.origin.Y) * f.scale
}

func (f frame) rect(r models.Rect) (x, y, w, h float64) {
	x, y = f.point(models.Point{X: r.X, Y: r.Y})
	return x, y, r.Width * f.scale, r.Height * f.scale
}

// Write encodes cmds in the given format.
func Write(w io.Writer, format Format, cmds []render.DrawCommand, title string) error {
	switch format {
	case FormatPDF:
		return PDF(w, cmds, title)
	case FormatPNG:
		return PNG(w, cmds)
	}
	return fmt.Errorf("unsupported export format %q", format)
}

// PNG rasterizes the frame on a white background.
func PNG(w io.Writer, cmds []render.DrawCommand) error {
	f := newFrame(cmds)
	dc := gg.NewContext(int(math.Ceil(f.width)), int(math.Ceil(f.height)))
	defer dc.Close()

	dc.ClearWithColor(gg.White)
	dc.SetLineCap(gg.LineCapRound)
	dc.SetLineJoin(gg.LineJoinRound)

	for _, c := range cmds {
		if err := drawPNG(dc, f, c); err != nil {
			return fmt.Errorf("draw %s: %w", c.StrokeID, err)
		}
	}
	return dc.EncodePNG(w)
}

func drawPNG(dc *gg.Context, f frame, c render.DrawCommand) error {
	switch c.Op {
	case render.OpClear:
		dc.SetRGBA(1, 1, 1, 1)
		dc.DrawRectangle(f.rect(*c.Rect))
		return dc.Fill()
	case render.OpImage:
		dc.SetRGBA(0.8, 0.8, 0.8, alpha(c))
		dc.SetLineWidth(1)
		dc.DrawRectangle(f.rect(*c.Rect))
		return dc.Stroke()
	case render.OpPath:
		if len(c.Points) == 0 {
			return nil
		}
		col := gg.Hex(c.Color)
		dc.SetRGBA(col.R, col.G, col.B, alpha(c))
		width := c.LineWidth * f.scale
		if len(c.Points) == 1 {
			x, y := f.point(c.Points[0])
			dc.DrawCircle(x, y, width/2)
			return dc.Fill()
		}
		dc.SetLineWidth(width)
		dc.MoveTo(f.point(c.Points[0]))
		for _, p := range c.Points[1:] {
			dc.LineTo(f.point(p))
		}
		if c.Closed {
			dc.ClosePath()
		}
		return dc.Stroke()
	}
	return nil
}

func alpha(c render.DrawCommand) float64 {
	if c.Faded {
		return fadedAlpha
	}
	return 1
}

// rgb255 converts a hex color to 0-255 channels.
func rgb255(hex string) (int, int, int) {
	col := gg.Hex(hex)
	return int(math.Round(col.R * 255)), int(math.Round(col.G * 255)), int(math.Round(col.B * 255))
}
