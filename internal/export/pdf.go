package export

import (
	"fmt"
	"io"

	"github.com/jung-kurt/gofpdf"

	"melina-canvas-sync/internal/render"
)

// PDF writes the frame as a single page sized to the drawing, in points.
func PDF(w io.Writer, cmds []render.DrawCommand, title string) error {
	f := newFrame(cmds)
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr: "pt",
		Size:    gofpdf.SizeType{Wd: f.width, Ht: f.height},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	if title != "" {
		pdf.SetTitle(title, true)
	}
	pdf.AddPage()
	pdf.SetLineCapStyle("round")
	pdf.SetLineJoinStyle("round")

	for _, c := range cmds {
		drawPDF(pdf, f, c)
	}
	if err := pdf.Error(); err != nil {
		return fmt.Errorf("build pdf: %w", err)
	}
	return pdf.Output(w)
}

func drawPDF(pdf *gofpdf.Fpdf, f frame, c render.DrawCommand) {
	if c.Faded {
		pdf.SetAlpha(fadedAlpha, "Normal")
		defer pdf.SetAlpha(1, "Normal")
	}
	switch c.Op {
	case render.OpClear:
		pdf.SetFillColor(255, 255, 255)
		x, y, w, h := f.rect(*c.Rect)
		pdf.Rect(x, y, w, h, "F")
	case render.OpImage:
		pdf.SetDrawColor(200, 200, 200)
		pdf.SetLineWidth(1)
		x, y, w, h := f.rect(*c.Rect)
		pdf.Rect(x, y, w, h, "D")
	case render.OpPath:
		if len(c.Points) == 0 {
			return
		}
		r, g, b := rgb255(c.Color)
		width := c.LineWidth * f.scale
		if len(c.Points) == 1 {
			pdf.SetFillColor(r, g, b)
			x, y := f.point(c.Points[0])
			pdf.Circle(x, y, width/2, "F")
			return
		}
		pdf.SetDrawColor(r, g, b)
		pdf.SetLineWidth(width)
		pdf.MoveTo(f.point(c.Points[0]))
		for _, p := range c.Points[1:] {
			pdf.LineTo(f.point(p))
		}
		if c.Closed {
			pdf.ClosePath()
		}
		pdf.DrawPath("D")
	}
}
