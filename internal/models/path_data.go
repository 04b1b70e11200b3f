package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

type Tool string

const (
	ToolFreehand Tool = "freehand"
	ToolEraser   Tool = "eraser"
	ToolShape    Tool = "shape"
	ToolCut      Tool = "cut"
	ToolPaste    Tool = "paste"
	ToolErase    Tool = "erase"
	ToolImage    Tool = "image"
)

type ShapeType string

const (
	ShapeRect     ShapeType = "rect"
	ShapeCircle   ShapeType = "circle"
	ShapeHexagon  ShapeType = "hexagon"
	ShapeTriangle ShapeType = "triangle"
	ShapeLine     ShapeType = "line"
	ShapePolygon  ShapeType = "polygon"
)

// circleSegments is the number of edges used when a circle is clipped as a polygon.
const circleSegments = 48

// PathData is the closed set of stroke geometries. Only the types in this
// package implement it.
type PathData interface {
	Tool() Tool
	PointCount() int
	// Bounds returns the min and max corners of the geometry; ok is false
	// for records that carry no drawable geometry.
	Bounds() (min, max Point, ok bool)
	Translate(d Point) PathData
	clone() PathData
}

// Freehand is an ordered point sequence drawn with the pen or the eraser tool.
type Freehand struct {
	Points []Point
	Eraser bool
}

// Shape is either a parametric shape spanning Start..End, or a polygon when
// Type is ShapePolygon.
type Shape struct {
	Type   ShapeType
	Start  Point
	End    Point
	Points []Point
}

// Cut records a cut: originals listed here are never rendered before it.
type Cut struct {
	Rect              Rect
	OriginalStrokeIDs []string
}

// Paste groups the pasted children under one undoable record.
type Paste struct {
	PastedStrokeIDs []string
}

// Erase is an opaque background-coloured stroke produced by a cut so that
// clients without record masking still see the hole.
type Erase struct {
	Points []Point
	Closed bool
}

// Image is a raster placed on the canvas.
type Image struct {
	Src  string
	Rect Rect
}

func (Freehand) Tool() Tool { return ToolFreehand }
func (Shape) Tool() Tool    { return ToolShape }
func (Cut) Tool() Tool      { return ToolCut }
func (Paste) Tool() Tool    { return ToolPaste }
func (Erase) Tool() Tool    { return ToolErase }
func (Image) Tool() Tool    { return ToolImage }

func (f Freehand) PointCount() int { return len(f.Points) }
func (s Shape) PointCount() int {
	if s.Type == ShapePolygon {
		return len(s.Points)
	}
	return 2
}
func (Cut) PointCount() int     { return 0 }
func (Paste) PointCount() int   { return 0 }
func (e Erase) PointCount() int { return len(e.Points) }
func (Image) PointCount() int   { return 0 }

func (f Freehand) Bounds() (Point, Point, bool) { return boundsOf(f.Points) }
func (s Shape) Bounds() (Point, Point, bool)    { return boundsOf(s.Outline()) }
func (Cut) Bounds() (Point, Point, bool)        { return Point{}, Point{}, false }
func (Paste) Bounds() (Point, Point, bool)      { return Point{}, Point{}, false }
func (e Erase) Bounds() (Point, Point, bool)    { return boundsOf(e.Points) }
func (i Image) Bounds() (Point, Point, bool) {
	r := i.Rect.Normalize()
	return Point{X: r.X, Y: r.Y}, Point{X: r.MaxX(), Y: r.MaxY()}, true
}

func (f Freehand) Translate(d Point) PathData {
	return Freehand{Points: Translate(f.Points, d), Eraser: f.Eraser}
}

func (s Shape) Translate(d Point) PathData {
	return Shape{Type: s.Type, Start: s.Start.Add(d), End: s.End.Add(d), Points: Translate(s.Points, d)}
}

func (c Cut) Translate(Point) PathData   { return c.clone() }
func (p Paste) Translate(Point) PathData { return p.clone() }

func (e Erase) Translate(d Point) PathData {
	return Erase{Points: Translate(e.Points, d), Closed: e.Closed}
}

func (i Image) Translate(d Point) PathData {
	r := i.Rect
	r.X += d.X
	r.Y += d.Y
	return Image{Src: i.Src, Rect: r}
}

func (f Freehand) clone() PathData { return Freehand{Points: clonePoints(f.Points), Eraser: f.Eraser} }
func (s Shape) clone() PathData {
	return Shape{Type: s.Type, Start: s.Start, End: s.End, Points: clonePoints(s.Points)}
}
func (c Cut) clone() PathData {
	return Cut{Rect: c.Rect, OriginalStrokeIDs: append([]string(nil), c.OriginalStrokeIDs...)}
}
func (p Paste) clone() PathData {
	return Paste{PastedStrokeIDs: append([]string(nil), p.PastedStrokeIDs...)}
}
func (e Erase) clone() PathData { return Erase{Points: clonePoints(e.Points), Closed: e.Closed} }
func (i Image) clone() PathData { return i }

// Outline returns the shape as a point list. Closed shapes are returned
// without repeating the first vertex; a line returns its two endpoints.
func (s Shape) Outline() []Point {
	switch s.Type {
	case ShapePolygon:
		return clonePoints(s.Points)
	case ShapeLine:
		return []Point{s.Start, s.End}
	case ShapeRect:
		return Rect{X: s.Start.X, Y: s.Start.Y, Width: s.End.X - s.Start.X, Height: s.End.Y - s.Start.Y}.Normalize().Corners()
	case ShapeCircle:
		return regularPolygon(s.Start, s.radius(), circleSegments, 0)
	case ShapeHexagon:
		return regularPolygon(s.Start, s.radius(), 6, 0)
	case ShapeTriangle:
		r := Rect{X: s.Start.X, Y: s.Start.Y, Width: s.End.X - s.Start.X, Height: s.End.Y - s.Start.Y}.Normalize()
		return []Point{
			{X: r.X + r.Width/2, Y: r.Y},
			{X: r.MaxX(), Y: r.MaxY()},
			{X: r.X, Y: r.MaxY()},
		}
	}
	return nil
}

// Closed reports whether the outline is a closed polygon.
func (s Shape) Closed() bool {
	return s.Type != ShapeLine
}

func (s Shape) radius() float64 {
	return math.Hypot(s.End.X-s.Start.X, s.End.Y-s.Start.Y)
}

func regularPolygon(center Point, r float64, n int, rotation float64) []Point {
	out := make([]Point, n)
	step := 2 * math.Pi / float64(n)
	for i := 0; i < n; i++ {
		a := rotation + step*float64(i)
		out[i] = Point{X: center.X + r*math.Cos(a), Y: center.Y + r*math.Sin(a)}
	}
	return out
}

func boundsOf(points []Point) (Point, Point, bool) {
	if len(points) == 0 {
		return Point{}, Point{}, false
	}
	lo, hi := points[0], points[0]
	for _, p := range points[1:] {
		lo.X = math.Min(lo.X, p.X)
		lo.Y = math.Min(lo.Y, p.Y)
		hi.X = math.Max(hi.X, p.X)
		hi.Y = math.Max(hi.Y, p.Y)
	}
	return lo, hi, true
}

type taggedPathData struct {
	Tool              Tool      `json:"tool"`
	Type              ShapeType `json:"type,omitempty"`
	Start             *Point    `json:"start,omitempty"`
	End               *Point    `json:"end,omitempty"`
	Points            []Point   `json:"points,omitempty"`
	Closed            bool      `json:"closed,omitempty"`
	Rect              *Rect     `json:"rect,omitempty"`
	OriginalStrokeIDs []string  `json:"originalStrokeIds,omitempty"`
	PastedStrokeIDs   []string  `json:"pastedStrokeIds,omitempty"`
	Src               string    `json:"src,omitempty"`
}

func marshalPathData(pd PathData) (json.RawMessage, error) {
	switch v := pd.(type) {
	case nil:
		return json.RawMessage("[]"), nil
	case Freehand:
		if v.Eraser {
			return json.Marshal(taggedPathData{Tool: ToolEraser, Points: nonNilPoints(v.Points)})
		}
		return json.Marshal(nonNilPoints(v.Points))
	case Shape:
		if v.Type == ShapePolygon {
			return json.Marshal(taggedPathData{Tool: ToolShape, Type: ShapePolygon, Points: v.Points})
		}
		start, end := v.Start, v.End
		return json.Marshal(taggedPathData{Tool: ToolShape, Type: v.Type, Start: &start, End: &end})
	case Cut:
		r := v.Rect
		return json.Marshal(taggedPathData{Tool: ToolCut, Rect: &r, OriginalStrokeIDs: nonNilIDs(v.OriginalStrokeIDs)})
	case Paste:
		return json.Marshal(taggedPathData{Tool: ToolPaste, PastedStrokeIDs: nonNilIDs(v.PastedStrokeIDs)})
	case Erase:
		return json.Marshal(taggedPathData{Tool: ToolErase, Points: v.Points, Closed: v.Closed})
	case Image:
		r := v.Rect
		return json.Marshal(taggedPathData{Tool: ToolImage, Src: v.Src, Rect: &r})
	}
	return nil, fmt.Errorf("unsupported path data %T", pd)
}

func unmarshalPathData(raw json.RawMessage) (PathData, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Freehand{}, nil
	}
	if raw[0] == '[' {
		var points []Point
		if err := json.Unmarshal(raw, &points); err != nil {
			return nil, fmt.Errorf("invalid freehand path: %w", err)
		}
		return Freehand{Points: points}, nil
	}

	var t taggedPathData
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("invalid path data: %w", err)
	}
	switch t.Tool {
	case ToolFreehand, ToolEraser:
		return Freehand{Points: t.Points, Eraser: t.Tool == ToolEraser}, nil
	case ToolShape:
		if t.Type == ShapePolygon || (t.Type == "" && len(t.Points) > 0) {
			return Shape{Type: ShapePolygon, Points: t.Points}, nil
		}
		if t.Start == nil || t.End == nil {
			return nil, fmt.Errorf("shape %q without start/end", t.Type)
		}
		return Shape{Type: t.Type, Start: *t.Start, End: *t.End}, nil
	case ToolCut:
		if t.Rect == nil {
			return nil, fmt.Errorf("cut record without rect")
		}
		return Cut{Rect: *t.Rect, OriginalStrokeIDs: t.OriginalStrokeIDs}, nil
	case ToolPaste:
		return Paste{PastedStrokeIDs: t.PastedStrokeIDs}, nil
	case ToolErase:
		return Erase{Points: t.Points, Closed: t.Closed}, nil
	case ToolImage:
		img := Image{Src: t.Src}
		if t.Rect != nil {
			img.Rect = *t.Rect
		}
		return img, nil
	}
	return nil, fmt.Errorf("unsupported tool %q", t.Tool)
}

func nonNilPoints(p []Point) []Point {
	if p == nil {
		return []Point{}
	}
	return p
}

func nonNilIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
