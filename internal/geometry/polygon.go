package geometry

import (
	"math"

	polyclip "github.com/ctessum/polyclip-go"

	"melina-canvas-sync/internal/models"
)

// PolygonSplit holds the result of clipping a polygon against a rect.
// Inside is nil when the polygon does not overlap the rect.
type PolygonSplit struct {
	Inside  []models.Point
	Outside [][]models.Point
}

// SplitPolygonByRect computes the exact intersection and difference of a
// polygon with rect. When the intersection has several disjoint pieces only
// the largest by area is kept, ties resolved by first encountered.
func SplitPolygonByRect(polygon []models.Point, rect models.Rect) PolygonSplit {
	rect = rect.Normalize()
	var out PolygonSplit
	if len(polygon) < 3 || math.Abs(Area(polygon)) < Epsilon {
		return out
	}

	subject := polyclip.Polygon{toContour(polygon)}
	clip := polyclip.Polygon{toContour(rect.Corners())}

	bestArea := 0.0
	for _, pts := range outerContours(subject.Construct(polyclip.INTERSECTION, clip)) {
		if a := math.Abs(Area(pts)); a > bestArea {
			bestArea = a
			out.Inside = pts
		}
	}
	out.Outside = outerContours(subject.Construct(polyclip.DIFFERENCE, clip))
	return out
}

// outerContours converts a clipping result, dropping degenerate contours and
// holes. polyclip reports a hole as a plain contour; it is recognised by
// lying within a larger contour of the same result.
func outerContours(result polyclip.Polygon) [][]models.Point {
	var contours [][]models.Point
	for _, c := range result {
		pts := fromContour(c)
		if len(pts) < 3 || math.Abs(Area(pts)) < Epsilon {
			continue
		}
		contours = append(contours, pts)
	}
	var out [][]models.Point
	for i, c := range contours {
		hole := false
		for j, other := range contours {
			if i != j && math.Abs(Area(other)) > math.Abs(Area(c)) && enclosed(c, other) {
				hole = true
				break
			}
		}
		if !hole {
			out = append(out, c)
		}
	}
	return out
}

// enclosed reports whether every vertex of inner lies in outer or on its
// boundary.
func enclosed(inner, outer []models.Point) bool {
	for _, p := range inner {
		if !onBoundary(p, outer) && !PointInPolygon(p, outer) {
			return false
		}
	}
	return true
}

// PointInPolygon is an even-odd ray cast. Points on the boundary may go
// either way.
func PointInPolygon(p models.Point, polygon []models.Point) bool {
	in := false
	for i, j := 0, len(polygon)-1; i < len(polygon); j, i = i, i+1 {
		a, b := polygon[i], polygon[j]
		if (a.Y > p.Y) != (b.Y > p.Y) && p.X < (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y)+a.X {
			in = !in
		}
	}
	return in
}

func onBoundary(p models.Point, polygon []models.Point) bool {
	for i := range polygon {
		a, b := polygon[i], polygon[(i+1)%len(polygon)]
		if math.Abs(cross(b.Sub(a), p.Sub(a))) > Epsilon*math.Max(1, math.Hypot(b.X-a.X, b.Y-a.Y)) {
			continue
		}
		if p.X >= math.Min(a.X, b.X)-Epsilon && p.X <= math.Max(a.X, b.X)+Epsilon &&
			p.Y >= math.Min(a.Y, b.Y)-Epsilon && p.Y <= math.Max(a.Y, b.Y)+Epsilon {
			return true
		}
	}
	return false
}

// Area is the signed shoelace area of a closed polygon.
func Area(polygon []models.Point) float64 {
	if len(polygon) < 3 {
		return 0
	}
	var sum float64
	for i := range polygon {
		j := (i + 1) % len(polygon)
		sum += polygon[i].X*polygon[j].Y - polygon[j].X*polygon[i].Y
	}
	return sum / 2
}

func toContour(points []models.Point) polyclip.Contour {
	c := make(polyclip.Contour, len(points))
	for i, p := range points {
		c[i] = polyclip.Point{X: p.X, Y: p.Y}
	}
	return c
}

func fromContour(c polyclip.Contour) []models.Point {
	pts := make([]models.Point, 0, len(c))
	for _, p := range c {
		pts = append(pts, models.Point{X: p.X, Y: p.Y})
	}
	if n := len(pts); n > 1 && pts[0].Near(pts[n-1], Epsilon) {
		pts = pts[:n-1]
	}
	return pts
}
