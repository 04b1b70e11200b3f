// Package geometry implements rectangle clipping of polylines, segments and
// polygons. Every function is pure.
package geometry

import (
	"math"
	"sort"

	"melina-canvas-sync/internal/models"
)

const (
	// Epsilon is the coordinate tolerance for degenerate pieces.
	Epsilon = 1e-9
	// tEpsilon deduplicates intersections along a segment.
	tEpsilon = 1e-7
)

// Hit is a boundary crossing at parameter T along a segment.
type Hit struct {
	T     float64
	Point models.Point
}

// IntersectSegmentWithRect returns the crossings of p1->p2 with the four
// edges of rect, sorted by T and deduplicated within tEpsilon. Edges that are
// collinear with the segment contribute no hits.
func IntersectSegmentWithRect(p1, p2 models.Point, rect models.Rect) []Hit {
	rect = rect.Normalize()
	c := rect.Corners()
	edges := [4][2]models.Point{{c[0], c[1]}, {c[1], c[2]}, {c[2], c[3]}, {c[3], c[0]}}

	var hits []Hit
	for _, e := range edges {
		if t, ok := segmentIntersection(p1, p2, e[0], e[1]); ok {
			hits = append(hits, Hit{T: t, Point: lerp(p1, p2, t)})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].T < hits[j].T })

	out := hits[:0]
	for _, h := range hits {
		if len(out) > 0 && math.Abs(h.T-out[len(out)-1].T) <= tEpsilon {
			continue
		}
		out = append(out, h)
	}
	return out
}

// segmentIntersection returns t along p1->p2 where it meets q1->q2.
func segmentIntersection(p1, p2, q1, q2 models.Point) (float64, bool) {
	d := p2.Sub(p1)
	e := q2.Sub(q1)
	denom := cross(d, e)
	if math.Abs(denom) < Epsilon {
		return 0, false
	}
	w := q1.Sub(p1)
	t := cross(w, e) / denom
	u := cross(w, d) / denom
	if t < -tEpsilon || t > 1+tEpsilon || u < -tEpsilon || u > 1+tEpsilon {
		return 0, false
	}
	return clamp01(t), true
}

// SplitLineSegmentByRect splits a two-point line into inside and outside
// pieces, handling zero, one or two boundary crossings.
func SplitLineSegmentByRect(a, b models.Point, rect models.Rect) Split {
	rect = rect.Normalize()
	var out Split
	aIn, bIn := rect.Contains(a), rect.Contains(b)
	hits := IntersectSegmentWithRect(a, b, rect)

	switch {
	case aIn && bIn:
		out.addInside([]models.Point{a, b})
	case aIn:
		x := exitPoint(hits, a)
		out.addInside([]models.Point{a, x})
		out.addOutside([]models.Point{x, b})
	case bIn:
		x := entryPoint(hits, b)
		out.addOutside([]models.Point{a, x})
		out.addInside([]models.Point{x, b})
	default:
		if h1, h2, ok := crossing(hits, rect); ok {
			out.addOutside([]models.Point{a, h1})
			out.addInside([]models.Point{h1, h2})
			out.addOutside([]models.Point{h2, b})
		} else {
			out.addOutside([]models.Point{a, b})
		}
	}
	return out
}

// exitPoint is where a segment starting inside leaves the rect.
func exitPoint(hits []Hit, fallback models.Point) models.Point {
	if len(hits) == 0 {
		return fallback
	}
	return hits[len(hits)-1].Point
}

// entryPoint is where a segment ending inside enters the rect.
func entryPoint(hits []Hit, fallback models.Point) models.Point {
	if len(hits) == 0 {
		return fallback
	}
	return hits[0].Point
}

// crossing detects a segment with both endpoints outside that passes
// through the rect interior.
func crossing(hits []Hit, rect models.Rect) (models.Point, models.Point, bool) {
	if len(hits) < 2 {
		return models.Point{}, models.Point{}, false
	}
	h1, h2 := hits[0], hits[len(hits)-1]
	if h2.T-h1.T <= tEpsilon {
		return models.Point{}, models.Point{}, false
	}
	if !rect.Contains(lerp(h1.Point, h2.Point, 0.5)) {
		return models.Point{}, models.Point{}, false
	}
	return h1.Point, h2.Point, true
}

func cross(a, b models.Point) float64 { return a.X*b.Y - a.Y*b.X }

func lerp(a, b models.Point, t float64) models.Point {
	return models.Point{X: a.X + (b.X-a.X)*t, Y: a.Y + (b.Y-a.Y)*t}
}

func clamp01(t float64) float64 {
	return math.Max(0, math.Min(1, t))
}
