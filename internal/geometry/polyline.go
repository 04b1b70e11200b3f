package geometry

import "melina-canvas-sync/internal/models"

// Split holds the pieces of a polyline on each side of a rect.
type Split struct {
	Inside  [][]models.Point
	Outside [][]models.Point
}

// Empty reports whether neither side has a piece.
func (s Split) Empty() bool { return len(s.Inside) == 0 && len(s.Outside) == 0 }

func (s *Split) addInside(run []models.Point) {
	if degenerateRun(run) {
		return
	}
	s.Inside = append(s.Inside, run)
}

func (s *Split) addOutside(run []models.Point) {
	if degenerateRun(run) {
		return
	}
	s.Outside = append(s.Outside, run)
}

// SplitPolylineByRect walks consecutive point pairs and starts a new
// sub-polyline whenever the inside/outside classification flips, cutting
// the segment at the boundary. Segments with both ends outside that pass
// through the rect are split at both crossings. Runs shorter than two
// points or of zero length are dropped.
func SplitPolylineByRect(points []models.Point, rect models.Rect) Split {
	rect = rect.Normalize()
	var out Split
	if len(points) < 2 {
		return out
	}

	run := []models.Point{points[0]}
	inside := rect.Contains(points[0])
	flush := func() {
		if inside {
			out.addInside(run)
		} else {
			out.addOutside(run)
		}
	}

	for i := 1; i < len(points); i++ {
		a, b := points[i-1], points[i]
		bIn := rect.Contains(b)

		switch {
		case inside == bIn && inside:
			run = append(run, b)
		case inside:
			x := exitPoint(IntersectSegmentWithRect(a, b, rect), a)
			run = appendDistinct(run, x)
			flush()
			run = appendDistinct([]models.Point{x}, b)
			inside = false
		case bIn:
			x := entryPoint(IntersectSegmentWithRect(a, b, rect), b)
			run = appendDistinct(run, x)
			flush()
			run = appendDistinct([]models.Point{x}, b)
			inside = true
		default:
			h1, h2, ok := crossing(IntersectSegmentWithRect(a, b, rect), rect)
			if !ok {
				run = append(run, b)
				continue
			}
			run = appendDistinct(run, h1)
			flush()
			run = []models.Point{h1, h2}
			inside = true
			flush()
			run = appendDistinct([]models.Point{h2}, b)
			inside = false
		}
	}
	flush()
	return out
}

// appendDistinct appends p unless it coincides with the last point. Used
// only for synthetic boundary points so original vertices are preserved.
func appendDistinct(run []models.Point, p models.Point) []models.Point {
	if len(run) > 0 && run[len(run)-1].Near(p, Epsilon) {
		return run
	}
	return append(run, p)
}

func degenerateRun(run []models.Point) bool {
	if len(run) < 2 {
		return true
	}
	for _, p := range run[1:] {
		if !p.Near(run[0], Epsilon) {
			return false
		}
	}
	return true
}
