// Package cutpaste turns a rectangular selection into replacement strokes,
// clipboard content and the records that make the operation undoable.
package cutpaste

import (
	"math"

	"github.com/google/uuid"

	"melina-canvas-sync/internal/geometry"
	"melina-canvas-sync/internal/models"
)

const (
	EraseColor       = "#FFFFFF"
	eraseWidthMargin = 4
)

type Engine struct {
	clock *models.Clock
	newID func() string
}

func New(clock *models.Clock) *Engine {
	if clock == nil {
		clock = models.NewClock()
	}
	return &Engine{clock: clock, newID: uuid.NewString}
}

// CutResult is everything a cut produces. UpdatedStrokes is the input with
// every affected stroke swapped for its replacement segments.
type CutResult struct {
	UpdatedStrokes []models.Stroke
	Untouched      []models.Stroke
	Affected       []models.Stroke
	Replacements   map[string][]models.Stroke
	Clipboard      []models.Stroke
	EraseStrokes   []models.Stroke
	CutRecord      models.Stroke
	Action         models.CutAction
}

// Empty reports a selection that touched nothing; such a cut has no record.
func (r CutResult) Empty() bool { return len(r.Affected) == 0 }

// Derived returns the strokes submitted without an undo slot, erase strokes
// first.
func (r CutResult) Derived() []models.Stroke {
	out := append([]models.Stroke(nil), r.EraseStrokes...)
	return append(out, r.Action.Replacements()...)
}

// pieces is the split of one stroke.
type pieces struct {
	inside  []models.PathData
	outside []models.PathData
	closed  bool
}

// PerformCut splits strokes against sel. Records, erase strokes and images
// are never cut.
func (e *Engine) PerformCut(sel models.Rect, strokes []models.Stroke, user, roomID string) CutResult {
	sel = sel.Normalize()
	res := CutResult{Replacements: make(map[string][]models.Stroke)}

	split := make(map[string]pieces)
	for _, st := range strokes {
		p, ok := splitStroke(st, sel)
		if !ok || len(p.inside) == 0 {
			res.Untouched = append(res.Untouched, st)
			continue
		}
		res.Affected = append(res.Affected, st)
		split[st.ID] = p
	}
	if res.Empty() {
		res.UpdatedStrokes = strokes
		return res
	}

	res.CutRecord = models.Stroke{
		ID:        e.newID(),
		PathData:  models.Cut{Rect: sel, OriginalStrokeIDs: models.StrokeIDs(res.Affected)},
		Timestamp: e.clock.Tick(),
		User:      user,
		RoomID:    roomID,
	}

	for _, orig := range res.Affected {
		for _, pd := range split[orig.ID].inside {
			res.EraseStrokes = append(res.EraseStrokes, e.eraseFor(orig, pd, split[orig.ID].closed, res.CutRecord.ID))
		}
	}
	for _, orig := range res.Affected {
		p := split[orig.ID]
		for _, pd := range p.outside {
			res.Replacements[orig.ID] = append(res.Replacements[orig.ID], e.derive(orig, pd, res.CutRecord.ID))
		}
		for _, pd := range p.inside {
			res.Clipboard = append(res.Clipboard, e.derive(orig, pd, ""))
		}
	}

	for _, st := range strokes {
		if _, ok := split[st.ID]; ok {
			res.UpdatedStrokes = append(res.UpdatedStrokes, res.Replacements[st.ID]...)
			continue
		}
		res.UpdatedStrokes = append(res.UpdatedStrokes, st)
	}

	res.Action = models.CutAction{
		CutRecord:           res.CutRecord,
		AffectedDrawings:    models.CloneStrokes(res.Affected),
		ReplacementSegments: res.Replacements,
		EraseStrokes:        res.EraseStrokes,
	}
	return res
}

func (e *Engine) derive(orig models.Stroke, pd models.PathData, parentCut string) models.Stroke {
	return models.Stroke{
		ID:          e.newID(),
		Color:       orig.Color,
		LineWidth:   orig.LineWidth,
		PathData:    pd,
		Timestamp:   e.clock.Tick(),
		User:        orig.User,
		RoomID:      orig.RoomID,
		ParentCutID: parentCut,
	}
}

func (e *Engine) eraseFor(orig models.Stroke, inside models.PathData, closed bool, parentCut string) models.Stroke {
	var pts []models.Point
	switch v := inside.(type) {
	case models.Freehand:
		pts = v.Points
	case models.Shape:
		pts = v.Outline()
	}
	return models.Stroke{
		ID:          e.newID(),
		Color:       EraseColor,
		LineWidth:   orig.LineWidth + eraseWidthMargin,
		PathData:    models.Erase{Points: pts, Closed: closed},
		Timestamp:   e.clock.Tick(),
		User:        orig.User,
		RoomID:      orig.RoomID,
		ParentCutID: parentCut,
	}
}

// splitStroke dispatches on the geometry. ok is false for strokes a cut
// leaves alone.
func splitStroke(st models.Stroke, sel models.Rect) (pieces, bool) {
	var p pieces
	switch pd := st.PathData.(type) {
	case models.Freehand:
		s := geometry.SplitPolylineByRect(pd.Points, sel)
		for _, run := range s.Inside {
			p.inside = append(p.inside, models.Freehand{Points: run, Eraser: pd.Eraser})
		}
		for _, run := range s.Outside {
			p.outside = append(p.outside, models.Freehand{Points: run, Eraser: pd.Eraser})
		}
	case models.Shape:
		if !pd.Closed() {
			s := geometry.SplitLineSegmentByRect(pd.Start, pd.End, sel)
			for _, run := range s.Inside {
				p.inside = append(p.inside, models.Shape{Type: models.ShapeLine, Start: run[0], End: run[len(run)-1]})
			}
			for _, run := range s.Outside {
				p.outside = append(p.outside, models.Shape{Type: models.ShapeLine, Start: run[0], End: run[len(run)-1]})
			}
			return p, true
		}
		p.closed = true
		outline := pd.Outline()
		// shapes are drawn as outlines: a selection that misses the ink,
		// such as one inside a hollow rect, leaves the shape alone
		if len(outline) == 0 || len(geometry.SplitPolylineByRect(append(outline, outline[0]), sel).Inside) == 0 {
			return p, true
		}
		s := geometry.SplitPolygonByRect(outline, sel)
		if s.Inside != nil {
			p.inside = append(p.inside, models.Shape{Type: models.ShapePolygon, Points: s.Inside})
		}
		for _, poly := range s.Outside {
			p.outside = append(p.outside, models.Shape{Type: models.ShapePolygon, Points: poly})
		}
	default:
		return p, false
	}
	return p, true
}

// PasteResult holds the translated children and the record grouping them.
type PasteResult struct {
	Pasted []models.Stroke
	Record models.Stroke
}

func (r PasteResult) Empty() bool { return len(r.Pasted) == 0 }

// Action is the undo entry for the paste.
func (r PasteResult) Action() models.PasteAction {
	return models.PasteAction{PasteRecord: r.Record, PastedDrawings: r.Pasted}
}

// PerformPaste places a copy of clip so that its bounding box starts at anchor.
func (e *Engine) PerformPaste(clip []models.Stroke, anchor models.Point, user, roomID string) PasteResult {
	var res PasteResult
	origin, ok := minCorner(clip)
	if !ok {
		return res
	}
	d := anchor.Sub(origin)

	res.Record = models.Stroke{
		ID:        e.newID(),
		Timestamp: e.clock.Tick(),
		User:      user,
		RoomID:    roomID,
	}
	for _, st := range clip {
		if st.IsRecord() || st.PathData == nil {
			continue
		}
		res.Pasted = append(res.Pasted, models.Stroke{
			ID:            e.newID(),
			Color:         st.Color,
			LineWidth:     st.LineWidth,
			PathData:      st.PathData.Translate(d),
			Timestamp:     e.clock.Tick(),
			User:          user,
			RoomID:        roomID,
			ParentPasteID: res.Record.ID,
		})
	}
	res.Record.PathData = models.Paste{PastedStrokeIDs: models.StrokeIDs(res.Pasted)}
	return res
}

// Keep narrows the result to the children whose ids are listed, for a paste
// where some submissions failed.
func (r PasteResult) Keep(ids []string) PasteResult {
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	out := PasteResult{Record: r.Record.Clone()}
	for _, st := range r.Pasted {
		if keep[st.ID] {
			out.Pasted = append(out.Pasted, st)
		}
	}
	out.Record.PathData = models.Paste{PastedStrokeIDs: models.StrokeIDs(out.Pasted)}
	return out
}

// minCorner is the top-left corner of the bounding box of every drawable
// stroke in clip.
func minCorner(clip []models.Stroke) (models.Point, bool) {
	var lo models.Point
	found := false
	for _, st := range clip {
		if st.PathData == nil {
			continue
		}
		corner, _, ok := st.PathData.Bounds()
		if !ok {
			continue
		}
		if !found {
			lo, found = corner, true
			continue
		}
		lo.X = math.Min(lo.X, corner.X)
		lo.Y = math.Min(lo.Y, corner.Y)
	}
	return lo, found
}
