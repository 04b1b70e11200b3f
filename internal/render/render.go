// Package render turns a unified stroke view into the ordered list of draw
// commands handed to the presentation layer.
package render

import (
	"sort"

	"melina-canvas-sync/internal/models"
)

// EraseMargin is added around a cut rect so no hairline of a masked stroke survives.
const EraseMargin = 0.5

// BucketSize is the width of a time bucket in the view filter, in ms.
const BucketSize int64 = 5 * 60 * 1000

const background = "#FFFFFF"

type Op string

const (
	// OpPath strokes a polyline, closed or open.
	OpPath Op = "path"
	// OpClear paints a rect with the background.
	OpClear Op = "clear"
	// OpImage draws a raster into a rect.
	OpImage Op = "image"
)

type DrawCommand struct {
	Op        Op             `json:"op"`
	StrokeID  string         `json:"strokeId"`
	Color     string         `json:"color,omitempty"`
	LineWidth float64        `json:"lineWidth,omitempty"`
	Points    []models.Point `json:"points,omitempty"`
	Closed    bool           `json:"closed,omitempty"`
	Erase     bool           `json:"erase,omitempty"`
	Rect      *models.Rect   `json:"rect,omitempty"`
	Src       string         `json:"src,omitempty"`
	Faded     bool           `json:"faded,omitempty"`
}

// ViewFilter highlights one user's strokes, optionally within one time
// bucket. The zero value highlights everything.
type ViewFilter struct {
	User   string `json:"user,omitempty"`
	Bucket *int64 `json:"bucket,omitempty"`
}

func (f ViewFilter) active() bool { return f.User != "" || f.Bucket != nil }

func (f ViewFilter) matches(s models.Stroke) bool {
	if f.User != "" && s.User != f.User {
		return false
	}
	if f.Bucket != nil && BucketOf(s.Timestamp) != *f.Bucket {
		return false
	}
	return true
}

// BucketOf returns the time bucket of a timestamp.
func BucketOf(ts int64) int64 {
	return ts / BucketSize
}

// Render is deterministic: the same view and filter always give the same
// commands. The view is not modified.
func Render(view []models.Stroke, filter ViewFilter) []DrawCommand {
	ordered := sorted(view)
	hidden := hiddenStrokes(ordered)
	present := make(map[string]bool, len(ordered))
	for _, st := range ordered {
		present[st.ID] = true
	}

	cmds := make([]DrawCommand, 0, len(ordered))
	for _, st := range ordered {
		if hidden[st.ID] {
			continue
		}
		faded := filter.active() && !filter.matches(st)

		switch pd := st.PathData.(type) {
		case models.Cut:
			r := pd.Rect.Normalize().Expand(EraseMargin)
			cmds = append(cmds, DrawCommand{Op: OpClear, StrokeID: st.ID, Color: background, Rect: &r})
		case models.Paste:
			// grouping only
		case models.Erase:
			if st.ParentCutID != "" && present[st.ParentCutID] {
				continue
			}
			cmds = append(cmds, DrawCommand{
				Op: OpPath, StrokeID: st.ID, Color: background, LineWidth: st.LineWidth,
				Points: clonePoints(pd.Points), Closed: pd.Closed, Erase: true,
			})
		case models.Freehand:
			cmd := DrawCommand{
				Op: OpPath, StrokeID: st.ID, Color: st.Color, LineWidth: st.LineWidth,
				Points: clonePoints(pd.Points), Faded: faded,
			}
			if pd.Eraser {
				cmd.Color, cmd.Erase, cmd.Faded = background, true, false
			}
			cmds = append(cmds, cmd)
		case models.Shape:
			cmds = append(cmds, DrawCommand{
				Op: OpPath, StrokeID: st.ID, Color: st.Color, LineWidth: st.LineWidth,
				Points: pd.Outline(), Closed: pd.Closed(), Faded: faded,
			})
		case models.Image:
			r := pd.Rect.Normalize()
			cmds = append(cmds, DrawCommand{Op: OpImage, StrokeID: st.ID, Src: pd.Src, Rect: &r, Faded: faded})
		}
	}
	return cmds
}

// Visible returns the drawable strokes a user can see and select: records,
// erase strokes, masked originals and orphans are left out.
func Visible(view []models.Stroke) []models.Stroke {
	ordered := sorted(view)
	hidden := hiddenStrokes(ordered)
	out := make([]models.Stroke, 0, len(ordered))
	for _, st := range ordered {
		if hidden[st.ID] || st.IsRecord() || st.Kind() == models.ToolErase {
			continue
		}
		out = append(out, st)
	}
	return out
}

// Bounds is the box covering every command, and false for an empty frame.
func Bounds(cmds []DrawCommand) (models.Rect, bool) {
	var lo, hi models.Point
	found := false
	grow := func(p models.Point, pad float64) {
		if !found {
			lo, hi, found = models.Point{X: p.X - pad, Y: p.Y - pad}, models.Point{X: p.X + pad, Y: p.Y + pad}, true
			return
		}
		lo.X, lo.Y = min(lo.X, p.X-pad), min(lo.Y, p.Y-pad)
		hi.X, hi.Y = max(hi.X, p.X+pad), max(hi.Y, p.Y+pad)
	}
	for _, c := range cmds {
		for _, p := range c.Points {
			grow(p, c.LineWidth/2)
		}
		if c.Rect != nil {
			for _, p := range c.Rect.Corners() {
				grow(p, 0)
			}
		}
	}
	if !found {
		return models.Rect{}, false
	}
	return models.Rect{X: lo.X, Y: lo.Y, Width: hi.X - lo.X, Height: hi.Y - lo.Y}, true
}

func sorted(view []models.Stroke) []models.Stroke {
	out := append([]models.Stroke(nil), view...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OrderKey() != out[j].OrderKey() {
			return out[i].OrderKey() < out[j].OrderKey()
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// hiddenStrokes finds strokes drawn before a cut that lists them, and
// derived strokes whose record is gone. ordered must be in draw order.
func hiddenStrokes(ordered []models.Stroke) map[string]bool {
	hidden := models.Orphans(ordered)
	cutAt := make(map[string]int)
	for i, st := range ordered {
		cut, ok := st.PathData.(models.Cut)
		if !ok || hidden[st.ID] {
			continue
		}
		for _, id := range cut.OriginalStrokeIDs {
			if _, seen := cutAt[id]; !seen {
				cutAt[id] = i
			}
		}
	}
	for i, st := range ordered {
		if at, ok := cutAt[st.ID]; ok && i < at {
			hidden[st.ID] = true
		}
	}
	return hidden
}

func clonePoints(p []models.Point) []models.Point {
	return append([]models.Point(nil), p...)
}
