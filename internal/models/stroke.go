package models

import (
	"encoding/json"
	"fmt"
)

// Stroke is the atomic unit persisted in a room's stroke log.
type Stroke struct {
	ID            string   `json:"id"`
	Color         string   `json:"color"`
	LineWidth     float64  `json:"lineWidth"`
	PathData      PathData `json:"-"`
	Timestamp     int64    `json:"timestamp"`
	Order         int64    `json:"order,omitempty"`
	User          string   `json:"user"`
	RoomID        string   `json:"roomId"`
	ParentPasteID string   `json:"parentPasteId,omitempty"`
	ParentCutID   string   `json:"parentCutId,omitempty"`
}

// OrderKey is the causal draw order of the stroke.
func (s Stroke) OrderKey() int64 {
	if s.Order != 0 {
		return s.Order
	}
	return s.Timestamp
}

// Kind returns the tool of the stroke's path data.
func (s Stroke) Kind() Tool {
	if s.PathData == nil {
		return ToolFreehand
	}
	return s.PathData.Tool()
}

// PointCount is used by heuristic identity matching.
func (s Stroke) PointCount() int {
	if s.PathData == nil {
		return 0
	}
	return s.PathData.PointCount()
}

// Clone returns a deep copy so callers never share backing arrays with a store.
func (s Stroke) Clone() Stroke {
	if s.PathData != nil {
		s.PathData = s.PathData.clone()
	}
	return s
}

// IsRecord reports whether the stroke is a cut or paste record rather than drawable geometry.
func (s Stroke) IsRecord() bool {
	switch s.PathData.(type) {
	case Cut, Paste:
		return true
	}
	return false
}

// Parent returns the id of the cut or paste record the stroke was derived
// from, or "" for a user stroke.
func (s Stroke) Parent() string {
	if s.ParentCutID != "" {
		return s.ParentCutID
	}
	return s.ParentPasteID
}

// Orphans returns the ids of derived strokes whose parent record is not in
// strokes. Such strokes belong to an undone cut or paste and are not drawn.
func Orphans(strokes []Stroke) map[string]bool {
	present := make(map[string]bool, len(strokes))
	for _, st := range strokes {
		present[st.ID] = true
	}
	orphans := make(map[string]bool)
	for _, st := range strokes {
		if p := st.Parent(); p != "" && !present[p] {
			orphans[st.ID] = true
		}
	}
	return orphans
}

type strokeJSON struct {
	ID            string          `json:"id"`
	Color         string          `json:"color"`
	LineWidth     float64         `json:"lineWidth"`
	PathData      json.RawMessage `json:"pathData"`
	Timestamp     int64           `json:"timestamp"`
	Order         int64           `json:"order,omitempty"`
	User          string          `json:"user"`
	RoomID        string          `json:"roomId"`
	ParentPasteID string          `json:"parentPasteId,omitempty"`
	ParentCutID   string          `json:"parentCutId,omitempty"`
}

func (s Stroke) MarshalJSON() ([]byte, error) {
	raw, err := marshalPathData(s.PathData)
	if err != nil {
		return nil, err
	}
	return json.Marshal(strokeJSON{
		ID:            s.ID,
		Color:         s.Color,
		LineWidth:     s.LineWidth,
		PathData:      raw,
		Timestamp:     s.Timestamp,
		Order:         s.Order,
		User:          s.User,
		RoomID:        s.RoomID,
		ParentPasteID: s.ParentPasteID,
		ParentCutID:   s.ParentCutID,
	})
}

func (s *Stroke) UnmarshalJSON(data []byte) error {
	var wire strokeJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	pd, err := unmarshalPathData(wire.PathData)
	if err != nil {
		return fmt.Errorf("stroke %s: %w", wire.ID, err)
	}
	*s = Stroke{
		ID:            wire.ID,
		Color:         wire.Color,
		LineWidth:     wire.LineWidth,
		PathData:      pd,
		Timestamp:     wire.Timestamp,
		Order:         wire.Order,
		User:          wire.User,
		RoomID:        wire.RoomID,
		ParentPasteID: wire.ParentPasteID,
		ParentCutID:   wire.ParentCutID,
	}
	return nil
}

// CloneStrokes deep-copies a slice of strokes.
func CloneStrokes(in []Stroke) []Stroke {
	if in == nil {
		return nil
	}
	out := make([]Stroke, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}

// StrokeIDs returns the ids of strokes in order.
func StrokeIDs(in []Stroke) []string {
	ids := make([]string, len(in))
	for i, s := range in {
		ids[i] = s.ID
	}
	return ids
}
