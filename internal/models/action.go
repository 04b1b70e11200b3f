package models

type ActionKind string

const (
	ActionSimple         ActionKind = "simple"
	ActionCompositeCut   ActionKind = "composite-cut"
	ActionCompositePaste ActionKind = "composite-paste"
)

// Action is a logical undo/redo entry. BackendCount is the number of
// backend undo slots it consumes.
type Action interface {
	Kind() ActionKind
	BackendCount() int
	// StrokeIDs lists every stroke the action added to the view.
	StrokeIDs() []string
}

// SimpleAction wraps exactly one user stroke.
type SimpleAction struct {
	Stroke Stroke
}

// CutAction is a composite cut. Only the cut record occupies a backend slot;
// erase strokes and replacement segments ride along with it.
type CutAction struct {
	CutRecord           Stroke
	AffectedDrawings    []Stroke
	ReplacementSegments map[string][]Stroke
	EraseStrokes        []Stroke
}

// PasteAction is a composite paste. Children are submitted with
// skipUndoStack so the paste record is the only backend slot.
type PasteAction struct {
	PasteRecord    Stroke
	PastedDrawings []Stroke
}

func (SimpleAction) Kind() ActionKind { return ActionSimple }
func (CutAction) Kind() ActionKind    { return ActionCompositeCut }
func (PasteAction) Kind() ActionKind  { return ActionCompositePaste }

func (SimpleAction) BackendCount() int { return 1 }
func (CutAction) BackendCount() int    { return 1 }
func (PasteAction) BackendCount() int  { return 1 }

func (a SimpleAction) StrokeIDs() []string { return []string{a.Stroke.ID} }

func (a CutAction) StrokeIDs() []string {
	ids := []string{a.CutRecord.ID}
	ids = append(ids, StrokeIDs(a.Replacements())...)
	return append(ids, StrokeIDs(a.EraseStrokes)...)
}

func (a PasteAction) StrokeIDs() []string {
	return append([]string{a.PasteRecord.ID}, StrokeIDs(a.PastedDrawings)...)
}

// Replacements flattens the replacement segments in the order of AffectedDrawings.
func (a CutAction) Replacements() []Stroke {
	var out []Stroke
	for _, orig := range a.AffectedDrawings {
		out = append(out, a.ReplacementSegments[orig.ID]...)
	}
	return out
}

// Added returns every stroke the cut put into the view.
func (a CutAction) Added() []Stroke {
	out := []Stroke{a.CutRecord}
	out = append(out, a.EraseStrokes...)
	return append(out, a.Replacements()...)
}

// Added returns the paste record followed by its children.
func (a PasteAction) Added() []Stroke {
	return append([]Stroke{a.PasteRecord}, a.PastedDrawings...)
}
