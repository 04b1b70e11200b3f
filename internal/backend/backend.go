// Package backend defines the collaborators of the authoritative stroke log
// and ships an HTTP client, a realtime event stream and an in-memory log.
package backend

import (
	"context"

	"melina-canvas-sync/internal/models"
)

type Status string

const (
	StatusOK      Status = "ok"
	StatusSuccess Status = "success"
	StatusNoop    Status = "noop"
	StatusError   Status = "error"
)

// Changed reports whether the backend applied the operation.
func (s Status) Changed() bool {
	return s == StatusOK || s == StatusSuccess
}

// Result is the reply to an undo or redo call.
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

type SubmitOptions struct {
	SkipUndoStack bool
}

// Availability is the backend's own view of the caller's history.
type Availability struct {
	CanUndo bool `json:"canUndo"`
	CanRedo bool `json:"canRedo"`
}

type Fetcher interface {
	FetchStrokes(ctx context.Context, roomID string, rng *models.TimeRange) ([]models.Stroke, error)
}

type Submitter interface {
	SubmitStroke(ctx context.Context, roomID string, stroke models.Stroke, opts SubmitOptions) error
}

type History interface {
	Undo(ctx context.Context, roomID string) (Result, error)
	Redo(ctx context.Context, roomID string) (Result, error)
	HistoryStatus(ctx context.Context, roomID string) (Availability, error)
}

type Clearer interface {
	ClearRoom(ctx context.Context, roomID string) (int64, error)
}

// Client is the full set of calls the engine makes upstream. Each client
// acts on behalf of a single user.
type Client interface {
	Fetcher
	Submitter
	History
	Clearer
}

type EventType string

const (
	EventNewStroke     EventType = "new_stroke"
	EventStrokeUndone  EventType = "stroke_undone"
	EventStrokeRedone  EventType = "stroke_redone"
	EventCanvasCleared EventType = "canvas_cleared"
)

// Event is a realtime push from the backend. Each one only schedules a
// reconciliation; none is applied directly.
type Event struct {
	Type      EventType      `json:"type"`
	RoomID    string         `json:"roomId"`
	User      string         `json:"user,omitempty"`
	Stroke    *models.Stroke `json:"stroke,omitempty"`
	ClearedAt int64          `json:"clearedAt,omitempty"`
}
