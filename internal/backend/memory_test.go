package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"melina-canvas-sync/internal/models"
)

func stroke(id string, ts int64) models.Stroke {
	return models.Stroke{
		ID:        id,
		Color:     "#000000",
		LineWidth: 2,
		PathData:  models.Freehand{Points: []models.Point{{X: 1, Y: 1}, {X: 5, Y: 5}}},
		Timestamp: ts,
		User:      "alice",
		RoomID:    "room",
	}
}

func TestMemoryUndoRedoSlots(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	alice := mem.For("alice")

	require.NoError(t, alice.SubmitStroke(ctx, "room", stroke("s1", 1), SubmitOptions{}))
	require.NoError(t, alice.SubmitStroke(ctx, "room", stroke("child", 2), SubmitOptions{SkipUndoStack: true}))
	assert.Equal(t, 1, mem.UndoDepth("room", "alice"))

	res, err := alice.Undo(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, []string{"child"}, models.StrokeIDs(mem.Strokes("room")))

	av, err := alice.HistoryStatus(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, Availability{CanUndo: false, CanRedo: true}, av)

	res, err = alice.Redo(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.ElementsMatch(t, []string{"s1", "child"}, models.StrokeIDs(mem.Strokes("room")))

	res, err = alice.Redo(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, StatusNoop, res.Status)
}

func TestMemoryNewStrokeInvalidatesEveryRedo(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	alice, bob := mem.For("alice"), mem.For("bob")

	require.NoError(t, alice.SubmitStroke(ctx, "room", stroke("s1", 1), SubmitOptions{}))
	_, err := alice.Undo(ctx, "room")
	require.NoError(t, err)

	require.NoError(t, bob.SubmitStroke(ctx, "room", stroke("s2", 2), SubmitOptions{}))

	res, err := alice.Redo(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, StatusNoop, res.Status)
}

func TestMemoryInjectedFailures(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	alice := mem.For("alice")
	mem.FailNext("submit", 1)
	mem.FailNext("undo", 1)

	err := alice.SubmitStroke(ctx, "room", stroke("s1", 1), SubmitOptions{})
	assert.True(t, errors.Is(err, models.ErrNetwork))
	require.NoError(t, alice.SubmitStroke(ctx, "room", stroke("s1", 1), SubmitOptions{}))

	res, err := alice.Undo(ctx, "room")
	assert.True(t, errors.Is(err, models.ErrNetwork))
	assert.Equal(t, StatusError, res.Status)
	assert.Len(t, mem.Strokes("room"), 1)
}

func TestMemoryRangeAndClear(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	var events []Event
	mem.Subscribe(func(ev Event) { events = append(events, ev) })
	alice := mem.For("alice")
	mem.Seed("room", stroke("a", 10), stroke("b", 20), stroke("c", 30))

	got, err := alice.FetchStrokes(ctx, "room", &models.TimeRange{Start: 15, End: 30})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, models.StrokeIDs(got))

	clearedAt, err := alice.ClearRoom(ctx, "room")
	require.NoError(t, err)
	assert.NotZero(t, clearedAt)
	assert.Empty(t, mem.Strokes("room"))

	require.Len(t, events, 1)
	assert.Equal(t, EventCanvasCleared, events[0].Type)
	assert.Equal(t, clearedAt, events[0].ClearedAt)
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type":"new_stroke","data":{"user":"bob","stroke":{"id":"s1","roomId":"r1","pathData":[{"x":1,"y":2}]}}}`))
	require.NoError(t, err)
	assert.Equal(t, EventNewStroke, ev.Type)
	assert.Equal(t, "r1", ev.RoomID)
	require.NotNil(t, ev.Stroke)
	assert.Equal(t, 1, ev.Stroke.PointCount())

	ev, err = ParseEvent([]byte(`{"type":"canvas_cleared","data":{"roomId":"r1","clearedAt":42}}`))
	require.NoError(t, err)
	assert.Equal(t, int64(42), ev.ClearedAt)

	ev, err = ParseEvent([]byte(`{"type":"stroke_undone"}`))
	require.NoError(t, err)
	assert.Equal(t, EventStrokeUndone, ev.Type)

	_, err = ParseEvent([]byte(`{"type":"chat_message"}`))
	assert.Error(t, err)
	_, err = ParseEvent([]byte(`not json`))
	assert.Error(t, err)
}
