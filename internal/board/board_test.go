package board

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"melina-canvas-sync/internal/backend"
	"melina-canvas-sync/internal/history"
	"melina-canvas-sync/internal/models"
	"melina-canvas-sync/internal/render"
)

const room = "room-1"

type harness struct {
	mem   *backend.Memory
	board *Board

	mu      sync.Mutex
	notices []models.Notice
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{mem: backend.NewMemory()}
	h.board = New(Config{UserID: "alice", Debounce: time.Millisecond}, h.mem.For("alice"), models.NotifierFunc(func(n models.Notice) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.notices = append(h.notices, n)
	}))
	t.Cleanup(h.board.rec.Close)
	_, err := h.board.JoinRoom(context.Background(), room)
	require.NoError(t, err)
	return h
}

func (h *harness) noticeKinds() []models.NoticeKind {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []models.NoticeKind
	for _, n := range h.notices {
		out = append(out, n.Kind)
	}
	return out
}

func (h *harness) lastNotice() models.Notice {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.notices[len(h.notices)-1]
}

func (h *harness) viewIDs(t *testing.T) []string {
	t.Helper()
	view, err := h.board.View(room)
	require.NoError(t, err)
	return models.StrokeIDs(view)
}

func pen(points ...models.Point) models.Stroke {
	return models.Stroke{Color: "#000000", LineWidth: 2, PathData: models.Freehand{Points: points}}
}

func pt(x, y float64) models.Point { return models.Point{X: x, Y: y} }

var box = models.Rect{Width: 100, Height: 100}

func TestSubmitIsOptimisticAndAbsorbed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	s, err := h.board.Submit(ctx, room, pen(pt(1, 1), pt(2, 2)))
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "alice", s.User)
	assert.Equal(t, room, s.RoomID)
	assert.Equal(t, []string{s.ID}, h.viewIDs(t))

	_, err = h.board.Refresh(ctx, room, nil)
	require.NoError(t, err)
	assert.Empty(t, h.board.store.Pending(room))
	assert.Equal(t, []string{s.ID}, h.viewIDs(t))
}

func TestSubmitFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.mem.FailNext("submit", 1)

	_, err := h.board.Submit(ctx, room, pen(pt(1, 1), pt(2, 2)))
	assert.True(t, errors.Is(err, models.ErrNetwork))
	assert.Empty(t, h.viewIDs(t))
	undo, _ := h.board.history.Depth(room)
	assert.Zero(t, undo)
	assert.Equal(t, []models.NoticeKind{models.NoticeNetwork}, h.noticeKinds())
}

func TestSubmitRejectsRecordsAndWrongRoom(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.board.Submit(ctx, room, models.Stroke{PathData: models.Paste{}})
	assert.ErrorIs(t, err, ErrInvalidStroke)

	_, err = h.board.Submit(ctx, "other", pen(pt(1, 1), pt(2, 2)))
	assert.ErrorIs(t, err, models.ErrWrongRoom)
}

func TestCutAndPaste(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	orig, err := h.board.Submit(ctx, room, pen(pt(50, 50), pt(150, 50)))
	require.NoError(t, err)

	cut, err := h.board.Cut(ctx, room, box)
	require.NoError(t, err)
	require.False(t, cut.Empty())
	require.Len(t, h.board.Clipboard(room), 1)

	_, err = h.board.Refresh(ctx, room, nil)
	require.NoError(t, err)
	visible := render.Visible(mustView(t, h))
	require.Len(t, visible, 1)
	assert.NotEqual(t, orig.ID, visible[0].ID)
	assert.Equal(t, []models.Point{pt(100, 50), pt(150, 50)}, visible[0].PathData.(models.Freehand).Points)

	paste, err := h.board.Paste(ctx, room, pt(200, 200))
	require.NoError(t, err)
	require.Len(t, paste.Pasted, 1)
	assert.Equal(t, []models.Point{pt(200, 200), pt(250, 200)}, paste.Pasted[0].PathData.(models.Freehand).Points)

	_, err = h.board.Refresh(ctx, room, nil)
	require.NoError(t, err)
	assert.Len(t, render.Visible(mustView(t, h)), 2)
	assert.Equal(t, 3, h.mem.UndoDepth(room, "alice"))

	out, err := h.board.Undo(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, history.StatusApplied, out.Status)
	assert.Len(t, render.Visible(mustView(t, h)), 1)
}

func TestCutRollsBackWhenDerivedSubmitFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	orig, err := h.board.Submit(ctx, room, pen(pt(50, 50), pt(150, 50)))
	require.NoError(t, err)
	h.mem.FailNext("submit", 1)

	_, err = h.board.Cut(ctx, room, box)
	assert.True(t, errors.Is(err, models.ErrNetwork))
	assert.Equal(t, []string{orig.ID}, models.StrokeIDs(render.Visible(mustView(t, h))))
	assert.Empty(t, h.board.Clipboard(room))

	_, err = h.board.Refresh(ctx, room, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{orig.ID}, models.StrokeIDs(render.Visible(mustView(t, h))))
}

func TestPasteWithoutClipboard(t *testing.T) {
	h := newHarness(t)
	_, err := h.board.Paste(context.Background(), room, pt(0, 0))
	assert.ErrorIs(t, err, ErrEmptyClipboard)
}

func cutThree(t *testing.T, h *harness) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		y := float64(10 + 20*i)
		_, err := h.board.Submit(ctx, room, pen(pt(10, y), pt(40, y)))
		require.NoError(t, err)
	}
	_, err := h.board.Cut(ctx, room, box)
	require.NoError(t, err)
	require.Len(t, h.board.Clipboard(room), 3)
}

func TestPastePartialFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	cutThree(t, h)

	var rejected int32
	h.mem.RejectSubmit = func(s models.Stroke) bool {
		return s.ParentPasteID != "" && atomic.AddInt32(&rejected, 1) == 1
	}

	paste, err := h.board.Paste(ctx, room, pt(300, 300))
	assert.True(t, errors.Is(err, models.ErrPartialSubmit))
	var partial *PartialPasteError
	require.True(t, errors.As(err, &partial))
	assert.Len(t, partial.Missing, 1)
	assert.Equal(t, 3, partial.Total)
	require.Len(t, paste.Pasted, 2)
	assert.Equal(t, models.StrokeIDs(paste.Pasted), paste.Record.PathData.(models.Paste).PastedStrokeIDs)

	notice := h.lastNotice()
	assert.Equal(t, models.NoticePartialSubmit, notice.Kind)
	assert.Len(t, notice.Missing, 1)

	var stored models.Paste
	for _, st := range h.mem.Strokes(room) {
		if p, ok := st.PathData.(models.Paste); ok {
			stored = p
		}
	}
	assert.Len(t, stored.PastedStrokeIDs, 2)

	_, err = h.board.Refresh(ctx, room, nil)
	require.NoError(t, err)
	view := mustView(t, h)
	assert.NotContains(t, models.StrokeIDs(view), notice.Missing[0])
	assert.Contains(t, models.StrokeIDs(view), paste.Record.ID)
}

func TestPasteTotalFailureSubmitsNoRecord(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	cutThree(t, h)
	depth := h.mem.UndoDepth(room, "alice")
	localDepth, _ := h.board.history.Depth(room)
	h.mem.RejectSubmit = func(s models.Stroke) bool { return s.ParentPasteID != "" }

	_, err := h.board.Paste(ctx, room, pt(300, 300))
	assert.True(t, errors.Is(err, models.ErrNetwork))
	assert.Equal(t, depth, h.mem.UndoDepth(room, "alice"))
	after, _ := h.board.history.Depth(room)
	assert.Equal(t, localDepth, after)
	for _, st := range mustView(t, h) {
		assert.Empty(t, st.ParentPasteID)
		assert.False(t, st.Kind() == models.ToolPaste)
	}
}

func TestClearDropsOlderPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.board.Submit(ctx, room, pen(pt(1, 1), pt(2, 2)))
	require.NoError(t, err)

	_, err = h.board.Clear(ctx, room)
	require.NoError(t, err)
	assert.Empty(t, h.viewIDs(t))
	undo, redo := h.board.history.Depth(room)
	assert.Zero(t, undo+redo)
}

func TestCanvasClearedEventDropsStalePending(t *testing.T) {
	h := newHarness(t)
	stale := models.Stroke{ID: "stale", Timestamp: 100, RoomID: room, PathData: models.Freehand{}}
	h.board.store.AddPending(room, stale)

	h.board.HandleEvent(backend.Event{Type: backend.EventCanvasCleared, RoomID: room, ClearedAt: 200})
	assert.Empty(t, h.viewIDs(t))

	_, err := h.board.Refresh(context.Background(), room, nil)
	require.NoError(t, err)
	assert.NotContains(t, h.viewIDs(t), "stale")

	s, err := h.board.Submit(context.Background(), room, pen(pt(1, 1), pt(2, 2)))
	require.NoError(t, err)
	assert.Greater(t, s.Timestamp, int64(200))
}

func TestClearEventWithoutWatermarkUsesLocalClock(t *testing.T) {
	h := newHarness(t)
	h.board.store.AddPending(room, models.Stroke{ID: "stale", Timestamp: h.board.clock.Tick(), RoomID: room, PathData: models.Freehand{}})

	h.board.HandleEvent(backend.Event{Type: backend.EventCanvasCleared, RoomID: room})
	assert.Empty(t, h.viewIDs(t))
	assert.Greater(t, h.board.store.ClearedAt(room), int64(0))

	_, err := h.board.Refresh(context.Background(), room, nil)
	require.NoError(t, err)
	assert.NotContains(t, h.viewIDs(t), "stale")
}

func TestEventsForOtherRoomsAreIgnored(t *testing.T) {
	h := newHarness(t)
	h.board.store.AddPending(room, models.Stroke{ID: "keep", Timestamp: 100, PathData: models.Freehand{}})
	h.board.HandleEvent(backend.Event{Type: backend.EventCanvasCleared, RoomID: "elsewhere", ClearedAt: 200})
	assert.Equal(t, []string{"keep"}, h.viewIDs(t))
}

func TestJoinRoomSwitchesContext(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.board.Submit(ctx, room, pen(pt(1, 1), pt(2, 2)))
	require.NoError(t, err)
	h.mem.Seed("room-2", models.Stroke{ID: "there", Timestamp: 1, RoomID: "room-2", PathData: models.Freehand{}})

	view, err := h.board.JoinRoom(ctx, "room-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"there"}, models.StrokeIDs(view))
	assert.Equal(t, "room-2", h.board.ActiveRoom())

	_, err = h.board.View(room)
	assert.ErrorIs(t, err, models.ErrWrongRoom)
	assert.Empty(t, h.board.store.UnifiedView(room))
	undo, _ := h.board.history.Depth(room)
	assert.Zero(t, undo)
}

func TestFramesArePublished(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	frames := make(chan []render.DrawCommand, 16)
	h.board.OnFrame(func(roomID string, cmds []render.DrawCommand) {
		assert.Equal(t, room, roomID)
		frames <- cmds
	})

	s, err := h.board.Submit(ctx, room, pen(pt(1, 1), pt(2, 2)))
	require.NoError(t, err)
	select {
	case cmds := <-frames:
		require.Len(t, cmds, 1)
		assert.Equal(t, s.ID, cmds[0].StrokeID)
	case <-time.After(time.Second):
		t.Fatal("no frame published")
	}

	cmds, err := h.board.Frame(room, render.ViewFilter{User: "bob"})
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.True(t, cmds[0].Faded)
}

func TestRunPicksUpRemoteStrokes(t *testing.T) {
	h := newHarness(t)
	h.board.cfg.RefreshInterval = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.board.Run(ctx, h.mem) }()

	remote := models.Stroke{ID: "from-bob", Timestamp: time.Now().UnixMilli(), User: "bob", RoomID: room, PathData: models.Freehand{Points: []models.Point{{X: 1, Y: 1}}}}
	require.NoError(t, h.mem.For("bob").SubmitStroke(context.Background(), room, remote, backend.SubmitOptions{}))
	require.Eventually(t, func() bool {
		for _, id := range h.viewIDs(t) {
			if id == "from-bob" {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func mustView(t *testing.T, h *harness) []models.Stroke {
	t.Helper()
	view, err := h.board.View(room)
	require.NoError(t, err)
	return view
}
