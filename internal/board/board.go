// Package board drives one client's session: the active room, local edits,
// cut and paste, undo and redo, and the refresh loop.
package board

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"melina-canvas-sync/internal/backend"
	"melina-canvas-sync/internal/cutpaste"
	"melina-canvas-sync/internal/history"
	"melina-canvas-sync/internal/models"
	"melina-canvas-sync/internal/reconciler"
	"melina-canvas-sync/internal/render"
	"melina-canvas-sync/internal/repo"
)

var (
	ErrEmptyClipboard = errors.New("clipboard is empty")
	ErrInvalidStroke  = errors.New("invalid stroke")
)

const defaultPasteConcurrency = 4

// PartialPasteError lists the pasted strokes the backend did not save.
// It matches models.ErrPartialSubmit.
type PartialPasteError struct {
	Missing []string
	Total   int
}

func (e *PartialPasteError) Error() string {
	return fmt.Sprintf("%d of %d pasted strokes failed: %v", len(e.Missing), e.Total, models.ErrPartialSubmit)
}

func (e *PartialPasteError) Unwrap() error { return models.ErrPartialSubmit }

type Config struct {
	UserID           string
	Matcher          repo.Matcher
	Debounce         time.Duration
	RefreshInterval  time.Duration
	PasteConcurrency int
}

// EventSource pushes backend events until ctx ends.
type EventSource interface {
	Run(ctx context.Context, handle func(backend.Event)) error
}

type Board struct {
	cfg      Config
	client   backend.Client
	store    repo.StrokeStoreInterface
	rec      *reconciler.Reconciler
	history  *history.Coordinator
	engine   *cutpaste.Engine
	clock    *models.Clock
	notifier models.Notifier

	mu        sync.RWMutex
	active    string
	clipboard map[string][]models.Stroke
	onFrame   func(roomID string, cmds []render.DrawCommand)
}

func New(cfg Config, client backend.Client, notifier models.Notifier) *Board {
	if cfg.UserID == "" {
		cfg.UserID = uuid.NewString()
	}
	if cfg.PasteConcurrency <= 0 {
		cfg.PasteConcurrency = defaultPasteConcurrency
	}
	b := &Board{
		cfg:       cfg,
		client:    client,
		store:     repo.NewStrokeStore(cfg.Matcher),
		clock:     models.NewClock(),
		clipboard: make(map[string][]models.Stroke),
	}
	b.notifier = models.NotifierFunc(func(n models.Notice) {
		log.Printf("[board] notice %s in room %s: %s", n.Kind, n.RoomID, n.Message)
		if notifier != nil {
			notifier.Notify(n)
		}
	})
	b.engine = cutpaste.New(b.clock)
	b.rec = reconciler.New(b.store, client, cfg.Debounce)
	b.history = history.NewCoordinator(b.store, client, b.rec, b.notifier)

	b.rec.OnUpdate(func(roomID string, _ []models.Stroke) { b.publish(roomID) })
	b.rec.Accept(func(roomID string) bool { return roomID == b.ActiveRoom() })
	b.history.OnChange(b.publish)
	return b
}

func (b *Board) UserID() string { return b.cfg.UserID }

// Close stops pending debounced reconciliations.
func (b *Board) Close() { b.rec.Close() }

// OnFrame registers fn to receive the unfiltered frame of the active room
// whenever it changes.
func (b *Board) OnFrame(fn func(roomID string, cmds []render.DrawCommand)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onFrame = fn
}

func (b *Board) publish(roomID string) {
	b.mu.RLock()
	fn, active := b.onFrame, b.active
	b.mu.RUnlock()
	if fn == nil || roomID != active {
		return
	}
	fn(roomID, render.Render(b.store.UnifiedView(roomID), render.ViewFilter{}))
}

func (b *Board) ActiveRoom() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

func (b *Board) checkRoom(roomID string) error {
	if active := b.ActiveRoom(); roomID == "" || roomID != active {
		return fmt.Errorf("room %q: %w", roomID, models.ErrWrongRoom)
	}
	return nil
}

// JoinRoom makes roomID the active room. State of the previous room is
// dropped and any reconciliation still running for it is discarded.
func (b *Board) JoinRoom(ctx context.Context, roomID string) ([]models.Stroke, error) {
	if roomID == "" {
		return nil, fmt.Errorf("room id is required: %w", models.ErrWrongRoom)
	}
	b.mu.Lock()
	prev := b.active
	b.active = roomID
	b.mu.Unlock()

	if prev != "" && prev != roomID {
		b.rec.Cancel(prev)
		b.rec.SetRange(prev, nil)
		b.store.Reset(prev)
		b.history.Reset(prev)
		log.Printf("[board] left room %s", prev)
	}
	log.Printf("[board] joined room %s as %s", roomID, b.cfg.UserID)

	view, err := b.rec.Reconcile(ctx, roomID, b.rec.Range(roomID))
	if err != nil {
		b.notifyNetwork(roomID, "Could not load the room", err)
	}
	return view, err
}

// Submit adds a locally drawn stroke. It shows up at once and is rolled
// back if the backend rejects it.
func (b *Board) Submit(ctx context.Context, roomID string, stroke models.Stroke) (models.Stroke, error) {
	if err := b.checkRoom(roomID); err != nil {
		return models.Stroke{}, err
	}
	if stroke.PathData == nil || stroke.IsRecord() || stroke.Parent() != "" {
		return models.Stroke{}, fmt.Errorf("only drawn strokes can be submitted: %w", ErrInvalidStroke)
	}
	if stroke.ID == "" {
		stroke.ID = uuid.NewString()
	}
	stroke.Timestamp = b.clock.Tick()
	stroke.User = b.cfg.UserID
	stroke.RoomID = roomID

	b.store.AddPending(roomID, stroke)
	b.history.Push(roomID, models.SimpleAction{Stroke: stroke})
	b.publish(roomID)

	if err := b.client.SubmitStroke(ctx, roomID, stroke, backend.SubmitOptions{}); err != nil {
		b.store.RemovePending(roomID, stroke.ID)
		b.history.Discard(roomID, stroke.ID)
		b.publish(roomID)
		b.notifyNetwork(roomID, "Stroke was not saved", err)
		return models.Stroke{}, err
	}
	b.rec.Trigger(roomID)
	return stroke, nil
}

// Cut splits the visible strokes against rect and stores the inside pieces
// in the room's clipboard.
func (b *Board) Cut(ctx context.Context, roomID string, rect models.Rect) (cutpaste.CutResult, error) {
	if err := b.checkRoom(roomID); err != nil {
		return cutpaste.CutResult{}, err
	}
	visible := render.Visible(b.store.UnifiedView(roomID))
	res := b.engine.PerformCut(rect, visible, b.cfg.UserID, roomID)
	if res.Empty() {
		return res, nil
	}

	added := res.Action.Added()
	b.store.Remove(roomID, models.StrokeIDs(res.Affected)...)
	b.store.Insert(roomID, added...)
	b.history.Push(roomID, res.Action)
	b.publish(roomID)

	rollback := func(err error) (cutpaste.CutResult, error) {
		b.store.Remove(roomID, models.StrokeIDs(added)...)
		b.store.Insert(roomID, res.Affected...)
		b.history.Discard(roomID, res.CutRecord.ID)
		b.publish(roomID)
		b.notifyNetwork(roomID, "Cut was not saved", err)
		return cutpaste.CutResult{}, err
	}

	// Derived strokes go first: until the record lands they are orphans
	// and stay hidden everywhere.
	for _, st := range res.Derived() {
		if err := b.client.SubmitStroke(ctx, roomID, st, backend.SubmitOptions{SkipUndoStack: true}); err != nil {
			return rollback(err)
		}
	}
	if err := b.client.SubmitStroke(ctx, roomID, res.CutRecord, backend.SubmitOptions{}); err != nil {
		return rollback(err)
	}

	b.mu.Lock()
	b.clipboard[roomID] = models.CloneStrokes(res.Clipboard)
	b.mu.Unlock()
	b.rec.Trigger(roomID)
	return res, nil
}

// Clipboard returns the content of the last cut in roomID.
func (b *Board) Clipboard(roomID string) []models.Stroke {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return models.CloneStrokes(b.clipboard[roomID])
}

// Paste places the clipboard at anchor. Children are submitted
// concurrently without undo slots, then the record naming the ones that
// made it. A partial failure returns the narrowed result with an error
// wrapping models.ErrPartialSubmit.
func (b *Board) Paste(ctx context.Context, roomID string, anchor models.Point) (cutpaste.PasteResult, error) {
	if err := b.checkRoom(roomID); err != nil {
		return cutpaste.PasteResult{}, err
	}
	clip := b.Clipboard(roomID)
	if len(clip) == 0 {
		return cutpaste.PasteResult{}, ErrEmptyClipboard
	}
	res := b.engine.PerformPaste(clip, anchor, b.cfg.UserID, roomID)
	if res.Empty() {
		return res, ErrEmptyClipboard
	}

	b.store.Insert(roomID, res.Action().Added()...)
	b.history.Push(roomID, res.Action())
	b.publish(roomID)

	ok := make([]bool, len(res.Pasted))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.PasteConcurrency)
	for i, st := range res.Pasted {
		g.Go(func() error {
			if err := b.client.SubmitStroke(gctx, roomID, st, backend.SubmitOptions{SkipUndoStack: true}); err != nil {
				log.Printf("[board] pasted stroke %s failed: %v", st.ID, err)
				return nil
			}
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	var succeeded, missing []string
	for i, st := range res.Pasted {
		if ok[i] {
			succeeded = append(succeeded, st.ID)
		} else {
			missing = append(missing, st.ID)
		}
	}

	rollback := func(p cutpaste.PasteResult, err error) (cutpaste.PasteResult, error) {
		b.store.Remove(roomID, models.StrokeIDs(p.Action().Added())...)
		b.history.Discard(roomID, p.Record.ID)
		b.publish(roomID)
		b.notifyNetwork(roomID, "Paste was not saved", err)
		return cutpaste.PasteResult{}, err
	}

	if len(succeeded) == 0 {
		return rollback(res, fmt.Errorf("none of %d pasted strokes were saved: %w", len(res.Pasted), models.ErrNetwork))
	}
	kept := res.Keep(succeeded)
	if len(missing) > 0 {
		b.store.Remove(roomID, missing...)
		b.store.Insert(roomID, kept.Record)
		b.history.Replace(roomID, res.Record.ID, kept.Action())
		b.publish(roomID)
	}

	if err := b.client.SubmitStroke(ctx, roomID, kept.Record, backend.SubmitOptions{}); err != nil {
		return rollback(kept, err)
	}
	b.rec.Trigger(roomID)

	if len(missing) > 0 {
		b.notifier.Notify(models.Notice{
			RoomID:  roomID,
			Kind:    models.NoticePartialSubmit,
			Message: fmt.Sprintf("%d of %d pasted strokes could not be saved", len(missing), len(res.Pasted)),
			Missing: missing,
		})
		return kept, &PartialPasteError{Missing: missing, Total: len(res.Pasted)}
	}
	return kept, nil
}

func (b *Board) Undo(ctx context.Context, roomID string) (history.Outcome, error) {
	if err := b.checkRoom(roomID); err != nil {
		return history.Outcome{}, err
	}
	return b.history.Undo(ctx, roomID), nil
}

func (b *Board) Redo(ctx context.Context, roomID string) (history.Outcome, error) {
	if err := b.checkRoom(roomID); err != nil {
		return history.Outcome{}, err
	}
	return b.history.Redo(ctx, roomID), nil
}

// Availability reports whether undo and redo are possible for the user.
func (b *Board) Availability(ctx context.Context, roomID string) (backend.Availability, error) {
	if err := b.checkRoom(roomID); err != nil {
		return backend.Availability{}, err
	}
	return b.history.Availability(ctx, roomID), nil
}

// Clear wipes the room on the backend, then locally.
func (b *Board) Clear(ctx context.Context, roomID string) (int64, error) {
	if err := b.checkRoom(roomID); err != nil {
		return 0, err
	}
	clearedAt, err := b.client.ClearRoom(ctx, roomID)
	if err != nil {
		b.notifyNetwork(roomID, "Canvas was not cleared", err)
		return 0, err
	}
	b.applyClear(roomID, clearedAt)
	return clearedAt, nil
}

func (b *Board) applyClear(roomID string, clearedAt int64) {
	b.rec.Cancel(roomID)
	b.store.ClearRoom(roomID, clearedAt)
	b.history.Reset(roomID)
	b.clock.Observe(clearedAt)
	b.publish(roomID)
}

// Refresh reconciles at once. A non-nil rng switches the room to history
// recall until Refresh is called again with nil.
func (b *Board) Refresh(ctx context.Context, roomID string, rng *models.TimeRange) ([]models.Stroke, error) {
	if err := b.checkRoom(roomID); err != nil {
		return nil, err
	}
	b.rec.SetRange(roomID, rng)
	view, err := b.rec.Reconcile(ctx, roomID, rng)
	if err != nil {
		b.notifyNetwork(roomID, "Could not refresh the canvas", err)
	}
	return view, err
}

// HandleEvent schedules a reconciliation for a pushed event. Only a clear
// touches the store directly, to raise its watermark.
func (b *Board) HandleEvent(ev backend.Event) {
	roomID := ev.RoomID
	active := b.ActiveRoom()
	if roomID == "" {
		roomID = active
	}
	if roomID == "" || roomID != active {
		return
	}
	switch ev.Type {
	case backend.EventCanvasCleared:
		clearedAt := ev.ClearedAt
		if clearedAt <= 0 {
			// no watermark on the wire; everything drawn so far predates the clear
			clearedAt = b.clock.Tick()
		}
		b.applyClear(roomID, clearedAt)
	case backend.EventNewStroke:
		if ev.Stroke != nil {
			b.clock.Observe(ev.Stroke.Timestamp)
		}
	}
	b.rec.Trigger(roomID)
}

// View is the unified view of roomID.
func (b *Board) View(roomID string) ([]models.Stroke, error) {
	if err := b.checkRoom(roomID); err != nil {
		return nil, err
	}
	return b.store.UnifiedView(roomID), nil
}

// Frame renders roomID with filter.
func (b *Board) Frame(roomID string, filter render.ViewFilter) ([]render.DrawCommand, error) {
	view, err := b.View(roomID)
	if err != nil {
		return nil, err
	}
	return render.Render(view, filter), nil
}

// Run consumes events and refreshes the active room periodically until ctx
// ends. events may be nil.
func (b *Board) Run(ctx context.Context, events EventSource) error {
	defer b.Close()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})
	if events != nil {
		g.Go(func() error { return events.Run(gctx, b.HandleEvent) })
	}
	if b.cfg.RefreshInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(b.cfg.RefreshInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-ticker.C:
					if room := b.ActiveRoom(); room != "" {
						b.rec.Trigger(room)
					}
				}
			}
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (b *Board) notifyNetwork(roomID, msg string, err error) {
	b.notifier.Notify(models.Notice{RoomID: roomID, Kind: models.NoticeNetwork, Message: msg + ": " + err.Error()})
}
