// Package history coordinates local undo/redo stacks with the backend's
// per-user undo log.
package history

import (
	"context"
	"fmt"
	"log"
	"sync"

	"melina-canvas-sync/internal/backend"
	"melina-canvas-sync/internal/models"
	"melina-canvas-sync/internal/repo"
)

type state int

const (
	idle state = iota
	busy
)

type Status string

const (
	// StatusApplied means the backend changed and the stacks moved.
	StatusApplied Status = "applied"
	// StatusNoop means the backend had nothing to undo or redo.
	StatusNoop Status = "noop"
	// StatusFailed means the backend call failed and the local step was rolled back.
	StatusFailed Status = "failed"
	// StatusSkipped means another undo or redo was in flight for the room.
	StatusSkipped Status = "skipped"
	// StatusEmpty means the local stack had nothing to apply.
	StatusEmpty Status = "empty"
)

// Outcome reports a single undo or redo step.
type Outcome struct {
	Status                   Status         `json:"status"`
	Action                   models.Action  `json:"-"`
	Backend                  backend.Status `json:"backend,omitempty"`
	ShouldRefreshFromBackend bool           `json:"shouldRefreshFromBackend"`
	Err                      error          `json:"-"`
}

// Refresher is the part of the reconciler the coordinator drives.
type Refresher interface {
	Reconcile(ctx context.Context, roomID string, rng *models.TimeRange) ([]models.Stroke, error)
	Trigger(roomID string)
	Range(roomID string) *models.TimeRange
}

type entry struct {
	action models.Action
}

type roomHistory struct {
	state state
	undo  []*entry
	redo  []*entry
}

type Coordinator struct {
	store     repo.StrokeStoreInterface
	client    backend.History
	refresher Refresher
	notifier  models.Notifier

	mu       sync.Mutex
	rooms    map[string]*roomHistory
	onChange func(roomID string)
}

func NewCoordinator(store repo.StrokeStoreInterface, client backend.History, refresher Refresher, notifier models.Notifier) *Coordinator {
	if notifier == nil {
		notifier = models.NotifierFunc(func(models.Notice) {})
	}
	return &Coordinator{
		store:     store,
		client:    client,
		refresher: refresher,
		notifier:  notifier,
		rooms:     make(map[string]*roomHistory),
	}
}

// OnChange registers fn to run after every optimistic change to the store.
func (c *Coordinator) OnChange(fn func(roomID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

func (c *Coordinator) room(roomID string) *roomHistory {
	h, ok := c.rooms[roomID]
	if !ok {
		h = &roomHistory{}
		c.rooms[roomID] = h
	}
	return h
}

// Push records a new user action. Any redo history is discarded.
func (c *Coordinator) Push(roomID string, action models.Action) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.room(roomID)
	h.undo = append(h.undo, &entry{action: action})
	h.redo = nil
}

// Discard drops the undo entry holding strokeID, used when its submission failed.
func (c *Coordinator) Discard(roomID, strokeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.room(roomID)
	h.undo = dropContaining(h.undo, strokeID)
}

// Replace swaps the undo entry holding strokeID for action, used when a
// paste was narrowed to the children that reached the backend.
func (c *Coordinator) Replace(roomID, strokeID string, action models.Action) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.room(roomID).undo {
		if contains(e.action.StrokeIDs(), strokeID) {
			e.action = action
			return
		}
	}
}

// Reset forgets both stacks of a room.
func (c *Coordinator) Reset(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.room(roomID)
	h.undo, h.redo = nil, nil
}

// Depth returns the length of the undo and redo stacks.
func (c *Coordinator) Depth(roomID string) (undo, redo int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.room(roomID)
	return len(h.undo), len(h.redo)
}

// Stacks returns the actions of both stacks, bottom first.
func (c *Coordinator) Stacks(roomID string) (undo, redo []models.Action) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.room(roomID)
	for _, e := range h.undo {
		undo = append(undo, e.action)
	}
	for _, e := range h.redo {
		redo = append(redo, e.action)
	}
	return undo, redo
}

// Availability asks the backend which steps are possible and falls back to
// the local stacks when it cannot be reached.
func (c *Coordinator) Availability(ctx context.Context, roomID string) backend.Availability {
	av, err := c.client.HistoryStatus(ctx, roomID)
	if err == nil {
		return av
	}
	log.Printf("[history] status for room %s unavailable, using local stacks: %v", roomID, err)
	undo, redo := c.Depth(roomID)
	return backend.Availability{CanUndo: undo > 0, CanRedo: redo > 0}
}

// begin moves the room to busy and returns the top entry of the chosen
// stack. ok is false when the room is busy or the stack is empty.
func (c *Coordinator) begin(roomID string, redo bool) (*entry, Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.room(roomID)
	if h.state == busy {
		return nil, StatusSkipped
	}
	stack := h.undo
	if redo {
		stack = h.redo
	}
	if len(stack) == 0 {
		return nil, StatusEmpty
	}
	h.state = busy
	return stack[len(stack)-1], ""
}

func (c *Coordinator) end(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room(roomID).state = idle
}

func (c *Coordinator) changed(roomID string) {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn(roomID)
	}
}

// Undo reverts the newest local action.
func (c *Coordinator) Undo(ctx context.Context, roomID string) Outcome {
	e, st := c.begin(roomID, false)
	if e == nil {
		return Outcome{Status: st}
	}
	defer c.end(roomID)

	a := e.action
	_, backendFirst := a.(models.PasteAction)
	if !backendFirst {
		c.revert(roomID, a)
	}

	res, err := c.call(ctx, roomID, a, c.client.Undo)
	out := Outcome{Action: a, Backend: res.Status}

	switch {
	case err != nil:
		if !backendFirst {
			c.reapply(roomID, a)
		}
		out.Status, out.Err = StatusFailed, err
		c.notifier.Notify(models.Notice{RoomID: roomID, Kind: models.NoticeNetwork, Message: "Undo failed: " + err.Error()})
		c.refresher.Trigger(roomID)

	case res.Status == backend.StatusNoop:
		if backendFirst {
			c.revert(roomID, a)
		}
		c.mu.Lock()
		h := c.room(roomID)
		h.undo = nil
		c.mu.Unlock()
		log.Printf("[history] backend undo was a noop in room %s, undo history reset", roomID)
		out.Status, out.Err = StatusNoop, models.ErrDivergence
		c.notifier.Notify(models.Notice{RoomID: roomID, Kind: models.NoticeDivergence, Message: "Nothing left to undo on the server; undo history was reset"})
		c.refresher.Trigger(roomID)

	default:
		if backendFirst {
			c.revert(roomID, a)
		}
		c.mu.Lock()
		h := c.room(roomID)
		h.undo = remove(h.undo, e)
		h.redo = append(h.redo, e)
		c.mu.Unlock()
		out.Status, out.ShouldRefreshFromBackend = StatusApplied, true
		c.refresh(ctx, roomID)
	}
	return out
}

// Redo re-applies the newest undone action.
func (c *Coordinator) Redo(ctx context.Context, roomID string) Outcome {
	e, st := c.begin(roomID, true)
	if e == nil {
		return Outcome{Status: st}
	}
	defer c.end(roomID)

	a := e.action
	c.reapply(roomID, a)

	res, err := c.call(ctx, roomID, a, c.client.Redo)
	out := Outcome{Action: a, Backend: res.Status}

	switch {
	case err != nil:
		c.revert(roomID, a)
		out.Status, out.Err = StatusFailed, err
		c.notifier.Notify(models.Notice{RoomID: roomID, Kind: models.NoticeNetwork, Message: "Redo failed: " + err.Error()})
		c.refresher.Trigger(roomID)

	case res.Status == backend.StatusNoop:
		c.revert(roomID, a)
		c.Reset(roomID)
		log.Printf("[history] backend redo was a noop in room %s, history diverged", roomID)
		out.Status, out.Err = StatusNoop, models.ErrDivergence
		c.notifier.Notify(models.Notice{RoomID: roomID, Kind: models.NoticeDivergence, Message: "Redo history was changed by another user; undo history was reset"})
		c.refresher.Trigger(roomID)

	default:
		c.mu.Lock()
		h := c.room(roomID)
		h.redo = remove(h.redo, e)
		h.undo = append(h.undo, e)
		c.mu.Unlock()
		out.Status, out.ShouldRefreshFromBackend = StatusApplied, true
		c.refresh(ctx, roomID)
	}
	return out
}

// call issues one backend step per slot the action holds. A reply with
// status error counts as a failure.
func (c *Coordinator) call(ctx context.Context, roomID string, a models.Action, step func(context.Context, string) (backend.Result, error)) (backend.Result, error) {
	var res backend.Result
	for i := 0; i < a.BackendCount(); i++ {
		var err error
		res, err = step(ctx, roomID)
		if err != nil {
			return res, fmt.Errorf("room %s: %w", roomID, err)
		}
		if res.Status == backend.StatusError {
			return res, fmt.Errorf("room %s: backend error %q: %w", roomID, res.Message, models.ErrNetwork)
		}
		if res.Status == backend.StatusNoop {
			return res, nil
		}
	}
	return res, nil
}

func (c *Coordinator) refresh(ctx context.Context, roomID string) {
	if _, err := c.refresher.Reconcile(ctx, roomID, c.refresher.Range(roomID)); err != nil {
		log.Printf("[history] refresh after step in room %s failed: %v", roomID, err)
	}
}

// revert applies the backward effect of a to the store.
func (c *Coordinator) revert(roomID string, a models.Action) {
	switch v := a.(type) {
	case models.SimpleAction:
		c.store.Remove(roomID, v.Stroke.ID)
	case models.CutAction:
		c.store.Remove(roomID, models.StrokeIDs(v.Added())...)
		c.store.Insert(roomID, v.AffectedDrawings...)
	case models.PasteAction:
		c.store.Remove(roomID, models.StrokeIDs(v.Added())...)
	}
	c.changed(roomID)
}

// reapply applies the forward effect of a to the store.
func (c *Coordinator) reapply(roomID string, a models.Action) {
	switch v := a.(type) {
	case models.SimpleAction:
		c.store.Insert(roomID, v.Stroke)
	case models.CutAction:
		c.store.Remove(roomID, models.StrokeIDs(v.AffectedDrawings)...)
		c.store.Insert(roomID, v.Added()...)
	case models.PasteAction:
		c.store.Insert(roomID, v.Added()...)
	}
	c.changed(roomID)
}

func remove(stack []*entry, e *entry) []*entry {
	out := stack[:0:0]
	for _, x := range stack {
		if x != e {
			out = append(out, x)
		}
	}
	return out
}

func dropContaining(stack []*entry, strokeID string) []*entry {
	out := stack[:0:0]
	for _, e := range stack {
		if !contains(e.action.StrokeIDs(), strokeID) {
			out = append(out, e)
		}
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
