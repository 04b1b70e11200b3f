package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"melina-canvas-sync/internal/models"
)

type memEntry struct {
	stroke  models.Stroke
	removed bool
}

type memRoom struct {
	log       []*memEntry
	undo      map[string][]*memEntry
	redo      map[string][]*memEntry
	clearedAt int64
}

// Memory is an in-process stroke log with per-user undo/redo slots. A new
// undoable stroke from any user invalidates every user's redo history.
// It backs tests and offline runs.
type Memory struct {
	mu        sync.Mutex
	rooms     map[string]*memRoom
	now       func() time.Time
	failures  map[string]int
	listeners map[int]func(Event)
	nextID    int

	// FetchHook runs before a fetch reads the log, outside the lock.
	FetchHook func(roomID string)
	// RejectSubmit fails the submission of matching strokes.
	RejectSubmit func(models.Stroke) bool
}

func NewMemory() *Memory {
	return &Memory{
		rooms:     make(map[string]*memRoom),
		now:       time.Now,
		failures:  make(map[string]int),
		listeners: make(map[int]func(Event)),
	}
}

// For returns a Client acting as user.
func (m *Memory) For(user string) *MemoryClient {
	return &MemoryClient{mem: m, user: user}
}

// FailNext makes the next n calls of op fail. op is one of fetch, submit,
// undo, redo, status, clear.
func (m *Memory) FailNext(op string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] += n
}

// Subscribe registers a listener for pushed events and returns a func
// removing it.
func (m *Memory) Subscribe(fn func(Event)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// Run delivers the log's events to handle until ctx ends, so Memory can
// stand in for an EventStream.
func (m *Memory) Run(ctx context.Context, handle func(Event)) error {
	unsubscribe := m.Subscribe(handle)
	defer unsubscribe()
	<-ctx.Done()
	return ctx.Err()
}

// Seed appends strokes to the log without touching any undo history.
func (m *Memory) Seed(roomID string, strokes ...models.Stroke) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.room(roomID)
	for _, st := range strokes {
		r.log = append(r.log, &memEntry{stroke: st.Clone()})
	}
}

// Strokes returns the live log of a room.
func (m *Memory) Strokes(roomID string) []models.Stroke {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live(m.room(roomID), nil)
}

// UndoDepth is the number of undo slots the log tracks for user in room.
func (m *Memory) UndoDepth(roomID, user string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.room(roomID).undo[user])
}

func (m *Memory) room(roomID string) *memRoom {
	r, ok := m.rooms[roomID]
	if !ok {
		r = &memRoom{undo: make(map[string][]*memEntry), redo: make(map[string][]*memEntry)}
		m.rooms[roomID] = r
	}
	return r
}

func (m *Memory) fail(op string) error {
	if m.failures[op] > 0 {
		m.failures[op]--
		return fmt.Errorf("%s: injected failure: %w", op, models.ErrNetwork)
	}
	return nil
}

func (m *Memory) live(r *memRoom, rng *models.TimeRange) []models.Stroke {
	out := make([]models.Stroke, 0, len(r.log))
	for _, e := range r.log {
		if e.removed {
			continue
		}
		if rng != nil && (e.stroke.Timestamp < rng.Start || e.stroke.Timestamp > rng.End) {
			continue
		}
		out = append(out, e.stroke.Clone())
	}
	return out
}

func (m *Memory) emit(ev Event) {
	m.mu.Lock()
	ids := make([]int, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]func(Event), len(ids))
	for i, id := range ids {
		listeners[i] = m.listeners[id]
	}
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// MemoryClient is the view of Memory for a single user.
type MemoryClient struct {
	mem  *Memory
	user string
}

var _ Client = (*MemoryClient)(nil)

func (c *MemoryClient) FetchStrokes(ctx context.Context, roomID string, rng *models.TimeRange) ([]models.Stroke, error) {
	if hook := c.mem.FetchHook; hook != nil {
		hook(roomID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := c.mem
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("fetch"); err != nil {
		return nil, err
	}
	return m.live(m.room(roomID), rng), nil
}

func (c *MemoryClient) SubmitStroke(ctx context.Context, roomID string, stroke models.Stroke, opts SubmitOptions) error {
	m := c.mem
	m.mu.Lock()
	if err := m.fail("submit"); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.RejectSubmit != nil && m.RejectSubmit(stroke) {
		m.mu.Unlock()
		return fmt.Errorf("submit %s rejected: %w", stroke.ID, models.ErrNetwork)
	}
	r := m.room(roomID)
	e := &memEntry{stroke: stroke.Clone()}
	r.log = append(r.log, e)
	if !opts.SkipUndoStack {
		r.undo[c.user] = append(r.undo[c.user], e)
		for u := range r.redo {
			r.redo[u] = nil
		}
	}
	m.mu.Unlock()

	st := stroke.Clone()
	m.emit(Event{Type: EventNewStroke, RoomID: roomID, User: c.user, Stroke: &st})
	return nil
}

func (c *MemoryClient) Undo(ctx context.Context, roomID string) (Result, error) {
	return c.step(roomID, "undo", EventStrokeUndone)
}

func (c *MemoryClient) Redo(ctx context.Context, roomID string) (Result, error) {
	return c.step(roomID, "redo", EventStrokeRedone)
}

func (c *MemoryClient) step(roomID, op string, ev EventType) (Result, error) {
	m := c.mem
	m.mu.Lock()
	if err := m.fail(op); err != nil {
		m.mu.Unlock()
		return Result{Status: StatusError, Message: err.Error()}, err
	}
	r := m.room(roomID)
	from, to := r.undo, r.redo
	if op == "redo" {
		from, to = r.redo, r.undo
	}
	stack := from[c.user]
	if len(stack) == 0 {
		m.mu.Unlock()
		return Result{Status: StatusNoop}, nil
	}
	e := stack[len(stack)-1]
	from[c.user] = stack[:len(stack)-1]
	to[c.user] = append(to[c.user], e)
	e.removed = op == "undo"
	m.mu.Unlock()

	m.emit(Event{Type: ev, RoomID: roomID, User: c.user})
	return Result{Status: StatusSuccess}, nil
}

func (c *MemoryClient) HistoryStatus(ctx context.Context, roomID string) (Availability, error) {
	m := c.mem
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("status"); err != nil {
		return Availability{}, err
	}
	r := m.room(roomID)
	return Availability{CanUndo: len(r.undo[c.user]) > 0, CanRedo: len(r.redo[c.user]) > 0}, nil
}

func (c *MemoryClient) ClearRoom(ctx context.Context, roomID string) (int64, error) {
	m := c.mem
	m.mu.Lock()
	if err := m.fail("clear"); err != nil {
		m.mu.Unlock()
		return 0, err
	}
	r := m.room(roomID)
	r.log = nil
	r.undo = make(map[string][]*memEntry)
	r.redo = make(map[string][]*memEntry)
	r.clearedAt = m.now().UnixMilli()
	clearedAt := r.clearedAt
	m.mu.Unlock()

	m.emit(Event{Type: EventCanvasCleared, RoomID: roomID, User: c.user, ClearedAt: clearedAt})
	return clearedAt, nil
}
