// Package reconciler merges the backend's authoritative stroke log into the
// local store.
package reconciler

import (
	"context"
	"log"
	"sync"
	"time"

	"melina-canvas-sync/internal/backend"
	"melina-canvas-sync/internal/models"
	"melina-canvas-sync/internal/repo"
)

const DefaultDebounce = 150 * time.Millisecond

// trailing collects the callers that arrived while a pass was in flight.
// They all share the result of one re-run.
type trailing struct {
	done    chan struct{}
	rng     *models.TimeRange
	callers int
	view    []models.Stroke
	err     error
}

type flight struct {
	next *trailing
}

// Reconciler runs at most one pass per room at a time. Calls made while a
// pass is in flight coalesce into a single trailing pass.
type Reconciler struct {
	store    repo.StrokeStoreInterface
	fetcher  backend.Fetcher
	debounce time.Duration

	mu       sync.Mutex
	flights  map[string]*flight
	timers   map[string]*time.Timer
	ranges   map[string]*models.TimeRange
	onUpdate func(roomID string, view []models.Stroke)
	accept   func(roomID string) bool
}

func New(store repo.StrokeStoreInterface, fetcher backend.Fetcher, debounce time.Duration) *Reconciler {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Reconciler{
		store:    store,
		fetcher:  fetcher,
		debounce: debounce,
		flights:  make(map[string]*flight),
		timers:   make(map[string]*time.Timer),
		ranges:   make(map[string]*models.TimeRange),
	}
}

// OnUpdate registers fn to receive every view a pass applies to the store.
func (r *Reconciler) OnUpdate(fn func(roomID string, view []models.Stroke)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onUpdate = fn
}

// Accept registers a check run once a fetch returns. A result for a room
// the check rejects, such as one the client has since left, is discarded.
func (r *Reconciler) Accept(fn func(roomID string) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accept = fn
}

// SetRange bounds the passes Trigger schedules for roomID. nil recalls the
// whole log.
func (r *Reconciler) SetRange(roomID string, rng *models.TimeRange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rng == nil {
		delete(r.ranges, roomID)
		return
	}
	cp := *rng
	r.ranges[roomID] = &cp
}

func (r *Reconciler) Range(roomID string) *models.TimeRange {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rng, ok := r.ranges[roomID]; ok {
		cp := *rng
		return &cp
	}
	return nil
}

// Reconcile fetches the authoritative log and returns the unified view. On
// failure the store is left untouched and the previous view is returned
// together with the error.
func (r *Reconciler) Reconcile(ctx context.Context, roomID string, rng *models.TimeRange) ([]models.Stroke, error) {
	r.mu.Lock()
	if f, busy := r.flights[roomID]; busy {
		if f.next == nil {
			f.next = &trailing{done: make(chan struct{})}
		}
		t := f.next
		t.rng = rng
		t.callers++
		r.mu.Unlock()

		select {
		case <-t.done:
			return models.CloneStrokes(t.view), t.err
		case <-ctx.Done():
			return r.store.UnifiedView(roomID), ctx.Err()
		}
	}
	f := &flight{}
	r.flights[roomID] = f
	r.mu.Unlock()

	view, err := r.pass(ctx, roomID, rng)
	r.finish(context.WithoutCancel(ctx), roomID, f)
	return view, err
}

// finish hands the flight to a goroutine draining trailing passes, or ends
// it when nobody is waiting.
func (r *Reconciler) finish(ctx context.Context, roomID string, f *flight) {
	r.mu.Lock()
	if f.next == nil {
		delete(r.flights, roomID)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	go func() {
		for {
			r.mu.Lock()
			t := f.next
			f.next = nil
			if t == nil {
				delete(r.flights, roomID)
				r.mu.Unlock()
				return
			}
			r.mu.Unlock()

			t.view, t.err = r.pass(ctx, roomID, t.rng)
			close(t.done)
		}
	}()
}

func (r *Reconciler) pass(ctx context.Context, roomID string, rng *models.TimeRange) ([]models.Stroke, error) {
	generation := r.store.Generation(roomID)
	fetched, err := r.fetcher.FetchStrokes(ctx, roomID, rng)
	if err != nil {
		log.Printf("[reconciler] fetch for room %s failed, keeping last view: %v", roomID, err)
		return r.store.UnifiedView(roomID), err
	}

	r.mu.Lock()
	accept := r.accept
	r.mu.Unlock()
	if accept != nil && !accept(roomID) {
		log.Printf("[reconciler] room %s is no longer active, discarding result", roomID)
		return r.store.UnifiedView(roomID), nil
	}
	if !r.store.Absorb(roomID, generation, fetched, Hidden(fetched)) {
		log.Printf("[reconciler] room %s was cleared or left during fetch, discarding result", roomID)
		return r.store.UnifiedView(roomID), nil
	}

	view := r.store.UnifiedView(roomID)
	r.mu.Lock()
	fn := r.onUpdate
	r.mu.Unlock()
	if fn != nil {
		fn(roomID, models.CloneStrokes(view))
	}
	return view, nil
}

// Trigger schedules a pass for roomID after the debounce interval. Triggers
// arriving while one is already scheduled are folded into it.
func (r *Reconciler) Trigger(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, scheduled := r.timers[roomID]; scheduled {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(r.debounce, func() {
		r.mu.Lock()
		if r.timers[roomID] != t {
			r.mu.Unlock()
			return
		}
		delete(r.timers, roomID)
		rng := r.ranges[roomID]
		r.mu.Unlock()

		_, _ = r.Reconcile(context.Background(), roomID, rng)
	})
	r.timers[roomID] = t
}

// Cancel drops a scheduled pass for roomID. A pass already running is not
// interrupted; the store discards its result if the room was reset.
func (r *Reconciler) Cancel(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[roomID]; ok {
		t.Stop()
		delete(r.timers, roomID)
	}
}

// Close stops every scheduled pass.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}

// Hidden lists the strokes of a fetched log that are never shown: the
// originals of every cut record it holds, and derived strokes whose cut or
// paste record is gone.
func Hidden(fetched []models.Stroke) map[string]bool {
	hidden := models.Orphans(fetched)
	for _, st := range fetched {
		if cut, ok := st.PathData.(models.Cut); ok {
			for _, id := range cut.OriginalStrokeIDs {
				hidden[id] = true
			}
		}
	}
	return hidden
}
