package repo

import (
	"log"
	"sync"

	"melina-canvas-sync/internal/models"
)

type roomState struct {
	authoritative []models.Stroke
	pending       []models.Stroke
	clearedAt     int64
	generation    uint64
}

// StrokeStore keeps, per room, the strokes last confirmed by the backend and
// an overlay of local strokes not yet seen there. A stroke is in exactly one
// of the two from the caller's point of view.
type StrokeStore struct {
	mu      sync.RWMutex
	rooms   map[string]*roomState
	matcher Matcher
}

type StrokeStoreInterface interface {
	AddPending(roomID string, stroke models.Stroke)
	RemovePending(roomID, id string) bool
	SetAuthoritative(roomID string, strokes []models.Stroke)
	UnifiedView(roomID string) []models.Stroke
	Pending(roomID string) []models.Stroke
	Authoritative(roomID string) []models.Stroke
	Matches(a, b models.Stroke) bool
	Insert(roomID string, strokes ...models.Stroke)
	Remove(roomID string, ids ...string)
	Absorb(roomID string, generation uint64, fetched []models.Stroke, hidden map[string]bool) bool
	ClearRoom(roomID string, clearedAt int64)
	ClearedAt(roomID string) int64
	Reset(roomID string)
	Generation(roomID string) uint64
}

// NewStrokeStore returns an empty store; a nil matcher means id matching.
func NewStrokeStore(matcher Matcher) StrokeStoreInterface {
	if matcher == nil {
		matcher = IDMatcher{}
	}
	return &StrokeStore{
		rooms:   make(map[string]*roomState),
		matcher: matcher,
	}
}

func (s *StrokeStore) room(roomID string) *roomState {
	rs, ok := s.rooms[roomID]
	if !ok {
		rs = &roomState{}
		s.rooms[roomID] = rs
	}
	return rs
}

// AddPending records a locally submitted stroke. Strokes predating the
// room's clear watermark are ignored.
func (s *StrokeStore) AddPending(roomID string, stroke models.Stroke) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs := s.room(roomID)
	if stroke.Timestamp < rs.clearedAt {
		return
	}
	rs.pending = appendOrReplace(rs.pending, stroke.Clone())
}

func (s *StrokeStore) RemovePending(roomID, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs := s.room(roomID)
	before := len(rs.pending)
	rs.pending = without(rs.pending, map[string]bool{id: true})
	return len(rs.pending) != before
}

func (s *StrokeStore) SetAuthoritative(roomID string, strokes []models.Stroke) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room(roomID).authoritative = models.CloneStrokes(strokes)
}

// UnifiedView returns authoritative strokes followed by pending ones whose
// id is not already authoritative. The result is a copy.
func (s *StrokeStore) UnifiedView(roomID string) []models.Stroke {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok := s.rooms[roomID]
	if !ok {
		return []models.Stroke{}
	}
	seen := make(map[string]bool, len(rs.authoritative))
	view := make([]models.Stroke, 0, len(rs.authoritative)+len(rs.pending))
	for _, st := range rs.authoritative {
		seen[st.ID] = true
		view = append(view, st.Clone())
	}
	for _, st := range rs.pending {
		if seen[st.ID] {
			continue
		}
		view = append(view, st.Clone())
	}
	return view
}

func (s *StrokeStore) Pending(roomID string) []models.Stroke {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rs, ok := s.rooms[roomID]; ok {
		return models.CloneStrokes(rs.pending)
	}
	return nil
}

func (s *StrokeStore) Authoritative(roomID string) []models.Stroke {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rs, ok := s.rooms[roomID]; ok {
		return models.CloneStrokes(rs.authoritative)
	}
	return nil
}

func (s *StrokeStore) Matches(a, b models.Stroke) bool {
	return s.matcher.Match(a, b)
}

// Insert places strokes into the pending overlay as an optimistic step; the
// next reconciliation absorbs them once the backend agrees.
func (s *StrokeStore) Insert(roomID string, strokes ...models.Stroke) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs := s.room(roomID)
	for _, st := range strokes {
		rs.pending = appendOrReplace(rs.pending, st.Clone())
	}
}

// Remove drops strokes from both collections.
func (s *StrokeStore) Remove(roomID string, ids ...string) {
	if len(ids) == 0 {
		return
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rs := s.room(roomID)
	rs.authoritative = without(rs.authoritative, set)
	rs.pending = without(rs.pending, set)
}

// Absorb installs a fetched authoritative set and prunes the pending overlay
// in one step: pending strokes older than the clear watermark are dropped,
// matched ones are absorbed and the rest stay pending. Pending strokes are
// matched against the whole fetch, but strokes listed in hidden are not
// stored, unless they are derived from a record that is still pending. It is
// a no-op returning false when the room was cleared or reset after
// generation was read.
func (s *StrokeStore) Absorb(roomID string, generation uint64, fetched []models.Stroke, hidden map[string]bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs := s.room(roomID)
	if rs.generation != generation {
		return false
	}

	snapshot := rs.pending
	known := make(map[string]bool, len(rs.authoritative)+len(snapshot))
	for _, st := range rs.authoritative {
		known[st.ID] = true
	}
	for _, st := range snapshot {
		known[st.ID] = true
	}
	rs.pending = nil

	claimed := make(map[string]bool, len(fetched))
	byID := make(map[string]bool, len(fetched))
	for _, st := range fetched {
		byID[st.ID] = true
	}
	var unmatched []models.Stroke
	for _, p := range snapshot {
		if p.Timestamp < rs.clearedAt {
			log.Printf("[store] dropping pending %s older than clear watermark", p.ID)
			continue
		}
		if byID[p.ID] {
			claimed[p.ID] = true
			continue
		}
		unmatched = append(unmatched, p)
	}
	for _, p := range unmatched {
		if id, ok := s.claim(p, fetched, claimed, known); ok {
			log.Printf("[store] pending %s matched authoritative %s", p.ID, id)
			continue
		}
		rs.pending = append(rs.pending, p)
	}

	pendingIDs := make(map[string]bool, len(rs.pending))
	for _, p := range rs.pending {
		pendingIDs[p.ID] = true
	}
	rs.authoritative = make([]models.Stroke, 0, len(fetched))
	for _, st := range fetched {
		if hidden[st.ID] && !pendingIDs[st.Parent()] {
			continue
		}
		rs.authoritative = append(rs.authoritative, st.Clone())
	}
	return true
}

// claim finds an authoritative stroke of the same kind matching p. Only
// strokes new to this client are candidates: an id that was already
// authoritative or is pending here is never a server echo of p.
func (s *StrokeStore) claim(p models.Stroke, fetched []models.Stroke, claimed, known map[string]bool) (string, bool) {
	for _, a := range fetched {
		if claimed[a.ID] || known[a.ID] || a.Kind() != p.Kind() {
			continue
		}
		if s.matcher.Match(p, a) {
			claimed[a.ID] = true
			return a.ID, true
		}
	}
	return "", false
}

// ClearRoom empties the room and raises its clear watermark.
func (s *StrokeStore) ClearRoom(roomID string, clearedAt int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs := s.room(roomID)
	rs.authoritative = nil
	rs.pending = nil
	if clearedAt > rs.clearedAt {
		rs.clearedAt = clearedAt
	}
	rs.generation++
}

func (s *StrokeStore) ClearedAt(roomID string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rs, ok := s.rooms[roomID]; ok {
		return rs.clearedAt
	}
	return 0
}

// Reset forgets a room's strokes when the client leaves it. The watermark
// is kept.
func (s *StrokeStore) Reset(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs := s.room(roomID)
	rs.authoritative = nil
	rs.pending = nil
	rs.generation++
}

func (s *StrokeStore) Generation(roomID string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rs, ok := s.rooms[roomID]; ok {
		return rs.generation
	}
	return 0
}

func appendOrReplace(list []models.Stroke, st models.Stroke) []models.Stroke {
	for i := range list {
		if list[i].ID == st.ID {
			list[i] = st
			return list
		}
	}
	return append(list, st)
}

func without(list []models.Stroke, ids map[string]bool) []models.Stroke {
	out := list[:0]
	for _, st := range list {
		if !ids[st.ID] {
			out = append(out, st)
		}
	}
	return out
}
