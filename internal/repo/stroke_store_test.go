package repo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"melina-canvas-sync/internal/models"
)

const room = "room-1"

func stroke(id, user string, ts int64, n int) models.Stroke {
	points := make([]models.Point, n)
	for i := range points {
		points[i] = models.Point{X: float64(i), Y: float64(i)}
	}
	return models.Stroke{ID: id, User: user, Timestamp: ts, RoomID: room, Color: "#000000", LineWidth: 2, PathData: models.Freehand{Points: points}}
}

func TestUnifiedViewSuppressesPendingCollisions(t *testing.T) {
	store := NewStrokeStore(nil)
	store.SetAuthoritative(room, []models.Stroke{stroke("a", "u1", 1, 3)})
	store.AddPending(room, stroke("a", "u1", 1, 3))
	store.AddPending(room, stroke("b", "u1", 2, 3))

	assert.Equal(t, []string{"a", "b"}, models.StrokeIDs(store.UnifiedView(room)))
}

func TestUnifiedViewReturnsCopies(t *testing.T) {
	store := NewStrokeStore(nil)
	store.AddPending(room, stroke("a", "u1", 1, 3))

	view := store.UnifiedView(room)
	view[0].PathData.(models.Freehand).Points[0].X = 99

	again := store.UnifiedView(room)
	assert.Equal(t, 0.0, again[0].PathData.(models.Freehand).Points[0].X)
}

func TestAbsorbPendingById(t *testing.T) {
	store := NewStrokeStore(DefaultHeuristicMatcher())
	s := stroke("a", "u1", 1000, 3)
	store.AddPending(room, s)

	applied := store.Absorb(room, store.Generation(room), []models.Stroke{s}, nil)
	require.True(t, applied)

	assert.Empty(t, store.Pending(room))
	assert.Len(t, store.UnifiedView(room), 1)
}

func TestAbsorbKeepsUnmatchedPending(t *testing.T) {
	store := NewStrokeStore(IDMatcher{})
	store.AddPending(room, stroke("a", "u1", 1000, 3))

	store.Absorb(room, store.Generation(room), []models.Stroke{stroke("z", "u2", 1000, 3)}, nil)

	assert.Equal(t, []string{"a"}, models.StrokeIDs(store.Pending(room)))
	assert.Equal(t, []string{"z", "a"}, models.StrokeIDs(store.UnifiedView(room)))
}

func TestAbsorbHeuristicMatchClaimsOnce(t *testing.T) {
	store := NewStrokeStore(DefaultHeuristicMatcher())
	store.AddPending(room, stroke("local-1", "u1", 1000, 10))
	store.AddPending(room, stroke("local-2", "u1", 1500, 11))

	// The backend reassigned the id of the first stroke and has not seen the second.
	store.Absorb(room, store.Generation(room), []models.Stroke{stroke("server-1", "u1", 1000, 10)}, nil)

	assert.Equal(t, []string{"local-2"}, models.StrokeIDs(store.Pending(room)))
}

func TestAbsorbDropsPendingBeforeClear(t *testing.T) {
	store := NewStrokeStore(nil)
	store.AddPending(room, stroke("old", "u1", 100, 3))
	gen := store.Generation(room)

	store.ClearRoom(room, 500)
	assert.False(t, store.Absorb(room, gen, nil, nil), "stale generation must not apply")

	store.Insert(room, stroke("old", "u1", 100, 3))
	require.True(t, store.Absorb(room, store.Generation(room), nil, nil))
	assert.Empty(t, store.UnifiedView(room))
}

func TestAddPendingIgnoresStrokesBeforeWatermark(t *testing.T) {
	store := NewStrokeStore(nil)
	store.ClearRoom(room, 500)
	store.AddPending(room, stroke("late", "u1", 499, 3))
	assert.Empty(t, store.Pending(room))
}

func TestRemoveDropsFromBothCollections(t *testing.T) {
	store := NewStrokeStore(nil)
	store.SetAuthoritative(room, []models.Stroke{stroke("a", "u1", 1, 3)})
	store.AddPending(room, stroke("b", "u1", 2, 3))

	store.Remove(room, "a", "b")
	assert.Empty(t, store.UnifiedView(room))
	assert.False(t, store.RemovePending(room, "b"))
}

func TestResetBumpsGeneration(t *testing.T) {
	store := NewStrokeStore(nil)
	gen := store.Generation(room)
	store.AddPending(room, stroke("a", "u1", 1, 3))
	store.Reset(room)

	assert.NotEqual(t, gen, store.Generation(room))
	assert.Empty(t, store.UnifiedView(room))
}

func TestHeuristicMatcher(t *testing.T) {
	m := DefaultHeuristicMatcher()
	base := stroke("a", "u1", 10_000, 10)

	tests := []struct {
		name  string
		other models.Stroke
		want  bool
	}{
		{"same id", stroke("a", "u2", 0, 1), true},
		{"close in time and size", stroke("b", "u1", 12_000, 12), true},
		{"other user", stroke("b", "u2", 10_000, 10), false},
		{"too late", stroke("b", "u1", 13_000, 10), false},
		{"too many points", stroke("b", "u1", 10_000, 13), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Match(base, tt.other))
		})
	}
	assert.False(t, IDMatcher{}.Match(base, stroke("b", "u1", 10_000, 10)))
}

func TestAbsorbNeverMatchesAStrokeAlreadyKnown(t *testing.T) {
	store := NewStrokeStore(DefaultHeuristicMatcher())
	first := stroke("s1", "u1", 1000, 5)
	store.AddPending(room, first)
	require.True(t, store.Absorb(room, store.Generation(room), []models.Stroke{first}, nil))

	// A second, similar stroke the backend has not seen yet.
	store.AddPending(room, stroke("s2", "u1", 1500, 5))
	require.True(t, store.Absorb(room, store.Generation(room), []models.Stroke{first}, nil))

	assert.Equal(t, []string{"s2"}, models.StrokeIDs(store.Pending(room)))
	assert.Equal(t, []string{"s1", "s2"}, models.StrokeIDs(store.UnifiedView(room)))
}

func TestAbsorbNeverMatchesAnotherPendingStroke(t *testing.T) {
	store := NewStrokeStore(DefaultHeuristicMatcher())
	store.AddPending(room, stroke("s1", "u1", 1000, 5))
	store.AddPending(room, stroke("s2", "u1", 1200, 5))

	// s1 arrives under its own id; s2 must not be paired with it.
	require.True(t, store.Absorb(room, store.Generation(room), []models.Stroke{stroke("s1", "u1", 1000, 5)}, nil))
	assert.Equal(t, []string{"s2"}, models.StrokeIDs(store.Pending(room)))
}

func TestAbsorbHeuristicRequiresSameKind(t *testing.T) {
	store := NewStrokeStore(DefaultHeuristicMatcher())
	store.AddPending(room, stroke("local", "u1", 1000, 2))

	line := models.Stroke{ID: "server", User: "u1", Timestamp: 1000, RoomID: room,
		PathData: models.Shape{Type: models.ShapeLine, End: models.Point{X: 5, Y: 5}}}
	require.True(t, store.Absorb(room, store.Generation(room), []models.Stroke{line}, nil))
	assert.Equal(t, []string{"local"}, models.StrokeIDs(store.Pending(room)))
}

func TestAbsorbMatchesHiddenStrokesBeforeMasking(t *testing.T) {
	store := NewStrokeStore(IDMatcher{})
	s1 := stroke("s1", "u1", 1000, 3)
	store.AddPending(room, s1)

	cut := models.Stroke{ID: "cut", User: "u2", Timestamp: 2000, RoomID: room,
		PathData: models.Cut{Rect: models.Rect{Width: 10, Height: 10}, OriginalStrokeIDs: []string{"s1"}}}
	require.True(t, store.Absorb(room, store.Generation(room), []models.Stroke{s1, cut}, map[string]bool{"s1": true}))

	assert.Empty(t, store.Pending(room))
	assert.Equal(t, []string{"cut"}, models.StrokeIDs(store.Authoritative(room)))
}

func TestAbsorbKeepsDerivedStrokesOfPendingRecord(t *testing.T) {
	store := NewStrokeStore(IDMatcher{})
	record := models.Stroke{ID: "cut", User: "u1", Timestamp: 2000, RoomID: room,
		PathData: models.Cut{Rect: models.Rect{Width: 10, Height: 10}}}
	piece := stroke("piece", "u1", 2001, 3)
	piece.ParentCutID = "cut"
	store.AddPending(room, record)
	store.AddPending(room, piece)

	// The piece landed, its record has not.
	require.True(t, store.Absorb(room, store.Generation(room), []models.Stroke{piece}, map[string]bool{"piece": true}))

	assert.Equal(t, []string{"cut"}, models.StrokeIDs(store.Pending(room)))
	assert.Equal(t, []string{"piece"}, models.StrokeIDs(store.Authoritative(room)))
}

func TestMatcherByName(t *testing.T) {
	assert.IsType(t, IDMatcher{}, MatcherByName(""))
	assert.IsType(t, IDMatcher{}, MatcherByName("id"))
	assert.IsType(t, HeuristicMatcher{}, MatcherByName("heuristic"))
}
