package repo

import (
	"time"

	"melina-canvas-sync/internal/models"
)

// Matcher decides whether a pending stroke has been echoed back by the backend.
type Matcher interface {
	Match(pending, authoritative models.Stroke) bool
}

// IDMatcher trusts the backend to preserve client-assigned ids.
type IDMatcher struct{}

func (IDMatcher) Match(a, b models.Stroke) bool {
	return a.ID == b.ID
}

// HeuristicMatcher falls back to user, time proximity and point count for
// backends that reassign ids. It is a workaround, kept isolated so it can be
// swapped for IDMatcher once the backend echoes client ids.
type HeuristicMatcher struct {
	Window        time.Duration
	MaxPointDelta int
}

// DefaultHeuristicMatcher matches within 3s and 2 points.
func DefaultHeuristicMatcher() HeuristicMatcher {
	return HeuristicMatcher{Window: 3 * time.Second, MaxPointDelta: 2}
}

func (m HeuristicMatcher) Match(a, b models.Stroke) bool {
	if a.ID == b.ID {
		return true
	}
	if a.User != b.User {
		return false
	}
	if abs64(a.Timestamp-b.Timestamp) >= m.Window.Milliseconds() {
		return false
	}
	return abs(a.PointCount()-b.PointCount()) <= m.MaxPointDelta
}

// MatcherByName maps a config value to a strategy.
func MatcherByName(name string) Matcher {
	if name == "heuristic" {
		return DefaultHeuristicMatcher()
	}
	return IDMatcher{}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
