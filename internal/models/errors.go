package models

import "errors"

var (
	// ErrNetwork marks a rejected or failed collaborator call.
	ErrNetwork = errors.New("network failure")
	// ErrDivergence marks a backend noop where local history expected an effect.
	ErrDivergence = errors.New("history diverged from backend")
	// ErrPartialSubmit marks a paste where only some children were persisted.
	ErrPartialSubmit = errors.New("partial submit failure")
	// ErrWrongRoom is returned for operations on a room that is not active.
	ErrWrongRoom = errors.New("room is not active")
)

type NoticeKind string

const (
	NoticeNetwork       NoticeKind = "network_failure"
	NoticeDivergence    NoticeKind = "divergence"
	NoticePartialSubmit NoticeKind = "partial_submit_failure"
)

// Notice is a non-modal message surfaced to the presentation layer.
type Notice struct {
	RoomID  string     `json:"roomId"`
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
	Missing []string   `json:"missing,omitempty"`
}

// Notifier delivers notices. Implementations must not block.
type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }
