package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const defaultReconnectDelay = 2 * time.Second

// EventStream consumes the backend's realtime push channel. Messages use the
// {type, data} envelope.
type EventStream struct {
	url    string
	user   string
	dialer *websocket.Dialer

	ReconnectDelay time.Duration
}

func NewEventStream(url, user string) *EventStream {
	return &EventStream{
		url:            url,
		user:           user,
		dialer:         websocket.DefaultDialer,
		ReconnectDelay: defaultReconnectDelay,
	}
}

type eventEnvelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ParseEvent decodes one pushed message.
func ParseEvent(msg []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return Event{}, fmt.Errorf("invalid event envelope: %w", err)
	}
	switch env.Type {
	case EventNewStroke, EventStrokeUndone, EventStrokeRedone, EventCanvasCleared:
	default:
		return Event{}, fmt.Errorf("unknown event type %q", env.Type)
	}
	ev := Event{}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return Event{}, fmt.Errorf("invalid %s payload: %w", env.Type, err)
		}
	}
	ev.Type = env.Type
	if ev.RoomID == "" && ev.Stroke != nil {
		ev.RoomID = ev.Stroke.RoomID
	}
	return ev, nil
}

// Run keeps a connection open until ctx ends, reconnecting after failures.
// Each decoded event is passed to handle; malformed messages are logged and skipped.
func (s *EventStream) Run(ctx context.Context, handle func(Event)) error {
	for {
		err := s.session(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("[backend] event stream dropped: %v, reconnecting in %s", err, s.ReconnectDelay)

		t := time.NewTimer(s.ReconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (s *EventStream) session(ctx context.Context, handle func(Event)) error {
	header := http.Header{}
	header.Set("X-User-Id", s.user)
	conn, _, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.Close()
	log.Printf("[backend] event stream connected to %s", s.url)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		ev, err := ParseEvent(msg)
		if err != nil {
			log.Printf("[backend] skipping event: %v", err)
			continue
		}
		handle(ev)
	}
}
