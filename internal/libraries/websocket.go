package libraries

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"melina-canvas-sync/internal/models"
	"melina-canvas-sync/internal/render"
)

// WebSocketMessageType names the {type, data} envelopes exchanged with
// presentation clients.
type WebSocketMessageType string

const (
	WebSocketMessageTypePing      WebSocketMessageType = "ping"
	WebSocketMessageTypePong      WebSocketMessageType = "pong"
	WebSocketMessageTypeError     WebSocketMessageType = "error"
	WebSocketMessageTypeSubscribe WebSocketMessageType = "subscribe"
	WebSocketMessageTypeFrame     WebSocketMessageType = "frame"
	WebSocketMessageTypeNotice    WebSocketMessageType = "notice"
)

const sendBuffer = 256

type Client struct {
	ID     string
	Conn   *websocket.Conn
	Send   chan []byte
	Filter render.ViewFilter
	once   sync.Once
}

// FrameSource renders the current frame of a room.
type FrameSource interface {
	ActiveRoom() string
	Frame(roomID string, filter render.ViewFilter) ([]render.DrawCommand, error)
}

type subscription struct {
	client *Client
	filter render.ViewFilter
}

// Hub fans frames and notices out to every connected presentation client.
// Each client receives the frame rendered with its own view filter.
type Hub struct {
	Clients    map[string]*Client
	Register   chan *Client
	Unregister chan *Client
	Broadcast  chan []byte

	frames    chan string
	subscribe chan subscription
	source    FrameSource
}

type WebSocketMessage struct {
	Type WebSocketMessageType `json:"type"`
	Data interface{}          `json:"data,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type FramePayload struct {
	RoomID   string               `json:"roomId"`
	Filter   render.ViewFilter    `json:"filter"`
	Commands []render.DrawCommand `json:"commands"`
}

func NewHub(source FrameSource) *Hub {
	return &Hub{
		Clients:    make(map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan []byte, sendBuffer),
		frames:     make(chan string, sendBuffer),
		subscribe:  make(chan subscription),
		source:     source,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.Clients[client.ID] = client
			h.sendFrame(client, h.source.ActiveRoom())
		case client := <-h.Unregister:
			if _, exists := h.Clients[client.ID]; exists {
				delete(h.Clients, client.ID)
				client.once.Do(func() {
					close(client.Send)
				})
			}
		case sub := <-h.subscribe:
			if _, exists := h.Clients[sub.client.ID]; exists {
				sub.client.Filter = sub.filter
				h.sendFrame(sub.client, h.source.ActiveRoom())
			}
		case roomID := <-h.frames:
			for _, client := range h.Clients {
				h.sendFrame(client, roomID)
			}
		case message := <-h.Broadcast:
			for _, client := range h.Clients {
				h.SendMessage(client, message)
			}
		}
	}
}

// PublishFrame schedules a frame push for roomID to every client.
func (h *Hub) PublishFrame(roomID string) {
	select {
	case h.frames <- roomID:
	default:
		log.Printf("[hub] frame queue full, dropping update for room %s", roomID)
	}
}

// Notify broadcasts a notice. It implements models.Notifier.
func (h *Hub) Notify(n models.Notice) {
	msg, err := json.Marshal(WebSocketMessage{Type: WebSocketMessageTypeNotice, Data: n})
	if err != nil {
		log.Println("failed to marshal notice:", err)
		return
	}
	select {
	case h.Broadcast <- msg:
	default:
		log.Printf("[hub] broadcast queue full, dropping notice %s", n.Kind)
	}
}

// SendMessage queues message for client, dropping it when the client is
// not keeping up.
func (h *Hub) SendMessage(client *Client, message []byte) {
	select {
	case client.Send <- message:
	default:
		log.Printf("[hub] client %s is slow, dropping message", client.ID)
	}
}

func (h *Hub) sendFrame(client *Client, roomID string) {
	if roomID == "" || roomID != h.source.ActiveRoom() {
		return
	}
	cmds, err := h.source.Frame(roomID, client.Filter)
	if err != nil {
		log.Printf("[hub] frame for room %s unavailable: %v", roomID, err)
		return
	}
	msg, err := json.Marshal(WebSocketMessage{
		Type: WebSocketMessageTypeFrame,
		Data: &FramePayload{RoomID: roomID, Filter: client.Filter, Commands: cmds},
	})
	if err != nil {
		log.Println("failed to marshal frame:", err)
		return
	}
	h.SendMessage(client, msg)
}

// SendErrorMessage sends a standardized error message to a client
func SendErrorMessage(hub *Hub, client *Client, errorMsg string) {
	errorBytes, err := json.Marshal(WebSocketMessage{
		Type: WebSocketMessageTypeError,
		Data: &ErrorPayload{Message: errorMsg},
	})
	if err != nil {
		log.Println("failed to marshal error response:", err)
		return
	}
	hub.SendMessage(client, errorBytes)
}

func sendPongMessage(hub *Hub, client *Client) {
	pongBytes, err := json.Marshal(WebSocketMessage{Type: WebSocketMessageTypePong})
	if err != nil {
		log.Println("failed to marshal pong response:", err)
		return
	}
	hub.SendMessage(client, pongBytes)
}

// parseWebSocketMessage parses incoming websocket message and returns the message structure
func parseWebSocketMessage(msg []byte) (*WebSocketMessage, error) {
	var rawMessage struct {
		Type WebSocketMessageType `json:"type"`
		Data json.RawMessage      `json:"data,omitempty"`
	}
	if err := json.Unmarshal(msg, &rawMessage); err != nil {
		return nil, err
	}

	message := &WebSocketMessage{Type: rawMessage.Type}
	if rawMessage.Type == WebSocketMessageTypeSubscribe {
		var filter render.ViewFilter
		if len(rawMessage.Data) > 0 {
			if err := json.Unmarshal(rawMessage.Data, &filter); err != nil {
				return nil, err
			}
		}
		message.Data = &filter
	}
	return message, nil
}

func WebSocketHandler(hub *Hub) fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		client := &Client{
			ID:   uuid.NewString(),
			Conn: conn,
			Send: make(chan []byte, sendBuffer),
		}

		hub.Register <- client

		// Write loop
		go func() {
			defer conn.Close()
			for msg := range client.Send {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					log.Println("write error:", err)
					return
				}
			}
		}()

		// Read loop
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				log.Println("read error:", err)
				break
			}

			message, err := parseWebSocketMessage(msg)
			if err != nil {
				log.Println("failed to parse JSON:", err)
				SendErrorMessage(hub, client, "Invalid JSON format")
				continue
			}

			switch message.Type {
			case WebSocketMessageTypePing:
				sendPongMessage(hub, client)
			case WebSocketMessageTypeSubscribe:
				hub.subscribe <- subscription{client: client, filter: *message.Data.(*render.ViewFilter)}
			default:
				SendErrorMessage(hub, client, "Type is invalid or not provided")
			}
		}

		hub.Unregister <- client
		conn.Close()
	})
}
