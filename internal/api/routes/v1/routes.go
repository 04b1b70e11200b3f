package v1

import (
	"melina-canvas-sync/internal/handlers"
	"melina-canvas-sync/internal/libraries"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, roomHandler *handlers.RoomHandler, hub *libraries.Hub) {
	registerHealth(r, roomHandler)
	registerRooms(r, roomHandler)

	if hub != nil {
		registerWebSocket(r, hub)
	}
}

func registerHealth(r fiber.Router, roomHandler *handlers.RoomHandler) {
	r.Get("/health", roomHandler.Health)
}

func registerWebSocket(r fiber.Router, hub *libraries.Hub) {
	r.Get("/ws", libraries.WebSocketHandler(hub))
}
