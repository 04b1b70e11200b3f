package v1

import (
	"melina-canvas-sync/internal/handlers"

	"github.com/gofiber/fiber/v2"
)

func registerRooms(r fiber.Router, roomHandler *handlers.RoomHandler) {
	rooms := r.Group("/rooms/:roomId")

	rooms.Post("/join", roomHandler.Join)
	rooms.Get("/frame", roomHandler.Frame)
	rooms.Post("/strokes", roomHandler.Submit)
	rooms.Post("/cut", roomHandler.Cut)
	rooms.Post("/paste", roomHandler.Paste)
	rooms.Post("/undo", roomHandler.Undo)
	rooms.Post("/redo", roomHandler.Redo)
	rooms.Get("/history", roomHandler.History)
	rooms.Post("/refresh", roomHandler.Refresh)
	rooms.Delete("/clear", roomHandler.Clear)
	rooms.Get("/export", roomHandler.Export)
}
