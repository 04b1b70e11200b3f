package routes

import (
	v1 "melina-canvas-sync/internal/api/routes/v1"
	"melina-canvas-sync/internal/handlers"
	"melina-canvas-sync/internal/libraries"

	"github.com/gofiber/fiber/v2"
)

func Register(app *fiber.App, roomHandler *handlers.RoomHandler, hub *libraries.Hub) {
	// API v1 group
	api := app.Group("/api")
	v1Group := api.Group("/v1")

	// Register v1 routes
	v1.RegisterRoutes(v1Group, roomHandler, hub)
}
