package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"melina-canvas-sync/internal/api"
	"melina-canvas-sync/internal/api/routes"
	"melina-canvas-sync/internal/backend"
	"melina-canvas-sync/internal/board"
	"melina-canvas-sync/internal/config"
	"melina-canvas-sync/internal/handlers"
	"melina-canvas-sync/internal/libraries"
	"melina-canvas-sync/internal/models"
	"melina-canvas-sync/internal/render"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and websocket server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.BackendURL == "" {
		return errors.New("BACKEND_URL is required")
	}

	client := backend.NewHTTPClient(cfg.BackendURL, cfg.UserID, cfg.BackendTimeout)

	// the hub renders from the board, the board notifies through the hub
	var hub *libraries.Hub
	b := board.New(cfg.Board(), client, models.NotifierFunc(func(n models.Notice) {
		hub.Notify(n)
	}))
	hub = libraries.NewHub(b)
	b.OnFrame(func(roomID string, _ []render.DrawCommand) {
		hub.PublishFrame(roomID)
	})
	go hub.Run()

	var events board.EventSource
	if cfg.BackendWSURL != "" {
		events = backend.NewEventStream(cfg.BackendWSURL, cfg.UserID)
	} else {
		log.Println("Warning: BACKEND_WS_URL not set, relying on periodic refresh")
	}

	// Create and configure Fiber app
	app := api.NewServer()

	// Register routes
	routes.Register(app, handlers.NewRoomHandler(b), hub)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Run(gctx, events) })
	g.Go(func() error { return api.StartServer(app, cfg.Port) })
	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Println("Failed to run server:", err)
		return err
	}
	return nil
}
