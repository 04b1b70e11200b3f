package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"melina-canvas-sync/internal/backend"
	"melina-canvas-sync/internal/board"
	"melina-canvas-sync/internal/config"
	"melina-canvas-sync/internal/export"
	"melina-canvas-sync/internal/models"
	"melina-canvas-sync/internal/render"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Reconcile a room once and export its frame",
	Example: `  canvas-sync snapshot --room r1 --out r1.png
  canvas-sync snapshot --room r1 --out r1.pdf --user alice --start 1700000000000 --end 1700000600000`,
	Args: cobra.NoArgs,
	RunE: runSnapshot,
}

func init() {
	addSnapshotFlags(snapshotCmd)
	rootCmd.AddCommand(snapshotCmd)
}

func addSnapshotFlags(cmd *cobra.Command) {
	cmd.Flags().String("room", "", "room to export (required)")
	cmd.Flags().String("out", "", "output file, .pdf or .png (required)")
	cmd.Flags().String("user", "", "highlight this user's strokes")
	cmd.Flags().Int64("start", 0, "history recall start, ms epoch")
	cmd.Flags().Int64("end", 0, "history recall end, ms epoch")
	_ = cmd.MarkFlagRequired("room")
	_ = cmd.MarkFlagRequired("out")
}

func runSnapshot(cmd *cobra.Command, _ []string) error {
	roomID, _ := cmd.Flags().GetString("room")
	out, _ := cmd.Flags().GetString("out")
	user, _ := cmd.Flags().GetString("user")

	format, err := export.ParseFormat(out)
	if err != nil {
		return err
	}
	rng, err := snapshotRange(cmd)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.BackendURL == "" {
		return errors.New("BACKEND_URL is required")
	}
	cfg.RefreshInterval = 0

	b := board.New(cfg.Board(), backend.NewHTTPClient(cfg.BackendURL, cfg.UserID, cfg.BackendTimeout), nil)
	defer b.Close()

	cmds, err := snapshot(cmd.Context(), b, roomID, rng, render.ViewFilter{User: user})
	if err != nil {
		return err
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}
	if err := export.Write(f, format, cmds, roomID); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	log.Printf("✅ Wrote %d draw commands of room %s to %s\n", len(cmds), roomID, out)
	return nil
}

func snapshot(ctx context.Context, b *board.Board, roomID string, rng *models.TimeRange, filter render.ViewFilter) ([]render.DrawCommand, error) {
	if _, err := b.JoinRoom(ctx, roomID); err != nil {
		return nil, err
	}
	if rng != nil {
		if _, err := b.Refresh(ctx, roomID, rng); err != nil {
			return nil, err
		}
	}
	return b.Frame(roomID, filter)
}

func snapshotRange(cmd *cobra.Command) (*models.TimeRange, error) {
	if !cmd.Flags().Changed("start") && !cmd.Flags().Changed("end") {
		return nil, nil
	}
	start, _ := cmd.Flags().GetInt64("start")
	end, _ := cmd.Flags().GetInt64("end")
	if !cmd.Flags().Changed("end") || end < start {
		return nil, fmt.Errorf("--end must be set and not before --start")
	}
	return &models.TimeRange{Start: start, End: end}, nil
}
