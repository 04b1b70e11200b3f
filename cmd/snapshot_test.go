package main

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"melina-canvas-sync/internal/backend"
	"melina-canvas-sync/internal/board"
	"melina-canvas-sync/internal/models"
	"melina-canvas-sync/internal/render"
)

func seeded(ts int64, user string) models.Stroke {
	return models.Stroke{
		ID:        fmt.Sprintf("%s-%d", user, ts),
		Color:     "#000000",
		LineWidth: 2,
		PathData:  models.Freehand{Points: []models.Point{{X: 0, Y: 0}, {X: 10, Y: 10}}},
		Timestamp: ts,
		User:      user,
		RoomID:    "r1",
	}
}

func TestSnapshotRendersRecalledRange(t *testing.T) {
	mem := backend.NewMemory()
	mem.Seed("r1", seeded(1000, "alice"), seeded(2000, "bob"), seeded(3000, "alice"))

	b := board.New(board.Config{UserID: "viewer", Debounce: time.Millisecond}, mem.For("viewer"), nil)
	defer b.Close()

	cmds, err := snapshot(context.Background(), b, "r1", nil, render.ViewFilter{})
	require.NoError(t, err)
	assert.Len(t, cmds, 3)

	cmds, err = snapshot(context.Background(), b, "r1", &models.TimeRange{Start: 1500, End: 3500}, render.ViewFilter{User: "bob"})
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.False(t, cmds[0].Faded)
	assert.True(t, cmds[1].Faded)
}

func TestSnapshotFailsWhenBackendIsDown(t *testing.T) {
	mem := backend.NewMemory()
	mem.FailNext("fetch", 1)

	b := board.New(board.Config{UserID: "viewer"}, mem.For("viewer"), nil)
	defer b.Close()

	_, err := snapshot(context.Background(), b, "r1", nil, render.ViewFilter{})
	assert.ErrorIs(t, err, models.ErrNetwork)
}

func TestSnapshotRange(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    *models.TimeRange
		wantErr bool
	}{
		{"none", nil, nil, false},
		{"both", []string{"--start", "5", "--end", "9"}, &models.TimeRange{Start: 5, End: 9}, false},
		{"start only", []string{"--start", "5"}, nil, true},
		{"inverted", []string{"--start", "9", "--end", "5"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{Use: "snapshot"}
			addSnapshotFlags(cmd)
			require.NoError(t, cmd.Flags().Parse(tt.args))
			got, err := snapshotRange(cmd)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
