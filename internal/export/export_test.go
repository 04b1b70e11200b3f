package export

import (
	"bytes"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"melina-canvas-sync/internal/models"
	"melina-canvas-sync/internal/render"
)

func frameCommands() []render.DrawCommand {
	view := []models.Stroke{
		{ID: "a", Color: "#ff0000", LineWidth: 4, Timestamp: 1, User: "alice",
			PathData: models.Freehand{Points: []models.Point{{X: 0, Y: 0}, {X: 50, Y: 80}, {X: 100, Y: 20}}}},
		{ID: "b", Color: "#0000ff", LineWidth: 2, Timestamp: 2, User: "bob",
			PathData: models.Shape{Type: models.ShapeCircle, Start: models.Point{X: 60, Y: 60}, End: models.Point{X: 80, Y: 60}}},
		{ID: "dot", Color: "#00ff00", LineWidth: 6, Timestamp: 3, User: "bob",
			PathData: models.Freehand{Points: []models.Point{{X: 10, Y: 90}}}},
		{ID: "cut", Timestamp: 4, PathData: models.Cut{Rect: models.Rect{X: 40, Y: 40, Width: 10, Height: 10}}},
		{ID: "img", Timestamp: 5, PathData: models.Image{Src: "x.png", Rect: models.Rect{X: 5, Y: 5, Width: 20, Height: 20}}},
	}
	return render.Render(view, render.ViewFilter{User: "alice"})
}

func TestPNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PNG(&buf, frameCommands()))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	bounds, ok := render.Bounds(frameCommands())
	require.True(t, ok)
	assert.Equal(t, int(math.Ceil(bounds.Width+2*padding)), img.Bounds().Dx())
	assert.Equal(t, int(math.Ceil(bounds.Height+2*padding)), img.Bounds().Dy())
}

func TestPNGEmptyFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PNG(&buf, nil))
	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, emptyWidth, img.Bounds().Dx())
	assert.Equal(t, emptyHeight, img.Bounds().Dy())
}

func TestPDF(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PDF(&buf, frameCommands(), "room"))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestLargeFrameIsScaled(t *testing.T) {
	cmds := []render.DrawCommand{{Op: render.OpPath, Color: "#000", LineWidth: 1,
		Points: []models.Point{{X: 0, Y: 0}, {X: 20000, Y: 100}}}}
	f := newFrame(cmds)
	assert.InDelta(t, float64(maxSide), f.width, 1e-6)
	assert.Less(t, f.scale, 1.0)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"pdf": FormatPDF, "PNG": FormatPNG, "out/room.pdf": FormatPDF, "snap.png": FormatPNG} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("gif")
	assert.Error(t, err)
	assert.Equal(t, "application/pdf", FormatPDF.ContentType())
}
