package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"melina-canvas-sync/internal/board"
	"melina-canvas-sync/internal/export"
	"melina-canvas-sync/internal/history"
	"melina-canvas-sync/internal/models"
	"melina-canvas-sync/internal/render"
)

// RoomHandler exposes the active board to the presentation layer.
type RoomHandler struct {
	board *board.Board
}

func NewRoomHandler(b *board.Board) *RoomHandler {
	return &RoomHandler{board: b}
}

func (h *RoomHandler) Health(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":     "ok",
		"user":       h.board.UserID(),
		"activeRoom": h.board.ActiveRoom(),
	})
}

func (h *RoomHandler) Join(c *fiber.Ctx) error {
	roomID := c.Params("roomId")
	view, err := h.board.JoinRoom(c.UserContext(), roomID)
	if err != nil && !errors.Is(err, models.ErrNetwork) {
		return h.fail(c, err)
	}
	resp := fiber.Map{
		"roomId":   roomID,
		"strokes":  len(view),
		"commands": render.Render(view, render.ViewFilter{}),
	}
	if err != nil {
		// the room is joined; only the initial load failed
		resp["error"] = err.Error()
		return c.Status(fiber.StatusBadGateway).JSON(resp)
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *RoomHandler) Frame(c *fiber.Ctx) error {
	filter, err := parseFilter(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	cmds, err := h.board.Frame(c.Params("roomId"), filter)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"commands": cmds,
	})
}

func (h *RoomHandler) Submit(c *fiber.Ctx) error {
	var stroke models.Stroke
	if err := c.BodyParser(&stroke); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	saved, err := h.board.Submit(c.UserContext(), c.Params("roomId"), stroke)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"stroke": saved,
	})
}

func (h *RoomHandler) Cut(c *fiber.Ctx) error {
	var rect models.Rect
	if err := c.BodyParser(&rect); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	res, err := h.board.Cut(c.UserContext(), c.Params("roomId"), rect)
	if err != nil {
		return h.fail(c, err)
	}
	if res.Empty() {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"affected": []string{},
		})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"cutId":     res.CutRecord.ID,
		"affected":  models.StrokeIDs(res.Affected),
		"clipboard": len(res.Clipboard),
	})
}

func (h *RoomHandler) Paste(c *fiber.Ctx) error {
	var anchor models.Point
	if err := c.BodyParser(&anchor); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	res, err := h.board.Paste(c.UserContext(), c.Params("roomId"), anchor)
	var partial *board.PartialPasteError
	if errors.As(err, &partial) {
		return c.Status(fiber.StatusMultiStatus).JSON(fiber.Map{
			"pasteId": res.Record.ID,
			"pasted":  models.StrokeIDs(res.Pasted),
			"missing": partial.Missing,
			"error":   err.Error(),
		})
	}
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"pasteId": res.Record.ID,
		"pasted":  models.StrokeIDs(res.Pasted),
	})
}

func (h *RoomHandler) Undo(c *fiber.Ctx) error {
	out, err := h.board.Undo(c.UserContext(), c.Params("roomId"))
	if err != nil {
		return h.fail(c, err)
	}
	return h.outcome(c, out)
}

func (h *RoomHandler) Redo(c *fiber.Ctx) error {
	out, err := h.board.Redo(c.UserContext(), c.Params("roomId"))
	if err != nil {
		return h.fail(c, err)
	}
	return h.outcome(c, out)
}

func (h *RoomHandler) History(c *fiber.Ctx) error {
	av, err := h.board.Availability(c.UserContext(), c.Params("roomId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"undoAvailable": av.CanUndo,
		"redoAvailable": av.CanRedo,
	})
}

func (h *RoomHandler) Refresh(c *fiber.Ctx) error {
	rng, err := parseRange(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	view, err := h.board.Refresh(c.UserContext(), c.Params("roomId"), rng)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"strokes": len(view),
	})
}

func (h *RoomHandler) Clear(c *fiber.Ctx) error {
	clearedAt, err := h.board.Clear(c.UserContext(), c.Params("roomId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"clearedAt": clearedAt,
		"message":   "Canvas cleared successfully",
	})
}

func (h *RoomHandler) Export(c *fiber.Ctx) error {
	format, err := export.ParseFormat(c.Query("format", string(export.FormatPNG)))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	filter, err := parseFilter(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	roomID := c.Params("roomId")
	cmds, err := h.board.Frame(roomID, filter)
	if err != nil {
		return h.fail(c, err)
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, cmds, roomID); err != nil {
		log.Println(err, "Error exporting room")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to export room",
		})
	}
	c.Set(fiber.HeaderContentType, format.ContentType())
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", roomID+"."+string(format)))
	return c.Status(fiber.StatusOK).Send(buf.Bytes())
}

func (h *RoomHandler) outcome(c *fiber.Ctx, out history.Outcome) error {
	resp := fiber.Map{
		"status":                   out.Status,
		"shouldRefreshFromBackend": out.ShouldRefreshFromBackend,
	}
	if out.Backend != "" {
		resp["backend"] = out.Backend
	}
	if out.Err != nil {
		resp["error"] = out.Err.Error()
	}
	code := fiber.StatusOK
	switch {
	case errors.Is(out.Err, models.ErrDivergence):
		code = fiber.StatusConflict
	case out.Status == history.StatusFailed:
		code = fiber.StatusBadGateway
	}
	return c.Status(code).JSON(resp)
}

// fail maps board errors to status codes.
func (h *RoomHandler) fail(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrWrongRoom):
		code = fiber.StatusConflict
	case errors.Is(err, board.ErrInvalidStroke), errors.Is(err, board.ErrEmptyClipboard):
		code = fiber.StatusBadRequest
	case errors.Is(err, models.ErrNetwork):
		code = fiber.StatusBadGateway
	default:
		log.Println(err, "Error handling room request")
	}
	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}

func parseFilter(c *fiber.Ctx) (render.ViewFilter, error) {
	filter := render.ViewFilter{User: c.Query("user")}
	if raw := c.Query("bucket"); raw != "" {
		bucket, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return render.ViewFilter{}, fmt.Errorf("invalid bucket %q", raw)
		}
		filter.Bucket = &bucket
	}
	return filter, nil
}

func parseRange(c *fiber.Ctx) (*models.TimeRange, error) {
	start, end := c.Query("start"), c.Query("end")
	if start == "" && end == "" {
		return nil, nil
	}
	s, err := strconv.ParseInt(start, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid start %q", start)
	}
	e, err := strconv.ParseInt(end, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid end %q", end)
	}
	if e < s {
		return nil, fmt.Errorf("end %d is before start %d", e, s)
	}
	return &models.TimeRange{Start: s, End: e}, nil
}
