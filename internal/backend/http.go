package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"melina-canvas-sync/internal/models"
)

// HTTPClient talks to the authoritative log over its REST surface using
// fiber's client agent.
type HTTPClient struct {
	baseURL string
	user    string
	timeout time.Duration
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient returns a client for baseURL acting as user. A zero timeout
// leaves calls unbounded.
func NewHTTPClient(baseURL, user string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		user:    user,
		timeout: timeout,
	}
}

type submitBody struct {
	Stroke        models.Stroke `json:"stroke"`
	SkipUndoStack bool          `json:"skipUndoStack"`
}

func (c *HTTPClient) FetchStrokes(ctx context.Context, roomID string, rng *models.TimeRange) ([]models.Stroke, error) {
	path := roomPath(roomID, "strokes")
	if rng != nil {
		q := url.Values{}
		q.Set("start", strconv.FormatInt(rng.Start, 10))
		q.Set("end", strconv.FormatInt(rng.End, 10))
		path += "?" + q.Encode()
	}
	var resp struct {
		Strokes []models.Stroke `json:"strokes"`
	}
	if err := c.do(ctx, fiber.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Strokes, nil
}

func (c *HTTPClient) SubmitStroke(ctx context.Context, roomID string, stroke models.Stroke, opts SubmitOptions) error {
	body := submitBody{Stroke: stroke, SkipUndoStack: opts.SkipUndoStack}
	return c.do(ctx, fiber.MethodPost, roomPath(roomID, "strokes"), body, nil)
}

func (c *HTTPClient) Undo(ctx context.Context, roomID string) (Result, error) {
	var res Result
	err := c.do(ctx, fiber.MethodPost, roomPath(roomID, "undo"), nil, &res)
	return res, err
}

func (c *HTTPClient) Redo(ctx context.Context, roomID string) (Result, error) {
	var res Result
	err := c.do(ctx, fiber.MethodPost, roomPath(roomID, "redo"), nil, &res)
	return res, err
}

func (c *HTTPClient) HistoryStatus(ctx context.Context, roomID string) (Availability, error) {
	var av Availability
	err := c.do(ctx, fiber.MethodGet, roomPath(roomID, "history"), nil, &av)
	return av, err
}

func (c *HTTPClient) ClearRoom(ctx context.Context, roomID string) (int64, error) {
	var resp struct {
		ClearedAt int64 `json:"clearedAt"`
	}
	if err := c.do(ctx, fiber.MethodDelete, roomPath(roomID, "strokes"), nil, &resp); err != nil {
		return 0, err
	}
	return resp.ClearedAt, nil
}

type agentResult struct {
	code int
	body []byte
	err  error
}

// do performs one request. The agent itself has no context support, so the
// call runs in its own goroutine and is abandoned if ctx ends first.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a := fiber.AcquireAgent()
	req := a.Request()
	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	a.Set("X-User-Id", c.user)
	a.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)
	if body != nil {
		a.JSON(body)
	}
	if c.timeout > 0 {
		a.Timeout(c.timeout)
	}
	if err := a.Parse(); err != nil {
		fiber.ReleaseAgent(a)
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	done := make(chan agentResult, 1)
	go func() {
		code, respBody, errs := a.Bytes()
		var err error
		if len(errs) > 0 {
			err = errs[0]
		}
		done <- agentResult{code: code, body: respBody, err: err}
	}()

	var res agentResult
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res = <-done:
	}

	if res.err != nil {
		return fmt.Errorf("%s %s: %v: %w", method, path, res.err, models.ErrNetwork)
	}
	if res.code >= fiber.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(res.body, &e)
		return fmt.Errorf("%s %s: status %d %s: %w", method, path, res.code, e.Error, models.ErrNetwork)
	}
	if out == nil || len(res.body) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.body, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

func roomPath(roomID, tail string) string {
	return "/rooms/" + url.PathEscape(roomID) + "/" + tail
}
