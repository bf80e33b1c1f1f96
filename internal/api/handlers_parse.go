// handlers_parse.go - Parse session operation handlers
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/harlam357/hfm-net-sub005/internal/models"
	"github.com/harlam357/hfm-net-sub005/internal/storage"
)

// MIMEApplicationMsgpack is the content type of msgpack responses.
const MIMEApplicationMsgpack = "application/msgpack"

const (
	defaultLinePageSize = 500
	maxLinePageSize     = 5000
)

// ParseHandlerImpl implements the ParseHandler interface
type ParseHandlerImpl struct {
	store      storage.Store
	sessionMgr SessionManager
}

// NewParseHandler creates a new parse handler instance
func NewParseHandler(store storage.Store, sessionMgr SessionManager) ParseHandler {
	return &ParseHandlerImpl{
		store:      store,
		sessionMgr: sessionMgr,
	}
}

// HandleStartParse starts a new parsing session for a stored log
func (h *ParseHandlerImpl) HandleStartParse(c echo.Context) error {
	var req startParseRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.FileID == "" {
		return NewValidationError("fileId")
	}

	if _, err := h.store.Get(req.FileID); err != nil {
		return fromDomainError(err, "file", req.FileID)
	}
	path, err := h.store.GetFilePath(req.FileID)
	if err != nil {
		return NewInternalError("failed to get file path", err)
	}

	sess, err := h.sessionMgr.StartSession(req.FileID, path)
	if err != nil {
		return fromDomainError(err, "session", "")
	}
	return c.JSON(http.StatusAccepted, sess)
}

// HandleParseStatus returns the current status of a parsing session
func (h *ParseHandlerImpl) HandleParseStatus(c echo.Context) error {
	id := c.Param("sessionId")
	if id == "" {
		return NewValidationError("sessionId")
	}

	sess, ok := h.sessionMgr.GetSession(id)
	if !ok {
		return NewNotFoundError("session", id)
	}

	// Touch session to prevent cleanup while being viewed
	h.sessionMgr.TouchSession(id)

	return c.JSON(http.StatusOK, sess)
}

// HandleSessionKeepAlive extends session lifetime for active viewing
func (h *ParseHandlerImpl) HandleSessionKeepAlive(c echo.Context) error {
	id := c.Param("sessionId")
	if id == "" {
		return NewValidationError("sessionId")
	}

	if ok := h.sessionMgr.TouchSession(id); !ok {
		return NewNotFoundError("session", id)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleParseProgressStream streams parsing progress via SSE
func (h *ParseHandlerImpl) HandleParseProgressStream(c echo.Context) error {
	id := c.Param("sessionId")
	if id == "" {
		return NewValidationError("sessionId")
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	timeout := time.NewTimer(5 * time.Minute)
	defer timeout.Stop()

	for {
		sess, ok := h.sessionMgr.GetSession(id)
		if !ok {
			h.sendSSEError(c, "session not found")
			return nil
		}
		h.sendSSEData(c, sess)
		if sess.Status == models.SessionStatusComplete || sess.Status == models.SessionStatusError {
			return nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		case <-timeout.C:
			h.sendSSEError(c, "stream timeout")
			return nil
		}
	}
}

// HandleClientRuns returns the ClientRun/SlotRun/UnitRun hierarchy as JSON
func (h *ParseHandlerImpl) HandleClientRuns(c echo.Context) error {
	id := c.Param("sessionId")
	runs, err := h.sessionMgr.ClientRuns(id)
	if err != nil {
		return fromDomainError(err, "session", id)
	}
	h.sessionMgr.TouchSession(id)
	return c.JSON(http.StatusOK, clientRunsResponse{SessionID: id, ClientRuns: runs})
}

// HandleClientRunsMsgpack returns the run hierarchy in MessagePack format
func (h *ParseHandlerImpl) HandleClientRunsMsgpack(c echo.Context) error {
	id := c.Param("sessionId")
	runs, err := h.sessionMgr.ClientRuns(id)
	if err != nil {
		return fromDomainError(err, "session", id)
	}
	h.sessionMgr.TouchSession(id)

	data, err := msgpack.Marshal(clientRunsResponse{SessionID: id, ClientRuns: runs})
	if err != nil {
		return NewInternalError("failed to encode runs", err)
	}
	return c.Blob(http.StatusOK, MIMEApplicationMsgpack, data)
}

// HandleParserErrors returns the ParserError lines grouped by client run
func (h *ParseHandlerImpl) HandleParserErrors(c echo.Context) error {
	id := c.Param("sessionId")
	errs, err := h.sessionMgr.ParserErrors(id)
	if err != nil {
		return fromDomainError(err, "session", id)
	}
	return c.JSON(http.StatusOK, errs)
}

// HandleRunLines returns a page of the lines of one client run
func (h *ParseHandlerImpl) HandleRunLines(c echo.Context) error {
	id := c.Param("sessionId")
	run, err := intParam(c, "run")
	if err != nil {
		return err
	}
	offset, limit, err := pageParams(c)
	if err != nil {
		return err
	}

	lines, total, err := h.sessionMgr.RunLines(id, run, offset, limit)
	if err != nil {
		return fromDomainError(err, "client run", fmt.Sprintf("%s/%d", id, run))
	}
	return c.JSON(http.StatusOK, linesResponse{Lines: lines, Offset: offset, Limit: limit, Total: total})
}

// HandleUnitLines returns a page of the lines of one unit run
func (h *ParseHandlerImpl) HandleUnitLines(c echo.Context) error {
	id := c.Param("sessionId")
	run, err := intParam(c, "run")
	if err != nil {
		return err
	}
	slot, err := intParam(c, "slot")
	if err != nil {
		return err
	}
	unit, err := intParam(c, "unit")
	if err != nil {
		return err
	}
	offset, limit, err := pageParams(c)
	if err != nil {
		return err
	}

	lines, total, err := h.sessionMgr.UnitLines(id, run, slot, unit, offset, limit)
	if err != nil {
		return fromDomainError(err, "unit run", fmt.Sprintf("%s/%d/%d/%d", id, run, slot, unit))
	}
	return c.JSON(http.StatusOK, linesResponse{Lines: lines, Offset: offset, Limit: limit, Total: total})
}

// Request/Response types

type startParseRequest struct {
	FileID string `json:"fileId"`
}

type clientRunsResponse struct {
	SessionID  string              `json:"sessionId" msgpack:"sessionId"`
	ClientRuns []*models.ClientRun `json:"clientRuns" msgpack:"clientRuns"`
}

type linesResponse struct {
	Lines  []models.LogLine `json:"lines"`
	Offset int              `json:"offset"`
	Limit  int              `json:"limit"`
	Total  int              `json:"total"`
}

// Helper methods

func intParam(c echo.Context, name string) (int, error) {
	n, err := strconv.Atoi(c.Param(name))
	if err != nil || n < 0 {
		return 0, NewValidationError(name)
	}
	return n, nil
}

func pageParams(c echo.Context) (int, int, error) {
	offset := 0
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, NewValidationError("offset")
		}
		offset = n
	}
	limit := defaultLinePageSize
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, 0, NewValidationError("limit")
		}
		limit = min(n, maxLinePageSize)
	}
	return offset, limit, nil
}

func (h *ParseHandlerImpl) sendSSEData(c echo.Context, data interface{}) {
	jsonData, _ := json.Marshal(data)
	fmt.Fprintf(c.Response(), "data: %s\n\n", jsonData)
	c.Response().Flush()
}

func (h *ParseHandlerImpl) sendSSEError(c echo.Context, message string) {
	h.sendSSEData(c, map[string]string{"error": message})
}
