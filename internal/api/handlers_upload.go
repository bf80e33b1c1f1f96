// handlers_upload.go - Client log file handlers
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/harlam357/hfm-net-sub005/internal/parser"
	"github.com/harlam357/hfm-net-sub005/internal/storage"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 100
)

// RunDeleter drops persisted runs of a deleted file.
type RunDeleter interface {
	Delete(ctx context.Context, logID string) error
}

// UploadHandlerImpl implements the UploadHandler interface
type UploadHandlerImpl struct {
	store  storage.Store
	runs   RunDeleter
	logger *slog.Logger
}

// NewUploadHandler creates a new upload handler instance. runs may be nil
// when parsed runs are not persisted.
func NewUploadHandler(store storage.Store, runs RunDeleter) UploadHandler {
	return &UploadHandlerImpl{
		store:  store,
		runs:   runs,
		logger: slog.With("component", "api.upload"),
	}
}

// HandleUploadFile accepts a multipart "file" field. Uploads that do not look
// like a FAHClient log, plain or gzip, are rejected and removed.
func (h *UploadHandlerImpl) HandleUploadFile(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no file provided", err)
	}

	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	info, err := h.store.Save(file.Filename, src)
	if err != nil {
		return NewInternalError("failed to save file", err)
	}

	path, err := h.store.GetFilePath(info.ID)
	if err != nil {
		return NewInternalError("failed to get file path", err)
	}
	ok, err := parser.CanParse(path)
	if err != nil || !ok {
		if delErr := h.store.Delete(info.ID); delErr != nil {
			h.logger.Warn("failed to remove rejected upload", "id", info.ID, "error", delErr)
		}
		if err == nil {
			err = parser.ErrNotFahLog
		}
		return NewBadRequestError("unsupported log format", err)
	}

	return c.JSON(http.StatusCreated, info)
}

// HandleGetRecentFiles returns the most recently uploaded logs
func (h *UploadHandlerImpl) HandleGetRecentFiles(c echo.Context) error {
	limit := defaultRecentLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return NewValidationError("limit")
		}
		limit = min(n, maxRecentLimit)
	}

	files, err := h.store.List(limit)
	if err != nil {
		return NewInternalError("failed to list files", err)
	}
	return c.JSON(http.StatusOK, files)
}

// HandleGetFile returns metadata for a specific file
func (h *UploadHandlerImpl) HandleGetFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	info, err := h.store.Get(id)
	if err != nil {
		return fromDomainError(err, "file", id)
	}
	return c.JSON(http.StatusOK, info)
}

// HandleDeleteFile deletes a stored log and its persisted runs
func (h *UploadHandlerImpl) HandleDeleteFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	if err := h.store.Delete(id); err != nil {
		return fromDomainError(err, "file", id)
	}
	if h.runs != nil {
		if err := h.runs.Delete(c.Request().Context(), id); err != nil {
			h.logger.Warn("failed to delete persisted runs", "id", id, "error", err)
		}
	}
	return c.NoContent(http.StatusNoContent)
}
