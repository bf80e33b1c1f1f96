// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"github.com/labstack/echo/v4"

	"github.com/harlam357/hfm-net-sub005/internal/models"
	"github.com/harlam357/hfm-net-sub005/internal/session"
)

// UploadHandler handles client log file operations
type UploadHandler interface {
	HandleUploadFile(c echo.Context) error
	HandleGetRecentFiles(c echo.Context) error
	HandleGetFile(c echo.Context) error
	HandleDeleteFile(c echo.Context) error
}

// ParseHandler handles parsing session operations
type ParseHandler interface {
	HandleStartParse(c echo.Context) error
	HandleParseStatus(c echo.Context) error
	HandleParseProgressStream(c echo.Context) error
	HandleSessionKeepAlive(c echo.Context) error
	HandleClientRuns(c echo.Context) error
	HandleClientRunsMsgpack(c echo.Context) error
	HandleParserErrors(c echo.Context) error
	HandleRunLines(c echo.Context) error
	HandleUnitLines(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// SessionManager defines the interface for session management
// This allows mocking in tests
type SessionManager interface {
	StartSession(fileID, filePath string) (*models.ParseSession, error)
	GetSession(id string) (*models.ParseSession, bool)
	TouchSession(id string) bool
	ClientRuns(id string) ([]*models.ClientRun, error)
	ParserErrors(id string) ([]session.RunParserErrors, error)
	RunLines(id string, run, offset, limit int) ([]models.LogLine, int, error)
	UnitLines(id string, run, slot, unit, offset, limit int) ([]models.LogLine, int, error)
	SessionCounts() (total, parsing int)
}
