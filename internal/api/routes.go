// routes.go - Route registration helpers
package api

import (
	"github.com/labstack/echo/v4"

	"github.com/harlam357/hfm-net-sub005/internal/parser"
	"github.com/harlam357/hfm-net-sub005/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store      storage.Store
	SessionMgr SessionManager
	RunStore   *parser.RunStore // nil unless runs are persisted
	Version    string
}

// Handlers holds all handler instances
type Handlers struct {
	Health HealthHandler
	Upload UploadHandler
	Parse  ParseHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	// Interfaces stay nil rather than holding a nil *RunStore.
	var runs RunDeleter
	var pinger RunStorePinger
	if deps.RunStore != nil {
		runs = deps.RunStore
		pinger = deps.RunStore
	}
	return &Handlers{
		Health: NewHealthHandler(deps.Version, deps.SessionMgr, pinger),
		Upload: NewUploadHandler(deps.Store, runs),
		Parse:  NewParseHandler(deps.Store, deps.SessionMgr),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/api/health", handlers.Health.HandleHealth)

	files := e.Group("/api/files")
	files.POST("/upload", handlers.Upload.HandleUploadFile)
	files.GET("/recent", handlers.Upload.HandleGetRecentFiles)
	files.GET("/:id", handlers.Upload.HandleGetFile)
	files.DELETE("/:id", handlers.Upload.HandleDeleteFile)

	parse := e.Group("/api/parse")
	parse.POST("", handlers.Parse.HandleStartParse)
	parse.GET("/:sessionId/status", handlers.Parse.HandleParseStatus)
	parse.GET("/:sessionId/progress", handlers.Parse.HandleParseProgressStream)
	parse.POST("/:sessionId/keepalive", handlers.Parse.HandleSessionKeepAlive)
	parse.GET("/:sessionId/runs", handlers.Parse.HandleClientRuns)
	parse.GET("/:sessionId/runs/msgpack", handlers.Parse.HandleClientRunsMsgpack)
	parse.GET("/:sessionId/errors", handlers.Parse.HandleParserErrors)
	parse.GET("/:sessionId/runs/:run/lines", handlers.Parse.HandleRunLines)
	parse.GET("/:sessionId/runs/:run/slots/:slot/units/:unit/lines", handlers.Parse.HandleUnitLines)
}
