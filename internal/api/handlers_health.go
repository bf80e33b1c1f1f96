// handlers_health.go - Health check handlers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const healthPingTimeout = 2 * time.Second

// SessionCounter reports parse session occupancy.
type SessionCounter interface {
	SessionCounts() (total, parsing int)
}

// RunStorePinger checks that the persisted run database answers.
type RunStorePinger interface {
	Ping(ctx context.Context) error
}

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version  string
	sessions SessionCounter
	runs     RunStorePinger // nil when runs are not persisted
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, sessions SessionCounter, runs RunStorePinger) HealthHandler {
	return &HealthHandlerImpl{
		version:  version,
		sessions: sessions,
		runs:     runs,
	}
}

type healthResponse struct {
	Status   string         `json:"status"`
	Version  string         `json:"version"`
	Sessions sessionsHealth `json:"sessions"`
	RunStore string         `json:"runStore"`
}

type sessionsHealth struct {
	Total   int `json:"total"`
	Parsing int `json:"parsing"`
}

// HandleHealth reports session occupancy and run store reachability. A run
// store that does not answer makes the service degraded.
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	resp := healthResponse{Status: "ok", Version: h.version, RunStore: "disabled"}
	if h.sessions != nil {
		resp.Sessions.Total, resp.Sessions.Parsing = h.sessions.SessionCounts()
	}

	status := http.StatusOK
	if h.runs != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthPingTimeout)
		defer cancel()
		if err := h.runs.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.RunStore = "unavailable"
			status = http.StatusServiceUnavailable
		} else {
			resp.RunStore = "ok"
		}
	}
	return c.JSON(status, resp)
}
