package handler

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/marianozunino/relay/internal/expiration"
	"github.com/marianozunino/relay/internal/model"
)

type cleanupResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	expiration.Report
}

type statsResponse struct {
	Success      bool `json:"success"`
	ActiveTokens int  `json:"activeTokens"`
	model.Stats
}

// HandleCleanup runs an expiry sweep now
func (h *Handler) HandleCleanup(c echo.Context) error {
	report := h.sweeper.Run(c.Request().Context())

	msg := "Cleanup complete"
	if report.Skipped {
		msg = "Cleanup already running"
	}
	return success(c, cleanupResponse{Success: true, Message: msg, Report: report})
}

// HandleStats reports stored sessions, files and outstanding tokens
func (h *Handler) HandleStats(c echo.Context) error {
	ctx := c.Request().Context()

	stats, err := h.backend.Stats(ctx, time.Now())
	if err != nil {
		return err
	}
	active, err := h.tokens.Count(ctx)
	if err != nil {
		return err
	}

	return success(c, statsResponse{Success: true, ActiveTokens: active, Stats: stats})
}
