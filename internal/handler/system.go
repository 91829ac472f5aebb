package handler

import (
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/marianozunino/relay/internal/apperr"
	"github.com/marianozunino/relay/internal/utils"
)

type limitsView struct {
	MaxFileSizeMB          float64 `json:"maxFileSizeMB"`
	MaxFilesPerSession     int     `json:"maxFilesPerSession"`
	MaxDownloads           int     `json:"maxDownloads"`
	FileTTLHours           int     `json:"fileTTLHours"`
	SessionTTLHours        int     `json:"sessionTTLHours"`
	MaxSessionTTLHours     int     `json:"maxSessionTTLHours"`
	TokenTTLMinutes        int     `json:"tokenTTLMinutes"`
	CleanupIntervalMinutes int     `json:"cleanupIntervalMinutes"`
}

type healthResponse struct {
	Success               bool       `json:"success"`
	Message               string     `json:"message"`
	Timestamp             time.Time  `json:"timestamp"`
	DurableStoreConnected bool       `json:"durableStoreConnected"`
	DegradedMode          bool       `json:"degradedMode"`
	Limits                limitsView `json:"limits"`
}

// HandleHealth reports liveness, store connectivity and the active limits
func (h *Handler) HandleHealth(c echo.Context) error {
	caps := h.backend.Capabilities()
	connected := false
	if caps.Durable {
		if err := h.backend.Ping(c.Request().Context()); err != nil {
			h.log.Warn("durable store ping failed", zap.Error(err))
		} else {
			connected = true
		}
	}

	return success(c, healthResponse{
		Success:               true,
		Message:               "Server is running",
		Timestamp:             time.Now().UTC(),
		DurableStoreConnected: connected,
		DegradedMode:          !caps.Durable,
		Limits: limitsView{
			MaxFileSizeMB:          h.cfg.MaxFileSizeMB,
			MaxFilesPerSession:     h.cfg.MaxFilesPerSession,
			MaxDownloads:           h.cfg.MaxDownloads,
			FileTTLHours:           h.cfg.FileTTLHours,
			SessionTTLHours:        h.cfg.SessionTTLHours,
			MaxSessionTTLHours:     h.cfg.MaxSessionTTLHours,
			TokenTTLMinutes:        h.cfg.TokenTTLMinutes,
			CleanupIntervalMinutes: h.cfg.CleanupInterval,
		},
	})
}

// HandleNetworkInfo tells clients on the LAN how to reach this server
func (h *Handler) HandleNetworkInfo(c echo.Context) error {
	interfaces, err := utils.LocalInterfaces()
	if err != nil {
		return apperr.Wrap(apperr.IOFailure, "Failed to get IP address", err)
	}

	ip := utils.LocalIP()
	return success(c, echo.Map{
		"success":    true,
		"ip":         ip,
		"port":       h.cfg.Port,
		"url":        fmt.Sprintf("http://%s:%d", ip, h.cfg.Port),
		"interfaces": interfaces,
	})
}
