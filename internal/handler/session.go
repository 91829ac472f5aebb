package handler

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/marianozunino/relay/internal/model"
)

type createSessionRequest struct {
	SessionType string `json:"sessionType" form:"sessionType"`
	TTLHours    int    `json:"ttlHours" form:"ttlHours"`
	CreatedBy   string `json:"createdBy" form:"createdBy"`
}

type findSessionRequest struct {
	Pin string `json:"pin" form:"pin"`
}

type sessionResponse struct {
	Success     bool              `json:"success"`
	SessionID   string            `json:"sessionId"`
	Pin         string            `json:"pin"`
	SessionType model.SessionType `json:"sessionType"`
	CreatedAt   time.Time         `json:"createdAt"`
	ExpiresAt   time.Time         `json:"expiresAt"`
	FolderPath  string            `json:"folderPath"`
	FileCount   int               `json:"fileCount"`
	TotalSize   int64             `json:"totalSize"`
}

func newSessionResponse(s model.Session) sessionResponse {
	return sessionResponse{
		Success:     true,
		SessionID:   s.ID,
		Pin:         s.Pin,
		SessionType: s.Type,
		CreatedAt:   s.CreatedAt,
		ExpiresAt:   s.ExpiresAt,
		FolderPath:  s.FolderPath(),
		FileCount:   s.FileCount,
		TotalSize:   s.TotalSize,
	}
}

// HandleCreateSession allocates a new session and returns its pin
func (h *Handler) HandleCreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	sess, err := h.sessions.Create(c.Request().Context(), req.SessionType, req.TTLHours, req.CreatedBy)
	if err != nil {
		return err
	}
	return success(c, newSessionResponse(sess))
}

// HandleFindSession joins a session by pin
func (h *Handler) HandleFindSession(c echo.Context) error {
	var req findSessionRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	sess, err := h.sessions.Join(c.Request().Context(), firstNonEmpty(req.Pin, c.QueryParam("pin")))
	if err != nil {
		return err
	}
	return success(c, newSessionResponse(sess))
}

// HandleDeleteSession removes a session together with its files
func (h *Handler) HandleDeleteSession(c echo.Context) error {
	var body credentials
	if err := bind(c, &body); err != nil {
		return err
	}

	sess, err := h.authorize(c, sessionCredentials(c, body))
	if err != nil {
		return err
	}
	if err := h.sessions.Delete(c.Request().Context(), sess); err != nil {
		return err
	}

	return success(c, echo.Map{
		"success": true,
		"message": "Session deleted successfully",
	})
}
