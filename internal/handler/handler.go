// Package handler exposes the relay over HTTP. Every JSON response carries a
// success flag; failures are written by HTTPErrorHandler.
package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/marianozunino/relay/internal/apperr"
	"github.com/marianozunino/relay/internal/config"
	"github.com/marianozunino/relay/internal/expiration"
	"github.com/marianozunino/relay/internal/metadata"
	"github.com/marianozunino/relay/internal/model"
	"github.com/marianozunino/relay/internal/session"
	"github.com/marianozunino/relay/internal/token"
	"github.com/marianozunino/relay/internal/transfer"
)

const (
	HeaderSessionID  = "X-Session-Id"
	HeaderSessionPin = "X-Session-Pin"
)

// Handler handles HTTP requests
type Handler struct {
	cfg      *config.Config
	backend  metadata.Backend
	sessions *session.Manager
	transfer *transfer.Service
	tokens   *token.Authority
	sweeper  *expiration.Sweeper
	log      *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(cfg *config.Config, backend metadata.Backend, sessions *session.Manager, transfer *transfer.Service, tokens *token.Authority, sweeper *expiration.Sweeper, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		cfg:      cfg,
		backend:  backend,
		sessions: sessions,
		transfer: transfer,
		tokens:   tokens,
		sweeper:  sweeper,
		log:      log.Named("http"),
	}
}

type credentials struct {
	SessionID string `json:"sessionId" form:"sessionId" query:"sessionId"`
	Pin       string `json:"pin" form:"pin" query:"pin"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// sessionCredentials fills what the body left empty from the query string,
// form fields and X-Session-* headers, in that order
func sessionCredentials(c echo.Context, body credentials) credentials {
	req := c.Request()
	return credentials{
		SessionID: firstNonEmpty(body.SessionID, c.QueryParam("sessionId"), c.FormValue("sessionId"), req.Header.Get(HeaderSessionID)),
		Pin:       firstNonEmpty(body.Pin, c.QueryParam("pin"), c.FormValue("pin"), req.Header.Get(HeaderSessionPin)),
	}
}

// authorize resolves the credentials to a usable session
func (h *Handler) authorize(c echo.Context, creds credentials) (model.Session, error) {
	return h.sessions.Validate(c.Request().Context(), creds.SessionID, creds.Pin)
}

// bind decodes a JSON or form body. An empty body is not an error.
func bind(c echo.Context, v interface{}) error {
	if c.Request().ContentLength == 0 {
		return nil
	}
	if err := (&echo.DefaultBinder{}).BindBody(c, v); err != nil {
		return apperr.Wrap(apperr.BadRequest, "invalid request body", err)
	}
	return nil
}

func success(c echo.Context, body interface{}) error {
	return c.JSON(http.StatusOK, body)
}
