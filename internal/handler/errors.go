package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/marianozunino/relay/internal/apperr"
)

type errorResponse struct {
	Success bool        `json:"success"`
	Error   string      `json:"error"`
	Kind    apperr.Kind `json:"kind"`
}

// HTTPErrorHandler writes every failure as {success:false, error, kind}
func HTTPErrorHandler(log *zap.Logger) echo.HTTPErrorHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := describe(err)
		if status >= http.StatusInternalServerError {
			log.Error("request failed",
				zap.String("path", c.Request().URL.Path),
				zap.String("kind", string(body.Kind)),
				zap.Error(err))
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			log.Warn("failed to write error response", zap.Error(err))
		}
	}
}

func describe(err error) (int, errorResponse) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
		return he.Code, errorResponse{Error: msg, Kind: kindForStatus(he.Code)}
	}

	kind := apperr.KindOf(err)
	return apperr.HTTPStatus(kind), errorResponse{Error: apperr.MessageOf(err), Kind: kind}
}

// kindForStatus classifies errors raised by echo itself (routing, body limit)
func kindForStatus(status int) apperr.Kind {
	switch status {
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return apperr.NotFound
	case http.StatusRequestEntityTooLarge:
		return apperr.PayloadTooLarge
	case http.StatusForbidden, http.StatusUnauthorized:
		return apperr.Forbidden
	case http.StatusTooManyRequests:
		return apperr.QuotaExceeded
	case http.StatusServiceUnavailable:
		return apperr.StorageUnavailable
	}
	if status >= http.StatusInternalServerError {
		return apperr.IOFailure
	}
	return apperr.BadRequest
}
