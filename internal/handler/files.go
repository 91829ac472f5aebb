package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/samber/lo"

	"github.com/marianozunino/relay/internal/transfer"
)

// HandleListFiles lists the session's files with a fresh token for each
func (h *Handler) HandleListFiles(c echo.Context) error {
	sess, err := h.authorize(c, sessionCredentials(c, credentials{}))
	if err != nil {
		return err
	}

	listings, err := h.transfer.List(c.Request().Context(), sess)
	if err != nil {
		return err
	}

	return success(c, echo.Map{
		"success": true,
		"files": lo.Map(listings, func(l transfer.Listing, _ int) fileView {
			return newFileView(l.File, l.Token.Token)
		}),
	})
}

// HandleDeleteFile removes one file from the caller's session
func (h *Handler) HandleDeleteFile(c echo.Context) error {
	var body credentials
	if err := bind(c, &body); err != nil {
		return err
	}

	sess, err := h.authorize(c, sessionCredentials(c, body))
	if err != nil {
		return err
	}
	if err := h.transfer.Delete(c.Request().Context(), sess, c.Param("id")); err != nil {
		return err
	}

	return success(c, echo.Map{
		"success": true,
		"message": "File deleted successfully",
	})
}
