package middleware

import (
	"crypto/subtle"

	"github.com/labstack/echo/v4"

	"github.com/marianozunino/relay/internal/apperr"
)

// AdminTokenHeader carries the admin credential
const AdminTokenHeader = "X-Admin-Token"

// AdminToken guards admin routes. An empty token leaves them open.
func AdminToken(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if token == "" {
				return next(c)
			}
			got := c.Request().Header.Get(AdminTokenHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				return apperr.New(apperr.Forbidden, "admin token required")
			}
			return next(c)
		}
	}
}
