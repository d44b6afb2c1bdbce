package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RequireRole allows the request only when the authenticated role is one
// of roles. It must run after Gate.Required.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := CurrentClaims(c)
			if claims == nil {
				return unauthorized(c, ReasonNoToken)
			}
			if allowed[claims.Role] {
				return next(c)
			}
			if WantsJSON(c) {
				return c.JSON(http.StatusForbidden, echo.Map{
					"error": "you do not have permission to access this resource",
					"code":  "FORBIDDEN",
				})
			}
			if c.Echo().Renderer != nil {
				return c.Render(http.StatusForbidden, "errors/403", echo.Map{"role": claims.Role})
			}
			return c.String(http.StatusForbidden, "Forbidden")
		}
	}
}
