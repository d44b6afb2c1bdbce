package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// subjectID returns the authenticated user id as a string for rate-limit
// keys and request logs, or "anon".
func subjectID(c echo.Context) string {
	if cl := CurrentClaims(c); cl != nil {
		return strconv.FormatUint(cl.UserID, 10)
	}
	return "anon"
}
