package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/techland/internal/middleware"
)

func fail(c echo.Context, status int, msg string) error {
	return c.JSON(status, echo.Map{"error": msg})
}

// redirectWithError sends browsers back to path with the message in ?error=.
func redirectWithError(c echo.Context, path, msg string, extra url.Values) error {
	q := url.Values{}
	for k, v := range extra {
		q[k] = v
	}
	q.Set("error", msg)
	return c.Redirect(http.StatusSeeOther, path+"?"+q.Encode())
}

// safeRedirect only follows same-site absolute paths.
func safeRedirect(target, fallback string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, `\`) {
		return fallback
	}
	return target
}

// internal logs err and answers with a generic message in production and
// the error text otherwise.
func internal(c echo.Context, log *zap.Logger, prod bool, what string, err error) error {
	log.Error(what, zap.String("path", c.Path()), zap.Error(err))
	msg := "internal server error"
	if !prod {
		msg = what + ": " + err.Error()
	}
	if middleware.WantsJSON(c) || c.Request().Method == http.MethodGet {
		return fail(c, http.StatusInternalServerError, msg)
	}
	return c.String(http.StatusInternalServerError, msg)
}
