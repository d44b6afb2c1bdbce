package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Health answers load balancer probes with plain "ok".
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Status reports process uptime since start.
func Status(start time.Time) echo.HandlerFunc {
	return func(c echo.Context) error {
		now := time.Now()
		return c.JSON(http.StatusOK, echo.Map{
			"status":    "ok",
			"timestamp": now.UTC().Format(time.RFC3339),
			"uptime":    now.Sub(start).Seconds(),
		})
	}
}
