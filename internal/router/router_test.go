package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/techland/internal/handler"
	"github.com/iliyamo/techland/internal/middleware"
	"github.com/iliyamo/techland/internal/service"
	"github.com/iliyamo/techland/internal/utils"
)

type rejectAll struct{}

func (rejectAll) VerifyAccess(string) (*utils.AccessClaims, error) { return nil, service.ErrInvalidToken }

func (rejectAll) Rotate(context.Context, string, service.RequestMeta) (service.TokenPair, error) {
	return service.TokenPair{}, service.ErrInvalidToken
}

func newTestEcho() *echo.Echo {
	e := echo.New()
	cookies := middleware.Cookies{AccessTTL: time.Minute, RefreshTTL: time.Hour, RememberTTL: 2 * time.Hour}
	RegisterRoutes(e, Deps{
		Auth:    handler.NewAuthHandler(nil, nil, cookies, nil, false),
		Cart:    handler.NewCartHandler(nil, nil, time.Hour, nil, false),
		Gate:    middleware.NewGate(rejectAll{}, cookies, nil),
		Started: time.Now(),
	})
	return e
}

func TestRoutesRegistered(t *testing.T) {
	e := newTestEcho()
	have := map[string]bool{}
	for _, r := range e.Routes() {
		have[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"GET /health",
		"POST /auth/api/login",
		"POST /auth/refresh",
		"POST /auth/logout",
		"GET /auth/logout",
		"POST /auth/logout-all",
		"POST /perfil/cambiar-password",
		"POST /profile/change-password",
		"POST /admin/users/:id/deactivate",
		"POST /cart/add",
		"POST /carrito/checkout",
		"GET /cart/success",
	} {
		assert.True(t, have[want], want)
	}
}

func TestProtectedRoutesRequireIdentity(t *testing.T) {
	e := newTestEcho()
	for _, path := range []string{"/cart/checkout", "/auth/logout-all", "/admin/users/2/deactivate"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set(echo.HeaderAccept, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.Contains(t, rec.Body.String(), middleware.ReasonNoToken, path)
	}
}

func TestLogoutByGetOnlyClearsCookies(t *testing.T) {
	e := newTestEcho()
	req := httptest.NewRequest(http.MethodGet, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.RefreshCookie, Value: "some-refresh"})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get(echo.HeaderLocation))
}

func TestHealth(t *testing.T) {
	e := newTestEcho()
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
