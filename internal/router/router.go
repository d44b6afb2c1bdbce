// Package router wires handlers and middleware onto the Echo instance.
package router

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/techland/internal/handler"
	"github.com/iliyamo/techland/internal/middleware"
	"github.com/iliyamo/techland/internal/model"
)

// Deps are the handlers and middleware the routes need. Limiter may be nil.
type Deps struct {
	Auth    *handler.AuthHandler
	Cart    *handler.CartHandler
	Gate    *middleware.Gate
	Limiter echo.MiddlewareFunc
	Started time.Time
}

// RegisterRoutes registers every route of the storefront.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/health", handler.Status(d.Started))
	e.GET("/healthz", handler.Health)

	registerAuth(e, d)
	registerProfile(e, d)
	registerAdmin(e, d)
	for _, prefix := range []string{"/cart", "/carrito"} {
		registerCart(e.Group(prefix), d)
	}
}

func registerAuth(e *echo.Echo, d Deps) {
	limited := []echo.MiddlewareFunc{}
	if d.Limiter != nil {
		limited = append(limited, d.Limiter)
	}
	g := e.Group("/auth")
	g.POST("/api/login", d.Auth.APILogin, limited...)
	g.POST("/api/register", d.Auth.APIRegister, limited...)
	g.POST("/login", d.Auth.FormLogin, limited...)
	g.POST("/register", d.Auth.FormRegister, limited...)
	g.POST("/refresh", d.Auth.Refresh, limited...)
	g.POST("/logout", d.Auth.Logout)
	g.GET("/logout", d.Auth.ForgetDevice)
	g.POST("/logout-all", d.Auth.LogoutAll, d.Gate.Required())
	g.GET("/me", d.Auth.Me, d.Gate.Required())
}

func registerProfile(e *echo.Echo, d Deps) {
	for _, prefix := range []string{"/perfil", "/profile"} {
		g := e.Group(prefix, d.Gate.Required())
		g.POST("/cambiar-password", d.Auth.ChangePassword)
		g.POST("/change-password", d.Auth.ChangePassword)
		g.GET("/api/sessions", d.Auth.Sessions)
	}
}

func registerAdmin(e *echo.Echo, d Deps) {
	g := e.Group("/admin", d.Gate.Required(), middleware.RequireRole(model.RoleAdmin))
	g.POST("/users/:id/deactivate", d.Auth.DeactivateUser)
}

func registerCart(g *echo.Group, d Deps) {
	optional := d.Gate.Optional()
	g.GET("", d.Cart.View, optional)
	g.GET("/", d.Cart.View, optional)
	g.POST("/add", d.Cart.Add, optional)
	g.POST("/update", d.Cart.Update, optional)
	g.POST("/remove", d.Cart.Remove, optional)
	g.POST("/clear", d.Cart.Clear, optional)
	g.GET("/checkout", d.Cart.CheckoutView, optional)
	g.POST("/checkout", d.Cart.Checkout, d.Gate.Required())
	g.GET("/success", d.Cart.Success, d.Gate.Required())
}
