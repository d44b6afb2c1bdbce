package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/techland/internal/middleware"
	"github.com/iliyamo/techland/internal/service"
)

type changePasswordReq struct {
	Current string `json:"current_password" form:"current_password"`
	New     string `json:"new_password" form:"new_password"`
	Confirm string `json:"confirm_password" form:"confirm_password"`
}

func (h *AuthHandler) passwordResult(c echo.Context, status int, msg string) error {
	if middleware.WantsJSON(c) {
		if status == http.StatusOK {
			return c.JSON(status, echo.Map{"success": true, "message": msg})
		}
		return fail(c, status, msg)
	}
	if status == http.StatusOK {
		return c.Redirect(http.StatusSeeOther, "/perfil?success=password+updated")
	}
	return redirectWithError(c, "/perfil", msg, nil)
}

// ChangePassword ends every existing session, replaces the password and
// signs the current device back in with a fresh pair that keeps its
// remember-me choice.
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	claims := middleware.CurrentClaims(c)
	var req changePasswordReq
	if err := c.Bind(&req); err != nil {
		return h.passwordResult(c, http.StatusBadRequest, "invalid body")
	}
	if req.New != req.Confirm {
		return h.passwordResult(c, http.StatusBadRequest, "new passwords do not match")
	}
	ctx, cancel := h.timeout(c)
	defer cancel()

	remember := false
	if owner, err := h.tokens.Validate(ctx, middleware.CurrentRefresh(c)); err == nil {
		remember = owner.RememberMe
	}
	revoke := func(ctx context.Context) error {
		_, err := h.tokens.RevokeAll(ctx, claims.UserID)
		return err
	}
	err := h.creds.ChangePassword(ctx, claims.UserID, req.Current, req.New, revoke)
	switch {
	case errors.Is(err, service.ErrWrongPassword), errors.Is(err, service.ErrPasswordTooShort),
		errors.Is(err, service.ErrPasswordTooLong):
		return h.passwordResult(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrUserNotFound):
		return h.passwordResult(c, http.StatusNotFound, err.Error())
	case err != nil:
		return internal(c, h.log, h.prod, "change password failed", err)
	}

	u, err := h.creds.Lookup(ctx, claims.UserID)
	if err != nil {
		return internal(c, h.log, h.prod, "load user failed", err)
	}
	if _, err := h.signIn(ctx, c, u, remember); err != nil {
		return internal(c, h.log, h.prod, "issue tokens failed", err)
	}
	h.log.Info("password changed", zap.Uint64("user_id", u.ID))
	return h.passwordResult(c, http.StatusOK, "password updated")
}

type sessionView struct {
	ID         uint64    `json:"id"`
	Device     string    `json:"device"`
	IPAddress  string    `json:"ip_address"`
	RememberMe bool      `json:"remember_me"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Sessions lists the caller's active sessions.
func (h *AuthHandler) Sessions(c echo.Context) error {
	claims := middleware.CurrentClaims(c)
	ctx, cancel := h.timeout(c)
	defer cancel()
	list, err := h.tokens.ListSessions(ctx, claims.UserID)
	if err != nil {
		return internal(c, h.log, h.prod, "list sessions failed", err)
	}
	out := make([]sessionView, 0, len(list))
	for _, s := range list {
		out = append(out, sessionView{
			ID: s.ID, Device: s.Device, IPAddress: s.IPAddress, RememberMe: s.RememberMe,
			CreatedAt: s.CreatedAt, ExpiresAt: s.ExpiresAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"sessions": out})
}

// DeactivateUser handles POST /admin/users/:id/deactivate.
func (h *AuthHandler) DeactivateUser(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return fail(c, http.StatusBadRequest, "invalid user id")
	}
	if claims := middleware.CurrentClaims(c); claims != nil && claims.UserID == id {
		return fail(c, http.StatusBadRequest, "administrators cannot deactivate themselves")
	}
	ctx, cancel := h.timeout(c)
	defer cancel()

	if err := h.creds.Deactivate(ctx, id); err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			return fail(c, http.StatusNotFound, err.Error())
		}
		return internal(c, h.log, h.prod, "deactivate failed", err)
	}
	n, err := h.tokens.RevokeAll(ctx, id)
	if err != nil {
		return internal(c, h.log, h.prod, "revoke sessions failed", err)
	}
	h.log.Info("user deactivated", zap.Uint64("user_id", id), zap.Int64("sessions_revoked", n))
	return c.JSON(http.StatusOK, echo.Map{"success": true, "revoked": n})
}
