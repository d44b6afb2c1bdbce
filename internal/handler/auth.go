package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/techland/internal/middleware"
	"github.com/iliyamo/techland/internal/model"
	"github.com/iliyamo/techland/internal/repository"
	"github.com/iliyamo/techland/internal/service"
)

// CredentialService is implemented by service.Credentials.
type CredentialService interface {
	Verify(ctx context.Context, email, plain string) (model.User, error)
	Create(ctx context.Context, in service.NewUser) (model.User, error)
	ChangePassword(ctx context.Context, userID uint64, oldPlain, newPlain string, beforeSave func(context.Context) error) error
	Lookup(ctx context.Context, userID uint64) (model.User, error)
	Deactivate(ctx context.Context, userID uint64) error
}

// TokenService is implemented by service.Tokens.
type TokenService interface {
	IssuePair(ctx context.Context, sub service.Subject, meta service.RequestMeta, remember bool) (service.TokenPair, error)
	Rotate(ctx context.Context, refreshRaw string, meta service.RequestMeta) (service.TokenPair, error)
	Validate(ctx context.Context, refreshRaw string) (model.SessionOwner, error)
	Revoke(ctx context.Context, refreshRaw string) error
	RevokeAll(ctx context.Context, userID uint64) (int64, error)
	ListSessions(ctx context.Context, userID uint64) ([]model.Session, error)
}

// AuthHandler serves login, registration, refresh, logout, the profile
// password change and the admin account actions.
type AuthHandler struct {
	creds   CredentialService
	tokens  TokenService
	cookies middleware.Cookies
	log     *zap.Logger
	prod    bool
}

func NewAuthHandler(creds CredentialService, tokens TokenService, cookies middleware.Cookies, log *zap.Logger, prod bool) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{creds: creds, tokens: tokens, cookies: cookies, log: log, prod: prod}
}

type userView struct {
	ID    uint64 `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func viewOf(u model.User) userView {
	return userView{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

type registerReq struct {
	Name            string `json:"name" form:"name"`
	Email           string `json:"email" form:"email"`
	Password        string `json:"password" form:"password"`
	ConfirmPassword string `json:"confirmPassword" form:"confirmPassword"`
}

func (h *AuthHandler) timeout(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), 5*time.Second)
}

// signIn issues a pair for u and writes the cookies.
func (h *AuthHandler) signIn(ctx context.Context, c echo.Context, u model.User, remember bool) (service.TokenPair, error) {
	pair, err := h.tokens.IssuePair(ctx, service.SubjectOf(u), middleware.MetaOf(c), remember)
	if err != nil {
		return service.TokenPair{}, err
	}
	h.cookies.Set(c, pair)
	return pair, nil
}

// registrationError maps Create failures to a message for the client, or
// "" when the failure is not the client's fault.
func registrationError(err error) string {
	switch {
	case errors.Is(err, repository.ErrEmailExists):
		return "an account with this email already exists"
	case errors.Is(err, service.ErrNameRequired), errors.Is(err, service.ErrInvalidEmail),
		errors.Is(err, service.ErrPasswordTooShort), errors.Is(err, service.ErrPasswordTooLong):
		return err.Error()
	}
	return ""
}

// APILogin handles POST /auth/api/login.
func (h *AuthHandler) APILogin(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid body")
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return fail(c, http.StatusBadRequest, "email and password are required")
	}
	ctx, cancel := h.timeout(c)
	defer cancel()

	u, err := h.creds.Verify(ctx, req.Email, req.Password)
	if errors.Is(err, service.ErrAuthFailure) {
		return fail(c, http.StatusUnauthorized, err.Error())
	}
	if err != nil {
		return internal(c, h.log, h.prod, "login failed", err)
	}
	pair, err := h.signIn(ctx, c, u, req.Remember)
	if err != nil {
		return internal(c, h.log, h.prod, "issue tokens failed", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "user": viewOf(u), "accessToken": pair.AccessToken})
}

// APIRegister handles POST /auth/api/register.
func (h *AuthHandler) APIRegister(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid body")
	}
	if req.Password != req.ConfirmPassword {
		return fail(c, http.StatusBadRequest, "passwords do not match")
	}
	ctx, cancel := h.timeout(c)
	defer cancel()

	u, err := h.creds.Create(ctx, service.NewUser{Name: req.Name, Email: req.Email, Password: req.Password})
	if err != nil {
		if msg := registrationError(err); msg != "" {
			return fail(c, http.StatusBadRequest, msg)
		}
		return internal(c, h.log, h.prod, "register failed", err)
	}
	h.log.Info("user registered", zap.Uint64("user_id", u.ID))
	pair, err := h.signIn(ctx, c, u, false)
	if err != nil {
		return internal(c, h.log, h.prod, "issue tokens failed", err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"success": true, "user": viewOf(u), "accessToken": pair.AccessToken})
}

// FormLogin handles the login form post.
func (h *AuthHandler) FormLogin(c echo.Context) error {
	redirect := safeRedirect(c.FormValue("redirect"), "/")
	keep := url.Values{"redirect": {redirect}}
	email, password := c.FormValue("email"), c.FormValue("password")
	if strings.TrimSpace(email) == "" || password == "" {
		return redirectWithError(c, "/auth/login", "email and password are required", keep)
	}
	ctx, cancel := h.timeout(c)
	defer cancel()

	u, err := h.creds.Verify(ctx, email, password)
	if errors.Is(err, service.ErrAuthFailure) {
		return redirectWithError(c, "/auth/login", err.Error(), keep)
	}
	if err != nil {
		return internal(c, h.log, h.prod, "login failed", err)
	}
	remember := c.FormValue("remember")
	if _, err := h.signIn(ctx, c, u, remember == "on" || remember == "true" || remember == "1"); err != nil {
		return internal(c, h.log, h.prod, "issue tokens failed", err)
	}
	return c.Redirect(http.StatusSeeOther, redirect)
}

// FormRegister handles the registration form post.
func (h *AuthHandler) FormRegister(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return redirectWithError(c, "/auth/register", "invalid form", nil)
	}
	if req.Password != req.ConfirmPassword {
		return redirectWithError(c, "/auth/register", "passwords do not match", nil)
	}
	ctx, cancel := h.timeout(c)
	defer cancel()

	u, err := h.creds.Create(ctx, service.NewUser{Name: req.Name, Email: req.Email, Password: req.Password})
	if err != nil {
		if msg := registrationError(err); msg != "" {
			return redirectWithError(c, "/auth/register", msg, nil)
		}
		return internal(c, h.log, h.prod, "register failed", err)
	}
	if _, err := h.signIn(ctx, c, u, false); err != nil {
		return internal(c, h.log, h.prod, "issue tokens failed", err)
	}
	return c.Redirect(http.StatusSeeOther, safeRedirect(c.FormValue("redirect"), "/"))
}

func refreshFromRequest(c echo.Context) string {
	if ck, err := c.Cookie(middleware.RefreshCookie); err == nil && ck.Value != "" {
		return ck.Value
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = c.Bind(&body)
	return body.RefreshToken
}

// Refresh handles POST /auth/refresh: the presented refresh token is
// consumed and a new pair is returned and stored as cookies.
func (h *AuthHandler) Refresh(c echo.Context) error {
	raw := refreshFromRequest(c)
	if strings.TrimSpace(raw) == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "refresh token required", "code": middleware.ReasonNoToken})
	}
	ctx, cancel := h.timeout(c)
	defer cancel()

	pair, err := h.tokens.Rotate(ctx, raw, middleware.MetaOf(c))
	if errors.Is(err, service.ErrInvalidToken) {
		h.cookies.Clear(c)
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error(), "code": middleware.ReasonInvalidToken})
	}
	if err != nil {
		return internal(c, h.log, h.prod, "refresh failed", err)
	}
	h.cookies.Set(c, pair)
	return c.JSON(http.StatusOK, echo.Map{
		"success":       true,
		"accessToken":   pair.AccessToken,
		"refreshToken":  pair.RefreshToken,
		"accessExpires": pair.AccessExpires,
	})
}

// Logout revokes the current refresh token and clears the cookies. It
// succeeds even when the token is unknown.
func (h *AuthHandler) Logout(c echo.Context) error {
	if raw := refreshFromRequest(c); raw != "" {
		ctx, cancel := h.timeout(c)
		defer cancel()
		if err := h.tokens.Revoke(ctx, raw); err != nil {
			h.log.Warn("logout revoke failed", zap.Error(err))
		}
	}
	h.cookies.Clear(c)
	if middleware.WantsJSON(c) {
		return c.JSON(http.StatusOK, echo.Map{"success": true})
	}
	return c.Redirect(http.StatusSeeOther, "/")
}

// ForgetDevice handles GET /auth/logout. It only clears the cookies;
// revoking the session needs a POST.
func (h *AuthHandler) ForgetDevice(c echo.Context) error {
	h.cookies.Clear(c)
	if middleware.WantsJSON(c) {
		return c.JSON(http.StatusOK, echo.Map{"success": true})
	}
	return c.Redirect(http.StatusSeeOther, "/")
}

// LogoutAll ends every session of the authenticated user.
func (h *AuthHandler) LogoutAll(c echo.Context) error {
	claims := middleware.CurrentClaims(c)
	ctx, cancel := h.timeout(c)
	defer cancel()
	n, err := h.tokens.RevokeAll(ctx, claims.UserID)
	if err != nil {
		return internal(c, h.log, h.prod, "logout everywhere failed", err)
	}
	h.cookies.Clear(c)
	return c.JSON(http.StatusOK, echo.Map{"success": true, "revoked": n})
}

// Me returns the authenticated account.
func (h *AuthHandler) Me(c echo.Context) error {
	claims := middleware.CurrentClaims(c)
	ctx, cancel := h.timeout(c)
	defer cancel()
	u, err := h.creds.Lookup(ctx, claims.UserID)
	if errors.Is(err, service.ErrUserNotFound) {
		return fail(c, http.StatusNotFound, err.Error())
	}
	if err != nil {
		return internal(c, h.log, h.prod, "load user failed", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"user": viewOf(u)})
}
