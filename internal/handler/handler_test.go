package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/techland/internal/middleware"
	"github.com/iliyamo/techland/internal/model"
	"github.com/iliyamo/techland/internal/service"
	"github.com/iliyamo/techland/internal/utils"
)

type stubCreds struct {
	user        model.User
	changeErr   error
	changed     bool
	deactivated []uint64
}

func (s *stubCreds) Verify(_ context.Context, email, plain string) (model.User, error) {
	if email == s.user.Email && plain == "correct-horse" {
		return s.user, nil
	}
	return model.User{}, service.ErrAuthFailure
}

func (s *stubCreds) Create(_ context.Context, in service.NewUser) (model.User, error) {
	if len(in.Password) < utils.MinPasswordLength {
		return model.User{}, service.ErrPasswordTooShort
	}
	return model.User{ID: 2, Name: in.Name, Email: in.Email, Role: model.RoleCustomer}, nil
}

func (s *stubCreds) ChangePassword(ctx context.Context, _ uint64, _, _ string, beforeSave func(context.Context) error) error {
	if s.changeErr != nil {
		return s.changeErr
	}
	if err := beforeSave(ctx); err != nil {
		return err
	}
	s.changed = true
	return nil
}

func (s *stubCreds) Lookup(_ context.Context, id uint64) (model.User, error) {
	if id != s.user.ID {
		return model.User{}, service.ErrUserNotFound
	}
	return s.user, nil
}

func (s *stubCreds) Deactivate(_ context.Context, id uint64) error {
	if id == 404 {
		return service.ErrUserNotFound
	}
	s.deactivated = append(s.deactivated, id)
	return nil
}

type stubTokens struct {
	issued       int
	revoked      []string
	revokeAll    []uint64
	revokeAllErr error
	remembered   map[string]bool
	lastRemember bool
}

func (s *stubTokens) IssuePair(_ context.Context, sub service.Subject, _ service.RequestMeta, remember bool) (service.TokenPair, error) {
	s.issued++
	s.lastRemember = remember
	return service.TokenPair{
		AccessToken:  "access-" + sub.Email,
		RefreshToken: "refresh-" + sub.Email,
		RememberMe:   remember,
		Claims:       &utils.AccessClaims{UserID: sub.UserID, Email: sub.Email, Role: sub.Role},
	}, nil
}

func (s *stubTokens) Rotate(_ context.Context, raw string, _ service.RequestMeta) (service.TokenPair, error) {
	if raw != "live-refresh" {
		return service.TokenPair{}, service.ErrInvalidToken
	}
	return service.TokenPair{AccessToken: "new-access", RefreshToken: "new-refresh"}, nil
}

func (s *stubTokens) Revoke(_ context.Context, raw string) error {
	s.revoked = append(s.revoked, raw)
	return nil
}

func (s *stubTokens) Validate(_ context.Context, raw string) (model.SessionOwner, error) {
	remember, ok := s.remembered[raw]
	if !ok {
		return model.SessionOwner{}, service.ErrInvalidToken
	}
	return model.SessionOwner{Session: model.Session{RememberMe: remember}}, nil
}

func (s *stubTokens) RevokeAll(_ context.Context, id uint64) (int64, error) {
	if s.revokeAllErr != nil {
		return 0, s.revokeAllErr
	}
	s.revokeAll = append(s.revokeAll, id)
	return 3, nil
}

func (s *stubTokens) ListSessions(context.Context, uint64) ([]model.Session, error) {
	return []model.Session{{ID: 1, Device: "Mac", IPAddress: "10.0.0.1"}}, nil
}

var cookies = middleware.Cookies{AccessTTL: 15 * time.Minute, RefreshTTL: 7 * 24 * time.Hour, RememberTTL: 30 * 24 * time.Hour}

func newAuth() (*AuthHandler, *stubCreds, *stubTokens) {
	creds := &stubCreds{user: model.User{ID: 7, Name: "Ana", Email: "ana@example.com", Role: model.RoleCustomer}}
	tokens := &stubTokens{}
	return NewAuthHandler(creds, tokens, cookies, nil, false), creds, tokens
}

func jsonReq(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAccept, echo.MIMEApplicationJSON)
	return req
}

func formReq(path string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	return req
}

func run(h echo.HandlerFunc, req *http.Request, claims *utils.AccessClaims) *httptest.ResponseRecorder {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if claims != nil {
		middleware.SetClaims(c, claims)
	}
	if err := h(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func hasCookie(rec *httptest.ResponseRecorder, name, value string) bool {
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == name && ck.Value == value {
			return true
		}
	}
	return false
}

func TestAPILogin(t *testing.T) {
	h, _, tokens := newAuth()

	rec := run(h.APILogin, jsonReq(http.MethodPost, "/auth/api/login",
		`{"email":"ana@example.com","password":"correct-horse","remember":true}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"accessToken":"access-ana@example.com"`)
	assert.True(t, hasCookie(rec, middleware.AccessCookie, "access-ana@example.com"))
	assert.True(t, hasCookie(rec, middleware.RefreshCookie, "refresh-ana@example.com"))
	assert.Equal(t, 1, tokens.issued)

	rec = run(h.APILogin, jsonReq(http.MethodPost, "/auth/api/login",
		`{"email":"ana@example.com","password":"nope"}`), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"invalid email or password"}`, rec.Body.String())
}

func TestAPIRegister(t *testing.T) {
	h, _, _ := newAuth()

	rec := run(h.APIRegister, jsonReq(http.MethodPost, "/auth/api/register",
		`{"name":"Bo","email":"bo@example.com","password":"longenough","confirmPassword":"different"}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = run(h.APIRegister, jsonReq(http.MethodPost, "/auth/api/register",
		`{"name":"Bo","email":"bo@example.com","password":"short","confirmPassword":"short"}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "at least 8")

	rec = run(h.APIRegister, jsonReq(http.MethodPost, "/auth/api/register",
		`{"name":"Bo","email":"bo@example.com","password":"longenough","confirmPassword":"longenough"}`), nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, hasCookie(rec, middleware.AccessCookie, "access-bo@example.com"))
}

func TestFormLoginRedirects(t *testing.T) {
	h, _, _ := newAuth()

	rec := run(h.FormLogin, formReq("/auth/login", url.Values{
		"email": {"ana@example.com"}, "password": {"correct-horse"}, "redirect": {"/cart/checkout"},
	}), nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/cart/checkout", rec.Header().Get(echo.HeaderLocation))

	rec = run(h.FormLogin, formReq("/auth/login", url.Values{
		"email": {"ana@example.com"}, "password": {"correct-horse"}, "redirect": {"//evil.example"},
	}), nil)
	assert.Equal(t, "/", rec.Header().Get(echo.HeaderLocation))

	rec = run(h.FormLogin, formReq("/auth/login", url.Values{
		"email": {"ana@example.com"}, "password": {"bad"}, "redirect": {"/perfil"},
	}), nil)
	loc, err := url.Parse(rec.Header().Get(echo.HeaderLocation))
	require.NoError(t, err)
	assert.Equal(t, "/auth/login", loc.Path)
	assert.Equal(t, "invalid email or password", loc.Query().Get("error"))
	assert.Equal(t, "/perfil", loc.Query().Get("redirect"))
}

func TestRefreshAndLogout(t *testing.T) {
	h, _, tokens := newAuth()

	req := jsonReq(http.MethodPost, "/auth/refresh", `{}`)
	req.AddCookie(&http.Cookie{Name: middleware.RefreshCookie, Value: "live-refresh"})
	rec := run(h.Refresh, req, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, hasCookie(rec, middleware.RefreshCookie, "new-refresh"))

	rec = run(h.Refresh, jsonReq(http.MethodPost, "/auth/refresh", `{"refreshToken":"stale"}`), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_TOKEN")

	req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.RefreshCookie, Value: "live-refresh"})
	rec = run(h.Logout, req, nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, []string{"live-refresh"}, tokens.revoked)
	assert.True(t, hasCookie(rec, middleware.AccessCookie, ""))
}

func TestForgetDeviceKeepsSession(t *testing.T) {
	h, _, tokens := newAuth()
	req := httptest.NewRequest(http.MethodGet, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.RefreshCookie, Value: "live-refresh"})

	rec := run(h.ForgetDevice, req, nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Empty(t, tokens.revoked)
	assert.True(t, hasCookie(rec, middleware.AccessCookie, ""))
	assert.True(t, hasCookie(rec, middleware.RefreshCookie, ""))
}

func TestChangePasswordReissues(t *testing.T) {
	h, creds, tokens := newAuth()
	claims := &utils.AccessClaims{UserID: 7, Email: "ana@example.com", Role: model.RoleCustomer}

	rec := run(h.ChangePassword, jsonReq(http.MethodPost, "/perfil/cambiar-password",
		`{"current_password":"correct-horse","new_password":"brandnewpass","confirm_password":"brandnewpass"}`), claims)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uint64{7}, tokens.revokeAll)
	assert.Equal(t, 1, tokens.issued)

	creds.changeErr = service.ErrWrongPassword
	rec = run(h.ChangePassword, jsonReq(http.MethodPost, "/perfil/cambiar-password",
		`{"current_password":"x","new_password":"brandnewpass","confirm_password":"brandnewpass"}`), claims)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, tokens.revokeAll, 1)
}

func TestChangePasswordKeptWhenRevokeFails(t *testing.T) {
	h, creds, tokens := newAuth()
	claims := &utils.AccessClaims{UserID: 7, Email: "ana@example.com", Role: model.RoleCustomer}
	tokens.revokeAllErr = errors.New("db blip")

	rec := run(h.ChangePassword, jsonReq(http.MethodPost, "/perfil/cambiar-password",
		`{"current_password":"correct-horse","new_password":"brandnewpass","confirm_password":"brandnewpass"}`), claims)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, creds.changed)
	assert.Zero(t, tokens.issued)
}

func TestChangePasswordKeepsRememberMe(t *testing.T) {
	h, _, tokens := newAuth()
	claims := &utils.AccessClaims{UserID: 7, Email: "ana@example.com", Role: model.RoleCustomer}
	tokens.remembered = map[string]bool{"long-lived": true}

	req := jsonReq(http.MethodPost, "/perfil/cambiar-password",
		`{"current_password":"correct-horse","new_password":"brandnewpass","confirm_password":"brandnewpass"}`)
	req.AddCookie(&http.Cookie{Name: middleware.RefreshCookie, Value: "long-lived"})
	rec := run(h.ChangePassword, req, claims)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, tokens.lastRemember)
	assert.True(t, hasCookie(rec, middleware.RefreshCookie, "refresh-ana@example.com"))
}

func TestDeactivateUser(t *testing.T) {
	h, creds, tokens := newAuth()
	admin := &utils.AccessClaims{UserID: 1, Role: model.RoleAdmin}

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonReq(http.MethodPost, "/admin/users/9/deactivate", ""), rec)
	c.SetParamNames("id")
	c.SetParamValues("9")
	middleware.SetClaims(c, admin)
	require.NoError(t, h.DeactivateUser(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uint64{9}, creds.deactivated)
	assert.Equal(t, []uint64{9}, tokens.revokeAll)

	rec = httptest.NewRecorder()
	c = e.NewContext(jsonReq(http.MethodPost, "/admin/users/404/deactivate", ""), rec)
	c.SetParamNames("id")
	c.SetParamValues("404")
	require.NoError(t, h.DeactivateUser(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type stubCarts struct {
	cart model.Cart
	err  error
}

func (s *stubCarts) Get(context.Context, string) (model.Cart, error) { return s.cart, nil }
func (s *stubCarts) Add(_ context.Context, sid string, _ uint64, typ model.ItemType, id uint64, qty int) (model.Cart, error) {
	if s.err != nil {
		return model.Cart{}, s.err
	}
	s.cart.ID = sid
	s.cart.Lines = append(s.cart.Lines, model.CartLine{ItemID: id, Type: typ, UnitPriceCents: 1000, Quantity: qty})
	return s.cart, nil
}
func (s *stubCarts) Update(context.Context, string, model.ItemType, uint64, int) (model.Cart, error) {
	return s.cart, s.err
}
func (s *stubCarts) Remove(context.Context, string, model.ItemType, uint64) (model.Cart, error) {
	return s.cart, s.err
}
func (s *stubCarts) Clear(context.Context, string) error { return nil }
func (s *stubCarts) Validate(_ context.Context, c model.Cart, _ uint64) (service.EnrichedCart, error) {
	return service.EnrichedCart{Lines: c.Lines, Totals: c.Totals()}, nil
}

type stubCheckout struct {
	err error
	in  service.CheckoutInput
}

func (s *stubCheckout) Run(_ context.Context, in service.CheckoutInput) (service.CheckoutResult, error) {
	s.in = in
	if s.err != nil {
		return service.CheckoutResult{}, s.err
	}
	return service.CheckoutResult{Reference: "TL-ref", Totals: model.ComputeTotals(2000)}, nil
}

func (s *stubCheckout) Receipt(_ context.Context, userID uint64, ref string) (service.Receipt, error) {
	if userID != 7 || ref != "TL-ref" {
		return service.Receipt{}, service.ErrItemNotFound
	}
	return service.Receipt{Reference: ref, TotalCents: 2320}, nil
}

func TestCartAddIssuesCookieAndTotals(t *testing.T) {
	h := NewCartHandler(&stubCarts{}, &stubCheckout{}, time.Hour, nil, false)

	rec := run(h.Add, jsonReq(http.MethodPost, "/cart/add", `{"id":3,"type":"product","quantity":2}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"cartCount":2,"subtotal":"20.00","tax":"3.20","total":"23.20"}`, rec.Body.String())

	var sid string
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == cartCookie {
			sid = ck.Value
			assert.True(t, ck.HttpOnly)
		}
	}
	assert.Len(t, sid, 64)

	rec = run(h.Add, jsonReq(http.MethodPost, "/cart/add", `{"type":"product"}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCartAddErrors(t *testing.T) {
	carts := &stubCarts{err: service.ErrDuplicateCartItem}
	h := NewCartHandler(carts, &stubCheckout{}, time.Hour, nil, false)
	rec := run(h.Add, jsonReq(http.MethodPost, "/cart/add", `{"id":4,"type":"course"}`), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	carts.err = service.ErrItemNotFound
	rec = run(h.Add, jsonReq(http.MethodPost, "/cart/add", `{"id":4,"type":"course"}`), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckoutResponses(t *testing.T) {
	co := &stubCheckout{}
	h := NewCartHandler(&stubCarts{}, co, time.Hour, nil, false)
	claims := &utils.AccessClaims{UserID: 7, Email: "ana@example.com"}

	rec := run(h.Checkout, jsonReq(http.MethodPost, "/cart/checkout",
		`{"direccion_envio":"Calle 1","metodo_pago":"card"}`), claims)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"orderNumber":"TL-ref"`)
	assert.Equal(t, "Calle 1", co.in.Payment.ShippingAddress)
	assert.Equal(t, uint64(7), co.in.UserID)

	rec = run(h.Checkout, formReq("/cart/checkout", url.Values{"metodo_pago": {"card"}}), claims)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/cart/success?order=TL-ref", rec.Header().Get(echo.HeaderLocation))

	co.err = &service.CheckoutError{Reason: "not enough stock for Mouse", Err: service.ErrItemUnavailable}
	rec = run(h.Checkout, jsonReq(http.MethodPost, "/cart/checkout", `{"metodo_pago":"card"}`), claims)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"not enough stock for Mouse"}`, rec.Body.String())

	rec = run(h.Checkout, formReq("/cart/checkout", url.Values{"metodo_pago": {"card"}}), claims)
	loc, err := url.Parse(rec.Header().Get(echo.HeaderLocation))
	require.NoError(t, err)
	assert.Equal(t, "/cart/checkout", loc.Path)
	assert.Equal(t, "not enough stock for Mouse", loc.Query().Get("error"))

	co.err = errors.New("boom")
	rec = run(h.Checkout, jsonReq(http.MethodPost, "/cart/checkout", `{"metodo_pago":"card"}`), claims)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSuccessScopedToUser(t *testing.T) {
	h := NewCartHandler(&stubCarts{}, &stubCheckout{}, time.Hour, nil, false)

	rec := run(h.Success, httptest.NewRequest(http.MethodGet, "/cart/success?order=TL-ref", nil), &utils.AccessClaims{UserID: 7})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":"23.20"`)

	rec = run(h.Success, httptest.NewRequest(http.MethodGet, "/cart/success?order=TL-ref", nil), &utils.AccessClaims{UserID: 8})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSafeRedirect(t *testing.T) {
	assert.Equal(t, "/cart", safeRedirect("/cart", "/"))
	for _, bad := range []string{"", "https://evil.example", "//evil.example", `/\evil.example`} {
		assert.Equal(t, "/", safeRedirect(bad, "/"))
	}
}
