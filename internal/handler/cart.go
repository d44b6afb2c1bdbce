package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
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

const cartCookie = "cart_sid"

// CartService is implemented by service.Carts.
type CartService interface {
	Get(ctx context.Context, sid string) (model.Cart, error)
	Add(ctx context.Context, sid string, userID uint64, typ model.ItemType, id uint64, qty int) (model.Cart, error)
	Update(ctx context.Context, sid string, typ model.ItemType, id uint64, qty int) (model.Cart, error)
	Remove(ctx context.Context, sid string, typ model.ItemType, id uint64) (model.Cart, error)
	Clear(ctx context.Context, sid string) error
	Validate(ctx context.Context, cart model.Cart, userID uint64) (service.EnrichedCart, error)
}

// CheckoutService is implemented by service.Checkout.
type CheckoutService interface {
	Run(ctx context.Context, in service.CheckoutInput) (service.CheckoutResult, error)
	Receipt(ctx context.Context, userID uint64, reference string) (service.Receipt, error)
}

// CartHandler serves /cart and its /carrito alias.
type CartHandler struct {
	carts    CartService
	checkout CheckoutService
	cartTTL  time.Duration
	secure   bool
	log      *zap.Logger
	prod     bool
}

// NewCartHandler builds the handler; prod marks the cart cookie Secure and
// hides error details.
func NewCartHandler(carts CartService, checkout CheckoutService, cartTTL time.Duration, log *zap.Logger, prod bool) *CartHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &CartHandler{carts: carts, checkout: checkout, cartTTL: cartTTL, secure: prod, log: log, prod: prod}
}

// cartID returns the browser's cart id, issuing the cookie on first use.
func (h *CartHandler) cartID(c echo.Context) (string, error) {
	if ck, err := c.Cookie(cartCookie); err == nil && len(ck.Value) == 64 {
		return ck.Value, nil
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	sid := hex.EncodeToString(b)
	c.SetCookie(&http.Cookie{
		Name:     cartCookie,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(h.cartTTL / time.Second),
	})
	return sid, nil
}

func userIDOf(c echo.Context) uint64 {
	if cl := middleware.CurrentClaims(c); cl != nil {
		return cl.UserID
	}
	return 0
}

// base is the prefix the request came in on, so redirects stay on the
// same alias.
func base(c echo.Context) string {
	if strings.HasPrefix(c.Path(), "/carrito") {
		return "/carrito"
	}
	return "/cart"
}

type cartLineReq struct {
	ID       uint64 `json:"id" form:"id"`
	Type     string `json:"type" form:"type"`
	Quantity int    `json:"quantity" form:"quantity"`
}

func summary(cart model.Cart) echo.Map {
	t := cart.Totals()
	return echo.Map{
		"success":   true,
		"cartCount": cart.Count(),
		"subtotal":  model.FormatCents(t.SubtotalCents),
		"tax":       model.FormatCents(t.TaxCents),
		"total":     model.FormatCents(t.TotalCents),
	}
}

func cartErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidItemType):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrItemUnavailable), errors.Is(err, service.ErrDuplicateCartItem),
		errors.Is(err, service.ErrAlreadyEnrolled), errors.Is(err, repository.ErrCartConflict):
		return http.StatusConflict
	}
	return 0
}

// mutate runs one cart change and renders the shared response.
func (h *CartHandler) mutate(c echo.Context, op func(ctx context.Context, sid string, req cartLineReq) (model.Cart, error)) error {
	var req cartLineReq
	if err := c.Bind(&req); err != nil || req.ID == 0 {
		return fail(c, http.StatusBadRequest, "id and type are required")
	}
	req.Type = strings.ToLower(strings.TrimSpace(req.Type))
	sid, err := h.cartID(c)
	if err != nil {
		return internal(c, h.log, h.prod, "cart id", err)
	}
	cart, err := op(c.Request().Context(), sid, req)
	if status := cartErrorStatus(err); status != 0 {
		return fail(c, status, err.Error())
	}
	if err != nil {
		return internal(c, h.log, h.prod, "cart update failed", err)
	}
	return c.JSON(http.StatusOK, summary(cart))
}

// View returns the cart with its totals.
func (h *CartHandler) View(c echo.Context) error {
	sid, err := h.cartID(c)
	if err != nil {
		return internal(c, h.log, h.prod, "cart id", err)
	}
	cart, err := h.carts.Get(c.Request().Context(), sid)
	if err != nil {
		return internal(c, h.log, h.prod, "load cart failed", err)
	}
	out := summary(cart)
	out["lines"] = cart.Lines
	return c.JSON(http.StatusOK, out)
}

func (h *CartHandler) Add(c echo.Context) error {
	return h.mutate(c, func(ctx context.Context, sid string, req cartLineReq) (model.Cart, error) {
		qty := req.Quantity
		if qty < 1 {
			qty = 1
		}
		return h.carts.Add(ctx, sid, userIDOf(c), model.ItemType(req.Type), req.ID, qty)
	})
}

func (h *CartHandler) Update(c echo.Context) error {
	return h.mutate(c, func(ctx context.Context, sid string, req cartLineReq) (model.Cart, error) {
		return h.carts.Update(ctx, sid, model.ItemType(req.Type), req.ID, req.Quantity)
	})
}

func (h *CartHandler) Remove(c echo.Context) error {
	return h.mutate(c, func(ctx context.Context, sid string, req cartLineReq) (model.Cart, error) {
		return h.carts.Remove(ctx, sid, model.ItemType(req.Type), req.ID)
	})
}

func (h *CartHandler) Clear(c echo.Context) error {
	sid, err := h.cartID(c)
	if err != nil {
		return internal(c, h.log, h.prod, "cart id", err)
	}
	if err := h.carts.Clear(c.Request().Context(), sid); err != nil {
		return internal(c, h.log, h.prod, "clear cart failed", err)
	}
	return c.JSON(http.StatusOK, summary(model.Cart{}))
}

// CheckoutView re-validates the cart against the catalog for the checkout
// page.
func (h *CartHandler) CheckoutView(c echo.Context) error {
	sid, err := h.cartID(c)
	if err != nil {
		return internal(c, h.log, h.prod, "cart id", err)
	}
	ctx := c.Request().Context()
	cart, err := h.carts.Get(ctx, sid)
	if err != nil {
		return internal(c, h.log, h.prod, "load cart failed", err)
	}
	enriched, err := h.carts.Validate(ctx, cart, userIDOf(c))
	if err != nil {
		return internal(c, h.log, h.prod, "validate cart failed", err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"cart":          enriched,
		"valid":         enriched.Valid(),
		"error":         c.QueryParam("error"),
		"requires_auth": userIDOf(c) == 0,
	})
}

type checkoutReq struct {
	ShippingAddress string `json:"direccion_envio" form:"direccion_envio"`
	Method          string `json:"metodo_pago" form:"metodo_pago"`
	Notes           string `json:"notas" form:"notas"`
}

func checkoutStatus(ce *service.CheckoutError) int {
	switch {
	case ce.Err == nil, errors.Is(ce, service.ErrCartEmpty):
		return http.StatusBadRequest
	case errors.Is(ce, service.ErrItemUnavailable), errors.Is(ce, service.ErrAlreadyEnrolled):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// Checkout places the order for the authenticated user.
func (h *CartHandler) Checkout(c echo.Context) error {
	claims := middleware.CurrentClaims(c)
	var req checkoutReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid body")
	}
	sid, err := h.cartID(c)
	if err != nil {
		return internal(c, h.log, h.prod, "cart id", err)
	}
	ctx := c.Request().Context()
	cart, err := h.carts.Get(ctx, sid)
	if err != nil {
		return internal(c, h.log, h.prod, "load cart failed", err)
	}

	res, err := h.checkout.Run(ctx, service.CheckoutInput{
		CartID: sid,
		Cart:   cart,
		UserID: claims.UserID,
		Email:  claims.Email,
		Payment: service.PaymentDetails{
			ShippingAddress: req.ShippingAddress,
			Method:          req.Method,
			Notes:           req.Notes,
		},
	})
	var ce *service.CheckoutError
	if errors.As(err, &ce) {
		if middleware.WantsJSON(c) {
			return fail(c, checkoutStatus(ce), ce.Reason)
		}
		return redirectWithError(c, base(c)+"/checkout", ce.Reason, nil)
	}
	if err != nil {
		return internal(c, h.log, h.prod, "checkout failed", err)
	}

	if middleware.WantsJSON(c) {
		out := echo.Map{
			"success":     true,
			"orderNumber": res.Reference,
			"total":       model.FormatCents(res.Totals.TotalCents),
			"replayed":    res.Replayed,
			"courses":     res.Courses,
			"services":    res.Services,
		}
		if res.OrderID != nil {
			out["orderId"] = *res.OrderID
		}
		status := http.StatusCreated
		if res.Replayed {
			status = http.StatusOK
		}
		return c.JSON(status, out)
	}
	return c.Redirect(http.StatusSeeOther, base(c)+"/success?order="+url.QueryEscape(res.Reference))
}

// Success shows a completed checkout of the current user.
func (h *CartHandler) Success(c echo.Context) error {
	claims := middleware.CurrentClaims(c)
	ref := c.QueryParam("order")
	if ref == "" {
		return fail(c, http.StatusBadRequest, "order is required")
	}
	r, err := h.checkout.Receipt(c.Request().Context(), claims.UserID, ref)
	if errors.Is(err, service.ErrItemNotFound) {
		return fail(c, http.StatusNotFound, "order not found")
	}
	if err != nil {
		return internal(c, h.log, h.prod, "load order failed", err)
	}
	out := echo.Map{
		"orderNumber": r.Reference,
		"total":       model.FormatCents(r.TotalCents),
		"createdAt":   r.CreatedAt,
	}
	if r.Order != nil {
		out["order"] = r.Order
	}
	return c.JSON(http.StatusOK, out)
}
