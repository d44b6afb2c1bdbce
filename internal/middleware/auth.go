package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/techland/internal/service"
	"github.com/iliyamo/techland/internal/utils"
)

// Cookie names shared with the auth handlers.
const (
	AccessCookie  = "accessToken"
	RefreshCookie = "refreshToken"

	claimsKey  = "auth.claims"
	refreshKey = "auth.refresh"
)

// TokenService is the part of service.Tokens the gate depends on.
type TokenService interface {
	VerifyAccess(raw string) (*utils.AccessClaims, error)
	Rotate(ctx context.Context, refreshRaw string, meta service.RequestMeta) (service.TokenPair, error)
}

// Outcome of resolving a request's identity.
type Outcome int

const (
	Anonymous Outcome = iota
	Authenticated
	Rejected
)

// Reason codes returned to JSON clients on 401.
const (
	ReasonNoToken      = "NO_TOKEN"
	ReasonInvalidToken = "INVALID_TOKEN"
)

// Decision is the result of running the extract, verify and refresh steps
// for one request. Rotated is set when a refresh happened and the new pair
// must be written back as cookies.
type Decision struct {
	Outcome Outcome
	Claims  *utils.AccessClaims
	Reason  string
	Rotated *service.TokenPair
}

// Cookies writes and clears the token cookies.
type Cookies struct {
	Secure      bool
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	RememberTTL time.Duration
}

func (k Cookies) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   k.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge / time.Second),
	}
}

// Set stores both tokens of pair on the response.
func (k Cookies) Set(c echo.Context, pair service.TokenPair) {
	refreshTTL := k.RefreshTTL
	if pair.RememberMe {
		refreshTTL = k.RememberTTL
	}
	c.SetCookie(k.cookie(AccessCookie, pair.AccessToken, k.AccessTTL))
	c.SetCookie(k.cookie(RefreshCookie, pair.RefreshToken, refreshTTL))
}

// Clear expires both token cookies.
func (k Cookies) Clear(c echo.Context) {
	for _, name := range []string{AccessCookie, RefreshCookie} {
		ck := k.cookie(name, "", 0)
		ck.MaxAge = -1
		ck.Expires = time.Unix(0, 0)
		c.SetCookie(ck)
	}
}

// Gate authenticates requests from a bearer header or the token cookies.
type Gate struct {
	tokens  TokenService
	cookies Cookies
	log     *zap.Logger
}

func NewGate(tokens TokenService, cookies Cookies, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{tokens: tokens, cookies: cookies, log: log}
}

// Cookies returns the cookie settings the gate writes with.
func (g *Gate) Cookies() Cookies { return g.cookies }

func extractAccess(c echo.Context) string {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); strings.HasPrefix(h, "Bearer ") {
		if raw := strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")); raw != "" {
			return raw
		}
	}
	if ck, err := c.Cookie(AccessCookie); err == nil {
		return ck.Value
	}
	return ""
}

func extractRefresh(c echo.Context) string {
	if ck, err := c.Cookie(RefreshCookie); err == nil {
		return strings.TrimSpace(ck.Value)
	}
	return ""
}

// MetaOf captures the client details recorded on new sessions.
func MetaOf(c echo.Context) service.RequestMeta {
	return service.RequestMeta{IP: c.RealIP(), UserAgent: c.Request().UserAgent()}
}

// Resolve runs the pipeline. In optional mode a bad or missing access token
// yields Anonymous and nothing is rotated.
func (g *Gate) Resolve(c echo.Context, required bool) Decision {
	access := extractAccess(c)
	if access != "" {
		if claims, err := g.tokens.VerifyAccess(access); err == nil {
			return Decision{Outcome: Authenticated, Claims: claims}
		}
	}
	if !required {
		return Decision{Outcome: Anonymous}
	}

	refresh := extractRefresh(c)
	if refresh == "" {
		if access == "" {
			return Decision{Outcome: Rejected, Reason: ReasonNoToken}
		}
		return Decision{Outcome: Rejected, Reason: ReasonInvalidToken}
	}
	pair, err := g.tokens.Rotate(c.Request().Context(), refresh, MetaOf(c))
	if err != nil {
		if !errors.Is(err, service.ErrInvalidToken) {
			g.log.Error("refresh during request failed", zap.String("path", c.Path()), zap.Error(err))
		}
		return Decision{Outcome: Rejected, Reason: ReasonInvalidToken}
	}
	return Decision{Outcome: Authenticated, Claims: pair.Claims, Rotated: &pair}
}

// Required rejects requests without a valid identity, refreshing expired
// access tokens transparently when a refresh cookie is present.
func (g *Gate) Required() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			d := g.Resolve(c, true)
			if d.Outcome != Authenticated {
				if d.Reason == ReasonInvalidToken {
					g.cookies.Clear(c)
				}
				return unauthorized(c, d.Reason)
			}
			if d.Rotated != nil {
				g.cookies.Set(c, *d.Rotated)
				c.Set(refreshKey, d.Rotated.RefreshToken)
			}
			SetClaims(c, d.Claims)
			return next(c)
		}
	}
}

// Optional attaches the identity when a valid access token is present and
// otherwise lets the request through anonymously.
func (g *Gate) Optional() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if d := g.Resolve(c, false); d.Outcome == Authenticated {
				SetClaims(c, d.Claims)
			}
			return next(c)
		}
	}
}

// SetClaims attaches an identity to the request.
func SetClaims(c echo.Context, claims *utils.AccessClaims) { c.Set(claimsKey, claims) }

// CurrentClaims returns the identity attached by the gate, or nil.
func CurrentClaims(c echo.Context) *utils.AccessClaims {
	cl, _ := c.Get(claimsKey).(*utils.AccessClaims)
	return cl
}

// CurrentRefresh returns the refresh token behind this request: the one the
// gate rotated in, or else the refresh cookie.
func CurrentRefresh(c echo.Context) string {
	if raw, _ := c.Get(refreshKey).(string); raw != "" {
		return raw
	}
	return extractRefresh(c)
}

// WantsJSON reports whether the client expects JSON rather than HTML.
func WantsJSON(c echo.Context) bool {
	r := c.Request()
	return strings.Contains(r.Header.Get(echo.HeaderAccept), echo.MIMEApplicationJSON) ||
		r.Header.Get(echo.HeaderXRequestedWith) == "XMLHttpRequest"
}

// LoginRedirect is where browsers are sent to authenticate before
// returning to the current URI.
func LoginRedirect(c echo.Context) string {
	return "/auth/login?redirect=" + url.QueryEscape(c.Request().RequestURI)
}

func unauthorized(c echo.Context, reason string) error {
	if WantsJSON(c) {
		msg := "authentication required"
		if reason == ReasonInvalidToken {
			msg = service.ErrInvalidToken.Error()
		}
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": msg, "code": reason})
	}
	return c.Redirect(http.StatusFound, LoginRedirect(c))
}
