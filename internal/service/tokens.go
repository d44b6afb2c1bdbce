package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/techland/internal/model"
	"github.com/iliyamo/techland/internal/repository"
	"github.com/iliyamo/techland/internal/utils"
)

// SessionStore is the session registry as seen by the token service.
type SessionStore interface {
	Record(ctx context.Context, s *model.Session) error
	Validate(ctx context.Context, tokenHash string) (model.SessionOwner, error)
	Consume(ctx context.Context, tokenHash string) (model.SessionOwner, error)
	Revoke(ctx context.Context, tokenHash string) error
	RevokeAll(ctx context.Context, userID uint64) (int64, error)
	PurgeExpired(ctx context.Context) (int64, error)
	ListActive(ctx context.Context, userID uint64) ([]model.Session, error)
}

// Subject is the identity a token pair is minted for.
type Subject struct {
	UserID uint64
	Email  string
	Role   string
}

// SubjectOf extracts the token subject from an account.
func SubjectOf(u model.User) Subject { return Subject{UserID: u.ID, Email: u.Email, Role: u.Role} }

// RequestMeta is recorded on the session for display only.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// TokenPair is what login, registration and refresh hand back.
type TokenPair struct {
	AccessToken    string
	AccessExpires  time.Time
	RefreshToken   string
	RefreshExpires time.Time
	RememberMe     bool
	Claims         *utils.AccessClaims
}

// Tokens issues, verifies and rotates access/refresh pairs.
type Tokens struct {
	jwt         *utils.JWT
	sessions    SessionStore
	refreshTTL  time.Duration
	rememberTTL time.Duration
	now         func() time.Time
	log         *zap.Logger
}

func NewTokens(j *utils.JWT, sessions SessionStore, refreshTTL, rememberTTL time.Duration, log *zap.Logger) *Tokens {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tokens{
		jwt:         j,
		sessions:    sessions,
		refreshTTL:  refreshTTL,
		rememberTTL: rememberTTL,
		now:         time.Now,
		log:         log,
	}
}

// WithClock sets the time source used for refresh expiry.
func (t *Tokens) WithClock(now func() time.Time) *Tokens {
	t.now = now
	return t
}

// IssuePair mints an access token and records a new refresh session.
// remember selects the longer refresh lifetime.
func (t *Tokens) IssuePair(ctx context.Context, sub Subject, meta RequestMeta, remember bool) (TokenPair, error) {
	access, claims, err := t.jwt.Sign(sub.UserID, sub.Email, sub.Role)
	if err != nil {
		return TokenPair{}, err
	}
	ttl := t.refreshTTL
	if remember {
		ttl = t.rememberTTL
	}
	refresh, err := utils.NewRefreshToken(t.now(), ttl)
	if err != nil {
		return TokenPair{}, err
	}
	sess := model.Session{
		UserID:     sub.UserID,
		TokenHash:  utils.HashRefreshRaw(refresh.Raw),
		ExpiresAt:  refresh.Exp,
		IPAddress:  meta.IP,
		UserAgent:  truncate(meta.UserAgent, 512),
		Device:     utils.DeviceLabel(meta.UserAgent),
		RememberMe: remember,
	}
	if err := t.sessions.Record(ctx, &sess); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:    access,
		AccessExpires:  claims.ExpiresAt.Time,
		RefreshToken:   refresh.Raw,
		RefreshExpires: refresh.Exp,
		RememberMe:     remember,
		Claims:         claims,
	}, nil
}

// VerifyAccess validates an access token. Every failure is ErrInvalidToken.
func (t *Tokens) VerifyAccess(raw string) (*utils.AccessClaims, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrInvalidToken
	}
	claims, err := t.jwt.Verify(raw)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Rotate consumes a refresh token and issues a brand new pair for its
// owner. The registry lets exactly one concurrent consumer of a token win;
// every other caller gets ErrInvalidToken. The new session keeps the
// remember-me choice of the consumed one.
func (t *Tokens) Rotate(ctx context.Context, refreshRaw string, meta RequestMeta) (TokenPair, error) {
	refreshRaw = strings.TrimSpace(refreshRaw)
	if refreshRaw == "" {
		return TokenPair{}, ErrInvalidToken
	}
	owner, err := t.sessions.Consume(ctx, utils.HashRefreshRaw(refreshRaw))
	if errors.Is(err, repository.ErrSessionNotFound) {
		return TokenPair{}, ErrInvalidToken
	}
	if err != nil {
		return TokenPair{}, err
	}
	sub := Subject{UserID: owner.UserID, Email: owner.Email, Role: owner.Role}
	return t.IssuePair(ctx, sub, meta, owner.RememberMe)
}

// Validate looks a refresh token up without consuming it.
func (t *Tokens) Validate(ctx context.Context, refreshRaw string) (model.SessionOwner, error) {
	if strings.TrimSpace(refreshRaw) == "" {
		return model.SessionOwner{}, ErrInvalidToken
	}
	owner, err := t.sessions.Validate(ctx, utils.HashRefreshRaw(strings.TrimSpace(refreshRaw)))
	if errors.Is(err, repository.ErrSessionNotFound) {
		return model.SessionOwner{}, ErrInvalidToken
	}
	return owner, err
}

// Revoke ends the session behind one refresh token.
func (t *Tokens) Revoke(ctx context.Context, refreshRaw string) error {
	if strings.TrimSpace(refreshRaw) == "" {
		return nil
	}
	return t.sessions.Revoke(ctx, utils.HashRefreshRaw(strings.TrimSpace(refreshRaw)))
}

// RevokeAll ends every session of the user. Access tokens already issued
// stay valid until their short expiry.
func (t *Tokens) RevokeAll(ctx context.Context, userID uint64) (int64, error) {
	n, err := t.sessions.RevokeAll(ctx, userID)
	if err == nil {
		t.log.Info("sessions revoked", zap.Uint64("user_id", userID), zap.Int64("count", n))
	}
	return n, err
}

func (t *Tokens) PurgeExpired(ctx context.Context) (int64, error) {
	return t.sessions.PurgeExpired(ctx)
}

func (t *Tokens) ListSessions(ctx context.Context, userID uint64) ([]model.Session, error) {
	return t.sessions.ListActive(ctx, userID)
}

// RefreshTTL reports the refresh lifetime for the remember-me choice.
func (t *Tokens) RefreshTTL(remember bool) time.Duration {
	if remember {
		return t.rememberTTL
	}
	return t.refreshTTL
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
