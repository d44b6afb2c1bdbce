package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/techland/internal/model"
	"github.com/iliyamo/techland/internal/repository"
	"github.com/iliyamo/techland/internal/utils"
)

// UserStore is the persistence the credential store needs.
type UserStore interface {
	Create(ctx context.Context, u *model.User) error
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	UpdatePassword(ctx context.Context, id uint64, hash string) error
	TouchLastLogin(ctx context.Context, id uint64, at time.Time) error
	Deactivate(ctx context.Context, id uint64) error
}

// Credentials hashes, stores and verifies passwords.
type Credentials struct {
	users UserStore
	cost  int
	log   *zap.Logger
	now   func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func NewCredentials(users UserStore, cost int, log *zap.Logger) *Credentials {
	if log == nil {
		log = zap.NewNop()
	}
	return &Credentials{users: users, cost: cost, log: log, now: time.Now}
}

// NewUser is the registration input.
type NewUser struct {
	Name     string
	Email    string
	Password string
	Role     string
}

func checkPassword(p string) error {
	if len([]rune(p)) < utils.MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(p) > utils.MaxPasswordBytes {
		return ErrPasswordTooLong
	}
	return nil
}

// Create registers an account. Role defaults to customer.
func (c *Credentials) Create(ctx context.Context, in NewUser) (model.User, error) {
	name := strings.TrimSpace(in.Name)
	email := repository.NormalizeEmail(in.Email)
	if name == "" {
		return model.User{}, ErrNameRequired
	}
	if at := strings.IndexByte(email, '@'); at < 1 || at == len(email)-1 {
		return model.User{}, ErrInvalidEmail
	}
	if err := checkPassword(in.Password); err != nil {
		return model.User{}, err
	}
	role := in.Role
	if !model.ValidRole(role) {
		role = model.RoleCustomer
	}
	hash, err := utils.HashPassword(in.Password, c.cost)
	if err != nil {
		return model.User{}, err
	}
	u := model.User{Name: name, Email: email, PasswordHash: hash, Role: role}
	if err := c.users.Create(ctx, &u); err != nil {
		return model.User{}, err
	}
	return u, nil
}

// dummy returns a hash compared against when the email is unknown, so both
// failure paths pay for one bcrypt comparison.
func (c *Credentials) dummy() string {
	c.dummyOnce.Do(func() {
		h, err := utils.HashPassword("techland-no-such-user", c.cost)
		if err != nil {
			c.log.Error("dummy hash", zap.Error(err))
		}
		c.dummyHash = h
	})
	return c.dummyHash
}

// Verify checks an email/password pair. Unknown email, wrong password and
// an inactive account all return ErrAuthFailure.
func (c *Credentials) Verify(ctx context.Context, email, plain string) (model.User, error) {
	u, err := c.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		utils.VerifyPassword(c.dummy(), plain)
		return model.User{}, ErrAuthFailure
	}
	if err != nil {
		return model.User{}, err
	}
	if !utils.VerifyPassword(u.PasswordHash, plain) || !u.IsActive {
		return model.User{}, ErrAuthFailure
	}
	now := c.now().UTC()
	if err := c.users.TouchLastLogin(ctx, u.ID, now); err != nil {
		c.log.Warn("last login not recorded", zap.Uint64("user_id", u.ID), zap.Error(err))
	} else {
		u.LastLoginAt = &now
	}
	return u, nil
}

// ChangePassword replaces the hash after checking the current password.
// beforeSave, when set, runs once both passwords are accepted and before the
// new hash is written; if it fails the stored hash is left unchanged.
func (c *Credentials) ChangePassword(ctx context.Context, userID uint64, oldPlain, newPlain string, beforeSave func(context.Context) error) error {
	if err := checkPassword(newPlain); err != nil {
		return err
	}
	u, err := c.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	if !utils.VerifyPassword(u.PasswordHash, oldPlain) {
		return ErrWrongPassword
	}
	hash, err := utils.HashPassword(newPlain, c.cost)
	if err != nil {
		return err
	}
	if beforeSave != nil {
		if err := beforeSave(ctx); err != nil {
			return err
		}
	}
	return c.users.UpdatePassword(ctx, userID, hash)
}

// Lookup returns an account by id.
func (c *Credentials) Lookup(ctx context.Context, userID uint64) (model.User, error) {
	u, err := c.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, ErrUserNotFound
	}
	return u, err
}

// Deactivate soft-deletes an account.
func (c *Credentials) Deactivate(ctx context.Context, userID uint64) error {
	if _, err := c.Lookup(ctx, userID); err != nil {
		return err
	}
	return c.users.Deactivate(ctx, userID)
}
