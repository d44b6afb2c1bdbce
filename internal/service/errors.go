// Package service implements the credential store, token service, cart and
// checkout transaction on top of the repositories. Handlers only talk to
// this package and translate its sentinel errors into responses.
package service

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthFailure is the single outcome for unknown email, wrong
	// password and deactivated account.
	ErrAuthFailure = errors.New("invalid email or password")

	// ErrInvalidToken covers every access/refresh token failure: bad
	// signature, wrong issuer or audience, expiry, revocation, reuse.
	ErrInvalidToken = errors.New("token expired or invalid")

	ErrWrongPassword    = errors.New("current password is incorrect")
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
	ErrPasswordTooLong  = errors.New("password must be at most 72 bytes")
	ErrInvalidEmail     = errors.New("a valid email address is required")
	ErrNameRequired     = errors.New("name is required")
	ErrUserNotFound     = errors.New("user not found")

	ErrItemNotFound      = errors.New("item not found")
	ErrItemUnavailable   = errors.New("item unavailable")
	ErrAlreadyEnrolled   = errors.New("already enrolled in this course")
	ErrDuplicateCartItem = errors.New("item already in cart")
	ErrInvalidItemType   = errors.New("invalid item type")
	ErrCartEmpty         = errors.New("cart is empty")
)

// CheckoutError is returned for any checkout that did not commit. Reason is
// safe to show to the customer; Err keeps the cause for errors.Is and logs.
type CheckoutError struct {
	Reason string
	Err    error
}

func (e *CheckoutError) Error() string {
	if e.Err == nil {
		return "checkout failed: " + e.Reason
	}
	return fmt.Sprintf("checkout failed: %s: %v", e.Reason, e.Err)
}

func (e *CheckoutError) Unwrap() error { return e.Err }

func checkoutFailure(err error, format string, args ...any) *CheckoutError {
	return &CheckoutError{Reason: fmt.Sprintf(format, args...), Err: err}
}
