// Package repository holds the MySQL and Redis persistence for accounts,
// sessions, the catalog view used by checkout, orders and carts. The
// sentinel errors below let the service layer tell failure scenarios apart
// without inspecting driver errors.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

var (
	// ErrNotFound is returned when a lookup by key matches no row.
	ErrNotFound = errors.New("not found")

	// ErrEmailExists is returned by UserRepo.Create on a duplicate email.
	ErrEmailExists = errors.New("email already exists")

	// ErrSessionNotFound covers unknown, revoked and expired refresh
	// sessions, and sessions whose owner was deactivated.
	ErrSessionNotFound = errors.New("session not found or expired")

	// ErrInsufficientStock is returned when a conditional stock decrement
	// finds fewer units than requested.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrCheckoutReplayed is returned when the idempotency key of a
	// checkout was already claimed by an earlier transaction.
	ErrCheckoutReplayed = errors.New("checkout already processed")

	// ErrCartConflict is returned when a cart kept changing underneath an
	// optimistic update for every retry.
	ErrCartConflict = errors.New("cart modified concurrently")
)

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
