package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/techland/internal/model"
)

// CheckoutRepo is the idempotency ledger for checkouts. A key is claimed
// as the first write of the checkout transaction; a second transaction with
// the same key blocks on the primary key until the first finishes and then
// fails with ErrCheckoutReplayed.
type CheckoutRepo struct{ DB *sql.DB }

func NewCheckoutRepo(db *sql.DB) *CheckoutRepo { return &CheckoutRepo{DB: db} }

const checkoutCols = "checkout_key, user_id, reference, order_id, total_cents, created_at"

func scanCheckout(row *sql.Row) (model.CheckoutRequest, error) {
	var (
		c       model.CheckoutRequest
		orderID sql.NullInt64
	)
	err := row.Scan(&c.Key, &c.UserID, &c.Reference, &orderID, &c.TotalCents, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CheckoutRequest{}, ErrNotFound
	}
	if err != nil {
		return model.CheckoutRequest{}, err
	}
	if orderID.Valid {
		id := uint64(orderID.Int64)
		c.OrderID = &id
	}
	return c, nil
}

// Find returns a completed checkout by idempotency key.
func (r *CheckoutRepo) Find(ctx context.Context, key string) (model.CheckoutRequest, error) {
	return scanCheckout(r.DB.QueryRowContext(ctx,
		"SELECT "+checkoutCols+" FROM checkout_requests WHERE checkout_key = ? LIMIT 1", key))
}

// FindByReference returns the user's checkout with the given reference.
func (r *CheckoutRepo) FindByReference(ctx context.Context, userID uint64, reference string) (model.CheckoutRequest, error) {
	return scanCheckout(r.DB.QueryRowContext(ctx,
		"SELECT "+checkoutCols+" FROM checkout_requests WHERE reference = ? AND user_id = ? LIMIT 1",
		reference, userID))
}

// ClaimTx inserts the ledger row for req.Key.
func (r *CheckoutRepo) ClaimTx(ctx context.Context, tx *sql.Tx, req model.CheckoutRequest) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO checkout_requests (checkout_key, user_id, reference, total_cents) VALUES (?, ?, ?, ?)",
		req.Key, req.UserID, req.Reference, req.TotalCents)
	if isDuplicate(err) {
		return ErrCheckoutReplayed
	}
	return err
}

// CompleteTx stores the outcome of the claimed checkout.
func (r *CheckoutRepo) CompleteTx(ctx context.Context, tx *sql.Tx, key string, orderID *uint64, totalCents int64) error {
	var oid any
	if orderID != nil {
		oid = *orderID
	}
	_, err := tx.ExecContext(ctx,
		"UPDATE checkout_requests SET order_id = ?, total_cents = ? WHERE checkout_key = ?",
		oid, totalCents, key)
	return err
}
