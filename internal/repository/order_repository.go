package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/techland/internal/model"
)

// OrderRepo persists orders created at checkout and their product lines.
// All timestamps are stored in UTC.
type OrderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) *OrderRepo { return &OrderRepo{db: db} }

// CreateTx inserts an order inside the caller's transaction and sets o.ID.
// The caller must commit or roll back.
func (r *OrderRepo) CreateTx(ctx context.Context, tx *sql.Tx, o *model.Order) error {
	if o.Status == "" {
		o.Status = model.OrderPending
	}
	const q = `INSERT INTO orders (user_id, order_number, subtotal_cents, tax_cents, total_cents, shipping_address, notes, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := tx.ExecContext(ctx, q, o.UserID, o.OrderNumber, o.SubtotalCents, o.TaxCents, o.TotalCents,
		o.ShippingAddress, o.Notes, o.Status)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	o.ID = uint64(id)
	return nil
}

// CreateLinesBulkTx inserts every line of an order in one statement.
// An empty slice is a no-op.
func (r *OrderRepo) CreateLinesBulkTx(ctx context.Context, tx *sql.Tx, orderID uint64, lines []model.OrderLine) error {
	if len(lines) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO order_lines (order_id, product_id, quantity, unit_price_cents, subtotal_cents) VALUES ")
	args := make([]any, 0, len(lines)*5)
	for i, l := range lines {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?)")
		args = append(args, orderID, l.ProductID, l.Quantity, l.UnitPriceCents, l.SubtotalCents)
	}
	_, err := tx.ExecContext(ctx, sb.String(), args...)
	return err
}

// GetByNumberForUser loads an order and its lines, scoped to its owner so
// one customer cannot read another's order by guessing numbers.
func (r *OrderRepo) GetByNumberForUser(ctx context.Context, number string, userID uint64) (model.Order, error) {
	var o model.Order
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, order_number, subtotal_cents, tax_cents, total_cents, shipping_address, notes, status, created_at
		 FROM orders WHERE order_number = ? AND user_id = ? LIMIT 1`, number, userID).
		Scan(&o.ID, &o.UserID, &o.OrderNumber, &o.SubtotalCents, &o.TaxCents, &o.TotalCents,
			&o.ShippingAddress, &o.Notes, &o.Status, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, ErrNotFound
	}
	if err != nil {
		return model.Order{}, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT l.order_id, l.product_id, p.name, l.quantity, l.unit_price_cents, l.subtotal_cents
		 FROM order_lines l JOIN products p ON p.id = l.product_id
		 WHERE l.order_id = ? ORDER BY l.id`, o.ID)
	if err != nil {
		return model.Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l model.OrderLine
		if err := rows.Scan(&l.OrderID, &l.ProductID, &l.Name, &l.Quantity, &l.UnitPriceCents, &l.SubtotalCents); err != nil {
			return model.Order{}, err
		}
		o.Lines = append(o.Lines, l)
	}
	return o, rows.Err()
}
