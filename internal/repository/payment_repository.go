package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/techland/internal/model"
)

type PaymentRepo struct{ DB *sql.DB }

func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{DB: db} }

// CreateTx records one settled group and sets p.ID.
func (r *PaymentRepo) CreateTx(ctx context.Context, tx *sql.Tx, p *model.Payment) error {
	if p.Status == "" {
		p.Status = "completed"
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO payments (user_id, payment_type, reference_id, amount_cents, method, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.UserID, string(p.Type), p.ReferenceID, p.AmountCents, p.Method, p.Status)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	return nil
}
