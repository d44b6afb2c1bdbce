package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/techland/internal/model"
)

// CatalogRepo is the narrow catalog view the cart and checkout depend on:
// current price, stock and active flag per item. Browsing and filtering
// live elsewhere.
type CatalogRepo struct{ DB *sql.DB }

func NewCatalogRepo(db *sql.DB) *CatalogRepo { return &CatalogRepo{DB: db} }

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func itemQuery(typ model.ItemType) (string, error) {
	switch typ {
	case model.ItemProduct:
		return "SELECT id, name, price_cents, stock, 0, is_active FROM products WHERE id = ?", nil
	case model.ItemCourse:
		return "SELECT id, name, price_cents, 0, students_count, is_active FROM courses WHERE id = ?", nil
	case model.ItemService:
		return "SELECT id, name, price_cents, 0, 0, is_active FROM services WHERE id = ?", nil
	}
	return "", fmt.Errorf("unknown item type %q", typ)
}

func lookupItem(ctx context.Context, q rowQuerier, typ model.ItemType, id uint64, forUpdate bool) (model.CatalogItem, error) {
	query, err := itemQuery(typ)
	if err != nil {
		return model.CatalogItem{}, err
	}
	if forUpdate {
		query += " FOR UPDATE"
	}
	it := model.CatalogItem{Type: typ}
	err = q.QueryRowContext(ctx, query, id).Scan(&it.ID, &it.Name, &it.PriceCents, &it.Stock, &it.StudentsCount, &it.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CatalogItem{}, ErrNotFound
	}
	if err != nil {
		return model.CatalogItem{}, err
	}
	return it, nil
}

// Lookup reads the current state of an item without locking it.
func (r *CatalogRepo) Lookup(ctx context.Context, typ model.ItemType, id uint64) (model.CatalogItem, error) {
	return lookupItem(ctx, r.DB, typ, id, false)
}

// LockProductTx reads a product with SELECT ... FOR UPDATE so concurrent
// checkouts serialize on its stock.
func (r *CatalogRepo) LockProductTx(ctx context.Context, tx *sql.Tx, id uint64) (model.CatalogItem, error) {
	return lookupItem(ctx, tx, model.ItemProduct, id, true)
}

// DecrementStockTx subtracts qty from a product's stock, refusing to go
// below zero.
func (r *CatalogRepo) DecrementStockTx(ctx context.Context, tx *sql.Tx, id uint64, qty int) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE products SET stock = stock - ? WHERE id = ? AND stock >= ?", qty, id, qty)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInsufficientStock
	}
	return nil
}

func (r *CatalogRepo) LockCourseTx(ctx context.Context, tx *sql.Tx, id uint64) (model.CatalogItem, error) {
	return lookupItem(ctx, tx, model.ItemCourse, id, true)
}

func (r *CatalogRepo) IncrementStudentsTx(ctx context.Context, tx *sql.Tx, courseID uint64) error {
	_, err := tx.ExecContext(ctx, "UPDATE courses SET students_count = students_count + 1 WHERE id = ?", courseID)
	return err
}

func (r *CatalogRepo) LockServiceTx(ctx context.Context, tx *sql.Tx, id uint64) (model.CatalogItem, error) {
	return lookupItem(ctx, tx, model.ItemService, id, true)
}
