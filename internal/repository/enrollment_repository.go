package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/techland/internal/model"
)

// EnrollmentRepo manages course enrollments, unique per (user, course).
type EnrollmentRepo struct{ DB *sql.DB }

func NewEnrollmentRepo(db *sql.DB) *EnrollmentRepo { return &EnrollmentRepo{DB: db} }

// IsEnrolled reports whether the user holds a paid enrollment for the course.
func (r *EnrollmentRepo) IsEnrolled(ctx context.Context, userID, courseID uint64) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx,
		"SELECT 1 FROM enrollments WHERE user_id = ? AND course_id = ? AND payment_status = ? LIMIT 1",
		userID, courseID, model.EnrollmentPaid).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// FindTx reads and locks the enrollment row, if any.
func (r *EnrollmentRepo) FindTx(ctx context.Context, tx *sql.Tx, userID, courseID uint64) (model.Enrollment, error) {
	var e model.Enrollment
	err := tx.QueryRowContext(ctx,
		`SELECT id, user_id, course_id, payment_status, created_at FROM enrollments
		 WHERE user_id = ? AND course_id = ? FOR UPDATE`, userID, courseID).
		Scan(&e.ID, &e.UserID, &e.CourseID, &e.PaymentStatus, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Enrollment{}, ErrNotFound
	}
	return e, err
}

// UpsertPaidTx creates the enrollment as paid or upgrades a pending one.
// inserted is true only when a new row was created, which is the only case
// where the course's student counter should move.
func (r *EnrollmentRepo) UpsertPaidTx(ctx context.Context, tx *sql.Tx, userID, courseID uint64) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO enrollments (user_id, course_id, payment_status) VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE payment_status = VALUES(payment_status)`,
		userID, courseID, model.EnrollmentPaid)
	if err != nil {
		return false, err
	}
	// MySQL reports 1 for an insert, 2 for an update and 0 for a no-op.
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
