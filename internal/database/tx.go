package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// TxRunner executes a function inside one database transaction. The
// transaction is committed only when fn returns nil; any error or panic
// rolls it back, and the connection goes back to the pool either way.
type TxRunner struct {
	db        *sql.DB
	log       *zap.Logger
	slowAfter time.Duration
}

// NewTxRunner returns a runner that warns when a transaction keeps its
// connection longer than slowAfter (0 disables the warning).
func NewTxRunner(db *sql.DB, log *zap.Logger, slowAfter time.Duration) *TxRunner {
	if log == nil {
		log = zap.NewNop()
	}
	return &TxRunner{db: db, log: log, slowAfter: slowAfter}
}

// RunTx begins a transaction named name and hands it to fn.
func (r *TxRunner) RunTx(ctx context.Context, name string, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", name, err)
	}
	start := time.Now()

	var timer *time.Timer
	if r.slowAfter > 0 {
		timer = time.AfterFunc(r.slowAfter, func() {
			r.log.Warn("transaction still holding its connection",
				zap.String("tx", name), zap.Duration("threshold", r.slowAfter))
		})
	}

	committed := false
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		p := recover()
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				r.log.Error("rollback failed", zap.String("tx", name), zap.Error(rbErr))
			}
		}
		if elapsed := time.Since(start); r.slowAfter > 0 && elapsed > r.slowAfter {
			r.log.Warn("slow transaction released",
				zap.String("tx", name), zap.Duration("elapsed", elapsed), zap.Bool("committed", committed))
		}
		if p != nil {
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", name, err)
	}
	committed = true
	return nil
}
