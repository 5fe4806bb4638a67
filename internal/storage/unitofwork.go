package storage

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/lib/pq"

	dErrors "fairfin/pkg/domain-errors"
	"fairfin/pkg/platform/sentinel"
	txcontext "fairfin/pkg/platform/tx"
)

const defaultTxTimeout = 5 * time.Second

// SQLUnitOfWork runs a function inside a database transaction. The
// transaction rides in the context so any tx-aware store called by fn joins
// it; either every mutation and its audit entry commit together or none do.
type SQLUnitOfWork struct {
	db      *sql.DB
	timeout time.Duration
}

func NewSQLUnitOfWork(db *sql.DB) *SQLUnitOfWork {
	return &SQLUnitOfWork{db: db, timeout: defaultTxTimeout}
}

func (u *SQLUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapCommitError(err)
	}
	return nil
}

// mapCommitError translates serialization and deadlock failures into the
// conflict sentinel so callers can treat them as retryable lost races.
func mapCommitError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01":
			return sentinel.ErrConflict
		}
	}
	return err
}

// Snapshotter lets the memory unit of work capture and restore store state so
// unit tests get the same all-or-nothing semantics as the SQL implementation.
type Snapshotter interface {
	Snapshot() (restore func())
}

// MemoryUnitOfWork serializes units of work over in-memory stores and rolls
// their state back when fn fails.
type MemoryUnitOfWork struct {
	mu     sync.Mutex
	stores []Snapshotter
}

func NewMemoryUnitOfWork(stores ...Snapshotter) *MemoryUnitOfWork {
	return &MemoryUnitOfWork{stores: stores}
}

func (u *MemoryUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	restores := make([]func(), 0, len(u.stores))
	for _, s := range u.stores {
		restores = append(restores, s.Snapshot())
	}

	if err := fn(ctx); err != nil {
		for i := len(restores) - 1; i >= 0; i-- {
			restores[i]()
		}
		return err
	}
	return nil
}
