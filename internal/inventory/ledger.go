package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/inventory-service/pkg/db"
	pkgerrors "github.com/angelmondragon/inventory-service/pkg/errors"
	"github.com/angelmondragon/inventory-service/pkg/outbox"
)

var (
	// ErrInsufficientStock is returned when a reserve guard matched no row.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInsufficientReserved is returned when a release guard matched no row.
	ErrInsufficientReserved = errors.New("insufficient reserved quantity")
	// ErrUnrecordedMutation is returned by Mutate when the ledger changed but no event was appended.
	ErrUnrecordedMutation = errors.New("ledger mutated without an outbox event")
	// ErrLedgerTxClosed is returned when a LedgerTx is used after Mutate returned.
	ErrLedgerTxClosed = errors.New("ledger transaction is closed")
)

const (
	reserveSQL = `UPDATE inventory
SET reserved_quantity = reserved_quantity + ?, updated_at = ?
WHERE product_id = ? AND total_quantity - reserved_quantity - sold_quantity >= ?`

	releaseSQL = `UPDATE inventory
SET reserved_quantity = reserved_quantity - ?, updated_at = ?
WHERE product_id = ? AND reserved_quantity >= ?`

	// Table constraints that back the guards above.
	noOversellConstraint     = "chk_inventory_no_oversell"
	reservedNonNegConstraint = "chk_inventory_reserved_non_negative"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (int64, error)
}

// Ledger is the only writer of inventory rows and outbox rows.
type Ledger struct {
	db     txRunner
	outbox emitter
}

func NewLedger(db txRunner, emitter emitter) (*Ledger, error) {
	if db == nil {
		return nil, errors.New("transaction runner required")
	}
	if emitter == nil {
		return nil, errors.New("outbox emitter required")
	}
	return &Ledger{db: db, outbox: emitter}, nil
}

// LedgerTx is the handle passed to Mutate. It is only valid while fn runs.
type LedgerTx struct {
	ctx      context.Context
	tx       *gorm.DB
	outbox   emitter
	mutated  bool
	appended int
	closed   bool
}

// Mutate runs fn in one transaction. Any error from fn rolls back every change
// fn made; a mutation without an appended event is refused.
func (l *Ledger) Mutate(ctx context.Context, fn func(ltx *LedgerTx) error) error {
	err := l.db.WithTx(ctx, func(tx *gorm.DB) error {
		ltx := &LedgerTx{ctx: ctx, tx: tx, outbox: l.outbox}
		defer func() { ltx.closed = true }()

		if err := fn(ltx); err != nil {
			return err
		}
		if ltx.mutated && ltx.appended == 0 {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, ErrUnrecordedMutation, "refusing to commit")
		}
		return nil
	})
	if err == nil || pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ledger transaction failed")
}

// Record appends event in its own transaction. It never touches inventory rows.
func (l *Ledger) Record(ctx context.Context, event outbox.DomainEvent) error {
	err := l.db.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := l.outbox.Emit(ctx, tx, event)
		return err
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("record %s", event.EventType))
	}
	return nil
}

// Reserve moves qty of productID from available to reserved, or fails with
// ErrInsufficientStock when the product is unknown or short.
func (l *LedgerTx) Reserve(productID int64, qty int) error {
	affected, err := l.exec(reserveSQL, qty, productID)
	if dbpkg.IsCheckViolation(err, noOversellConstraint) {
		affected, err = 0, nil
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("reserve product %d", productID))
	}
	if affected == 0 {
		return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrInsufficientStock, fmt.Sprintf("insufficient stock for product %d", productID))
	}
	l.mutated = true
	return nil
}

// Release returns qty of productID from reserved to available, or fails with
// ErrInsufficientReserved when fewer than qty units are reserved.
func (l *LedgerTx) Release(productID int64, qty int) error {
	affected, err := l.exec(releaseSQL, qty, productID)
	if dbpkg.IsCheckViolation(err, reservedNonNegConstraint) {
		affected, err = 0, nil
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("release product %d", productID))
	}
	if affected == 0 {
		return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrInsufficientReserved, fmt.Sprintf("no reserved stock to release for product %d", productID))
	}
	l.mutated = true
	return nil
}

// Append queues event in the same transaction as the ledger changes.
func (l *LedgerTx) Append(event outbox.DomainEvent) error {
	if l.closed {
		return ErrLedgerTxClosed
	}
	if _, err := l.outbox.Emit(l.ctx, l.tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("append %s", event.EventType))
	}
	l.appended++
	return nil
}

func (l *LedgerTx) exec(query string, qty int, productID int64) (int64, error) {
	if l.closed {
		return 0, ErrLedgerTxClosed
	}
	res := l.tx.WithContext(l.ctx).Exec(query, qty, time.Now().UTC(), productID, qty)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
