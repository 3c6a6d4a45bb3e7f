package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	dbpkg "github.com/angelmondragon/inventory-service/pkg/db"
	"github.com/angelmondragon/inventory-service/pkg/enums"
	pkgerrors "github.com/angelmondragon/inventory-service/pkg/errors"
	"github.com/angelmondragon/inventory-service/pkg/logger"
	"github.com/angelmondragon/inventory-service/pkg/metrics"
	"github.com/angelmondragon/inventory-service/pkg/outbox"
	"github.com/angelmondragon/inventory-service/pkg/outbox/payloads"
)

// OutcomeKind is the business result of one engine call.
type OutcomeKind string

const (
	OutcomeReserved      OutcomeKind = "reserved"
	OutcomeRejected      OutcomeKind = "rejected"
	OutcomeReleased      OutcomeKind = "released"
	OutcomeReleaseFailed OutcomeKind = "release_failed"
)

const (
	operationReserve = "reserve"
	operationCancel  = "cancel"

	outcomeInvalid = "invalid"
	outcomeError   = "error"

	reasonTimeout = "transaction timed out"
)

// Outcome is returned for every call that reached a business decision.
// A non-nil error alongside a Rejected or ReleaseFailed outcome means the
// compensation event could not be written.
type Outcome struct {
	Kind    OutcomeKind
	OrderID int64
	Reason  string
}

// ServiceParams groups the engine dependencies.
type ServiceParams struct {
	Ledger              *Ledger
	Logger              *logger.Logger
	Metrics             *metrics.ReservationMetrics
	TxTimeout           time.Duration
	CompensationTimeout time.Duration
}

// Service runs the reservation and cancellation engines.
type Service struct {
	ledger              *Ledger
	logg                *logger.Logger
	metrics             *metrics.ReservationMetrics
	txTimeout           time.Duration
	compensationTimeout time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Ledger == nil {
		return nil, errors.New("ledger required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.TxTimeout <= 0 || params.CompensationTimeout <= 0 {
		return nil, errors.New("transaction and compensation timeouts must be positive")
	}
	return &Service{
		ledger:              params.Ledger,
		logg:                params.Logger,
		metrics:             params.Metrics,
		txTimeout:           params.TxTimeout,
		compensationTimeout: params.CompensationTimeout,
	}, nil
}

// Reserve reserves every line of req or none of them. On success the
// orders.order_reserved event commits with the reservation; on a guard
// failure or timeout an orders.order_rejected event is recorded separately.
func (s *Service) Reserve(ctx context.Context, req OrderRequested) (Outcome, error) {
	if err := req.Validate(); err != nil {
		s.metrics.ObserveOperation(operationReserve, outcomeInvalid, 0)
		return Outcome{}, err
	}
	started := time.Now()
	ctx = s.logg.WithOrderID(ctx, req.OrderID)

	err := s.mutate(ctx, func(ltx *LedgerTx) error {
		for _, item := range req.OrderItems {
			if err := ltx.Reserve(item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
		return ltx.Append(outbox.DomainEvent{
			EventType: enums.EventOrderReserved,
			OrderID:   req.OrderID,
			Data:      payloads.OrderReservedEvent{OrderID: req.OrderID},
		})
	})
	if err == nil {
		s.metrics.ObserveOperation(operationReserve, string(OutcomeReserved), time.Since(started))
		s.logg.Info(ctx, "order reserved")
		return Outcome{Kind: OutcomeReserved, OrderID: req.OrderID}, nil
	}

	reason, ok := rejectionReason(err)
	if !ok {
		s.metrics.ObserveOperation(operationReserve, outcomeError, time.Since(started))
		s.logg.Error(ctx, "reservation failed", err)
		return Outcome{}, err
	}

	outcome := Outcome{Kind: OutcomeRejected, OrderID: req.OrderID, Reason: reason}
	compErr := s.compensate(ctx, operationReserve, outbox.DomainEvent{
		EventType: enums.EventOrderRejected,
		OrderID:   req.OrderID,
		Data:      payloads.OrderRejectedEvent{OrderID: req.OrderID, Reason: reason},
	}, err)
	s.metrics.ObserveOperation(operationReserve, string(OutcomeRejected), time.Since(started))
	return outcome, compErr
}

// Cancel releases every line of req or none of them. On success the
// orders.order_cancelled event commits with the release; on a guard failure or
// timeout an inventory.reservation_release_failed event is recorded separately.
func (s *Service) Cancel(ctx context.Context, req OrderCancelled) (Outcome, error) {
	if err := req.Validate(); err != nil {
		s.metrics.ObserveOperation(operationCancel, outcomeInvalid, 0)
		return Outcome{}, err
	}
	started := time.Now()
	ctx = s.logg.WithOrderID(ctx, req.OrderID)

	err := s.mutate(ctx, func(ltx *LedgerTx) error {
		for _, item := range req.OrderItems {
			if err := ltx.Release(item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
		return ltx.Append(outbox.DomainEvent{
			EventType: enums.EventOrderCancelled,
			OrderID:   req.OrderID,
			Data:      payloads.OrderCancelSuccessEvent{OrderID: req.OrderID},
		})
	})
	if err == nil {
		s.metrics.ObserveOperation(operationCancel, string(OutcomeReleased), time.Since(started))
		s.logg.Info(ctx, "reservation released")
		return Outcome{Kind: OutcomeReleased, OrderID: req.OrderID}, nil
	}

	reason, ok := rejectionReason(err)
	if !ok {
		s.metrics.ObserveOperation(operationCancel, outcomeError, time.Since(started))
		s.logg.Error(ctx, "release failed", err)
		return Outcome{}, err
	}

	outcome := Outcome{Kind: OutcomeReleaseFailed, OrderID: req.OrderID, Reason: reason}
	compErr := s.compensate(ctx, operationCancel, outbox.DomainEvent{
		EventType: enums.EventReservationReleaseFailed,
		OrderID:   req.OrderID,
		Data:      payloads.ReservationReleaseFailedEvent{OrderID: req.OrderID, Reason: reason},
	}, err)
	s.metrics.ObserveOperation(operationCancel, string(OutcomeReleaseFailed), time.Since(started))
	return outcome, compErr
}

func (s *Service) mutate(ctx context.Context, fn func(ltx *LedgerTx) error) error {
	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()
	return s.ledger.Mutate(txCtx, fn)
}

// compensate records the failure event with a fresh timeout. cause is the
// error that aborted the ledger transaction.
func (s *Service) compensate(ctx context.Context, operation string, event outbox.DomainEvent, cause error) error {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"event_type": event.EventType,
		"cause":      cause.Error(),
	})
	s.logg.Warn(logCtx, "ledger mutation aborted, recording compensation event")

	compCtx, cancel := context.WithTimeout(ctx, s.compensationTimeout)
	defer cancel()
	if err := s.ledger.Record(compCtx, event); err != nil {
		s.metrics.IncCompensationFailure(operation)
		anomalyCtx := s.logg.WithFields(logCtx, map[string]any{
			"anomaly": "compensation_failed",
			"dump":    pkgerrors.Dump(err),
		})
		s.logg.Error(anomalyCtx, "compensation event could not be recorded", err)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s compensation failed", operation))
	}
	return nil
}

// rejectionReason reports whether err should take the compensation path and
// the reason carried on the compensation event.
func rejectionReason(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrInsufficientReserved):
		if typed := pkgerrors.As(err); typed != nil {
			return typed.Message(), true
		}
		return err.Error(), true
	case dbpkg.IsCommitFailure(err):
		// The commit may have landed; a rejection event could contradict it.
		return "", false
	case dbpkg.IsTimeout(err):
		return reasonTimeout, true
	default:
		return "", false
	}
}
