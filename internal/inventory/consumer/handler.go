package consumer

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/angelmondragon/inventory-service/internal/inventory"
	"github.com/angelmondragon/inventory-service/pkg/enums"
	pkgerrors "github.com/angelmondragon/inventory-service/pkg/errors"
	"github.com/angelmondragon/inventory-service/pkg/logger"
	"github.com/angelmondragon/inventory-service/pkg/metrics"
	"github.com/angelmondragon/inventory-service/pkg/outbox/idempotency"
)

const tracerName = "github.com/angelmondragon/inventory-service/internal/inventory/consumer"

// Delivery is one inbound message, independent of the transport that carried it.
// Queue is the canonical queue name (enums.QueueReserveOrder or enums.QueueCancelOrder).
type Delivery struct {
	ID         string
	Queue      string
	Body       []byte
	Attributes map[string]string
}

type engine interface {
	Reserve(ctx context.Context, req inventory.OrderRequested) (inventory.Outcome, error)
	Cancel(ctx context.Context, req inventory.OrderCancelled) (inventory.Outcome, error)
}

type dedupe interface {
	Claim(ctx context.Context, consumer, messageID string) (idempotency.State, error)
	MarkProcessed(ctx context.Context, consumer, messageID string) error
	Release(ctx context.Context, consumer, messageID string) error
}

// HandlerParams groups the handler dependencies. Dedupe and Metrics are optional.
type HandlerParams struct {
	Engine  engine
	Dedupe  dedupe
	Logger  *logger.Logger
	Metrics *metrics.ReservationMetrics
}

// Handler turns a Delivery into an engine call. A nil return means the
// transport may acknowledge the message; any error means it must not.
type Handler struct {
	engine  engine
	dedupe  dedupe
	logg    *logger.Logger
	metrics *metrics.ReservationMetrics
	tracer  trace.Tracer
}

func NewHandler(params HandlerParams) (*Handler, error) {
	if params.Engine == nil {
		return nil, errors.New("engine required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	return &Handler{
		engine:  params.Engine,
		dedupe:  params.Dedupe,
		logg:    params.Logger,
		metrics: params.Metrics,
		tracer:  otel.Tracer(tracerName),
	}, nil
}

// Handle processes one delivery.
func (h *Handler) Handle(ctx context.Context, d Delivery) error {
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(d.Attributes))
	ctx, span := h.tracer.Start(ctx, "consume "+d.Queue,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", d.Queue),
			attribute.String("messaging.message.id", d.ID),
		),
	)
	defer span.End()

	ctx = h.logg.WithDelivery(ctx, d.Queue, d.ID)

	result, err := h.process(ctx, d)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.metrics.IncMessage(d.Queue, metrics.ResultNacked)
		logCtx := h.logg.WithField(ctx, "retryable", pkgerrors.IsRetryable(err))
		switch pkgerrors.CodeOf(err) {
		case pkgerrors.CodeValidation:
			h.logg.Warn(h.logg.WithField(logCtx, "error", err.Error()), "malformed message left unacknowledged")
		case pkgerrors.CodeConflict:
			h.logg.Warn(h.logg.WithField(logCtx, "error", err.Error()), "message claimed by another delivery")
		default:
			h.logg.Error(logCtx, "message processing failed", err)
		}
		return err
	}
	h.metrics.IncMessage(d.Queue, result)
	return nil
}

func (h *Handler) process(ctx context.Context, d Delivery) (string, error) {
	switch d.Queue {
	case enums.QueueReserveOrder:
		evt, err := inventory.DecodeOrderRequested(d.Body)
		if err != nil {
			return "", err
		}
		ctx = h.logg.WithOrderID(ctx, evt.OrderID)
		return h.once(ctx, d, func(ctx context.Context) (inventory.Outcome, error) {
			return h.engine.Reserve(ctx, evt)
		})
	case enums.QueueCancelOrder:
		evt, err := inventory.DecodeOrderCancelled(d.Body)
		if err != nil {
			return "", err
		}
		ctx = h.logg.WithOrderID(ctx, evt.OrderID)
		return h.once(ctx, d, func(ctx context.Context) (inventory.Outcome, error) {
			return h.engine.Cancel(ctx, evt)
		})
	default:
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("no route for queue %q", d.Queue))
	}
}

// once runs fn at most once per transport message. The claim taken before fn
// only lives for the claim TTL; the processed marker is written after fn
// succeeds. A delivery that finds another claim still in place is not
// acknowledged, so a worker that died mid-call delays redelivery instead of
// dropping the message. Claims are per transport message, never per order.
func (h *Handler) once(ctx context.Context, d Delivery, fn func(ctx context.Context) (inventory.Outcome, error)) (string, error) {
	claimed := false
	if h.dedupe != nil && d.ID != "" {
		state, err := h.dedupe.Claim(ctx, d.Queue, d.ID)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency check failed")
		}
		switch state {
		case idempotency.Processed:
			h.logg.Info(ctx, "message already processed")
			return metrics.ResultDuplicate, nil
		case idempotency.InFlight:
			return "", pkgerrors.New(pkgerrors.CodeConflict, "message is claimed by an unfinished delivery")
		}
		claimed = true
	}

	outcome, err := fn(ctx)
	if err != nil {
		if claimed {
			if relErr := h.dedupe.Release(context.WithoutCancel(ctx), d.Queue, d.ID); relErr != nil {
				h.logg.Error(ctx, "failed to release idempotency claim", relErr)
			}
		}
		return "", err
	}

	if claimed {
		// The outcome is committed; a lost marker only means a late duplicate
		// could run again once the claim expires.
		if markErr := h.dedupe.MarkProcessed(context.WithoutCancel(ctx), d.Queue, d.ID); markErr != nil {
			h.logg.Error(ctx, "failed to mark message processed", markErr)
		}
	}

	logCtx := h.logg.WithField(ctx, "outcome", string(outcome.Kind))
	if outcome.Reason != "" {
		logCtx = h.logg.WithField(logCtx, "reason", outcome.Reason)
	}
	h.logg.Info(logCtx, "message processed")
	return metrics.ResultAcked, nil
}
