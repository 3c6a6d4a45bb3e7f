package inventory

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/inventory-service/pkg/enums"
	pkgerrors "github.com/angelmondragon/inventory-service/pkg/errors"
	"github.com/angelmondragon/inventory-service/pkg/logger"
	"github.com/angelmondragon/inventory-service/pkg/outbox"
)

func order(orderID int64, items ...LineItem) OrderRequested {
	return OrderRequested{OrderID: orderID, OrderItems: items}
}

func cancellation(orderID int64, items ...LineItem) OrderCancelled {
	return OrderCancelled{OrderID: orderID, OrderItems: items}
}

func TestReserveThenRejectWhenExhausted(t *testing.T) {
	client := newTestClient(t, stock{productID: 1, total: 10})
	svc := newTestService(t, client)
	ctx := context.Background()

	outcome, err := svc.Reserve(ctx, order(1, LineItem{ProductID: 1, Quantity: 10}))
	if err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if outcome.Kind != OutcomeReserved {
		t.Fatalf("expected reserved, got %s", outcome.Kind)
	}
	assertReserved(t, client.DB(), 1, 10)

	outcome, err = svc.Reserve(ctx, order(2, LineItem{ProductID: 1, Quantity: 1}))
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if outcome.Kind != OutcomeRejected || outcome.Reason != "insufficient stock for product 1" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	assertReserved(t, client.DB(), 1, 10)

	rows := outboxRows(t, client.DB())
	want := []enums.OutboxEventType{enums.EventOrderReserved, enums.EventOrderRejected}
	if got := eventTypes(rows); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	assertPayload(t, rows[0], `{"order_id":1}`)
	assertPayload(t, rows[1], `{"order_id":2,"reason":"insufficient stock for product 1"}`)
	if rows[1].Status != enums.OutboxStatusPending {
		t.Fatalf("expected pending status, got %q", rows[1].Status)
	}
}

func TestCancelThenFailOnSecondCancel(t *testing.T) {
	client := newTestClient(t, stock{productID: 1, total: 10})
	svc := newTestService(t, client)
	ctx := context.Background()

	if _, err := svc.Reserve(ctx, order(1, LineItem{ProductID: 1, Quantity: 10})); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	outcome, err := svc.Cancel(ctx, cancellation(1, LineItem{ProductID: 1, Quantity: 10}))
	if err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if outcome.Kind != OutcomeReleased {
		t.Fatalf("expected released, got %s", outcome.Kind)
	}
	assertReserved(t, client.DB(), 1, 0)

	outcome, err = svc.Cancel(ctx, cancellation(1, LineItem{ProductID: 1, Quantity: 10}))
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if outcome.Kind != OutcomeReleaseFailed || outcome.Reason != "no reserved stock to release for product 1" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	assertReserved(t, client.DB(), 1, 0)

	rows := outboxRows(t, client.DB())
	want := []enums.OutboxEventType{enums.EventOrderReserved, enums.EventOrderCancelled, enums.EventReservationReleaseFailed}
	if got := eventTypes(rows); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	assertPayload(t, rows[1], `{"order_id":1}`)
	assertPayload(t, rows[2], `{"order_id":1,"reason":"no reserved stock to release for product 1"}`)
}

func TestReserveMultiItemIsAllOrNothing(t *testing.T) {
	client := newTestClient(t, stock{productID: 1, total: 10}, stock{productID: 2, total: 3})
	svc := newTestService(t, client)

	outcome, err := svc.Reserve(context.Background(), order(5,
		LineItem{ProductID: 1, Quantity: 5},
		LineItem{ProductID: 2, Quantity: 999999},
	))
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if outcome.Kind != OutcomeRejected {
		t.Fatalf("expected rejected, got %s", outcome.Kind)
	}
	assertReserved(t, client.DB(), 1, 0)
	assertReserved(t, client.DB(), 2, 0)

	if got := eventTypes(outboxRows(t, client.DB())); !reflect.DeepEqual(got, []enums.OutboxEventType{enums.EventOrderRejected}) {
		t.Fatalf("expected a single rejection, got %v", got)
	}
}

func TestCancelMultiItemIsAllOrNothing(t *testing.T) {
	client := newTestClient(t, stock{productID: 1, total: 10, reserved: 4}, stock{productID: 2, total: 10, reserved: 1})
	svc := newTestService(t, client)

	outcome, err := svc.Cancel(context.Background(), cancellation(9,
		LineItem{ProductID: 1, Quantity: 4},
		LineItem{ProductID: 2, Quantity: 2},
	))
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if outcome.Kind != OutcomeReleaseFailed {
		t.Fatalf("expected release failed, got %s", outcome.Kind)
	}
	assertReserved(t, client.DB(), 1, 4)
	assertReserved(t, client.DB(), 2, 1)
}

func TestReserveRespectsSoldQuantity(t *testing.T) {
	client := newTestClient(t, stock{productID: 1, total: 10, reserved: 3, sold: 5})
	svc := newTestService(t, client)

	outcome, err := svc.Reserve(context.Background(), order(1, LineItem{ProductID: 1, Quantity: 3}))
	if err != nil || outcome.Kind != OutcomeRejected {
		t.Fatalf("expected rejection, got %+v err=%v", outcome, err)
	}

	outcome, err = svc.Reserve(context.Background(), order(2, LineItem{ProductID: 1, Quantity: 2}))
	if err != nil || outcome.Kind != OutcomeReserved {
		t.Fatalf("expected reservation, got %+v err=%v", outcome, err)
	}

	rec := loadRecord(t, client.DB(), 1)
	if rec.ReservedQuantity != 5 || rec.Available() != 0 {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestReserveUnknownProductIsRejected(t *testing.T) {
	client := newTestClient(t, stock{productID: 1, total: 10})
	svc := newTestService(t, client)

	outcome, err := svc.Reserve(context.Background(), order(3, LineItem{ProductID: 404, Quantity: 1}))
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if outcome.Kind != OutcomeRejected || outcome.Reason != "insufficient stock for product 404" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
}

func TestReserveSameProductTwiceInOneOrder(t *testing.T) {
	client := newTestClient(t, stock{productID: 1, total: 5})
	svc := newTestService(t, client)

	outcome, err := svc.Reserve(context.Background(), order(1,
		LineItem{ProductID: 1, Quantity: 3},
		LineItem{ProductID: 1, Quantity: 3},
	))
	if err != nil || outcome.Kind != OutcomeRejected {
		t.Fatalf("expected rejection, got %+v err=%v", outcome, err)
	}
	assertReserved(t, client.DB(), 1, 0)
}

func TestReserveValidationErrorWritesNothing(t *testing.T) {
	client := newTestClient(t, stock{productID: 1, total: 5})
	svc := newTestService(t, client)

	if _, err := svc.Reserve(context.Background(), order(1)); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.Cancel(context.Background(), cancellation(1, LineItem{ProductID: 1, Quantity: -2})); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if rows := outboxRows(t, client.DB()); len(rows) != 0 {
		t.Fatalf("expected no outbox rows, got %d", len(rows))
	}
}

func TestReserveInfrastructureErrorIsNotCompensated(t *testing.T) {
	client := newTestClient(t, stock{productID: 1, total: 5})
	runner := &scriptedRunner{inner: client, failOn: map[int]error{1: errConnectionRefused}}
	svc := newTestService(t, runner)

	outcome, err := svc.Reserve(context.Background(), order(1, LineItem{ProductID: 1, Quantity: 1}))
	if pkgerrors.CodeOf(err) != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if outcome != (Outcome{}) {
		t.Fatalf("expected empty outcome, got %+v", outcome)
	}
	if runner.calls != 1 {
		t.Fatalf("expected no compensation transaction, got %d calls", runner.calls)
	}
	if rows := outboxRows(t, client.DB()); len(rows) != 0 {
		t.Fatalf("expected no outbox rows, got %d", len(rows))
	}
}

func TestReserveLostCommitIsNotRejected(t *testing.T) {
	client := newTestClient(t, stock{productID: 1, total: 5})
	runner := &scriptedRunner{inner: client, commitLost: map[int]error{1: context.DeadlineExceeded}}
	svc := newTestService(t, runner)

	_, err := svc.Reserve(context.Background(), order(1, LineItem{ProductID: 1, Quantity: 2}))
	if err == nil {
		t.Fatal("expected an unknown commit outcome to be returned as an error")
	}
	if !errors.Is(err, context.DeadlineExceeded) || pkgerrors.CodeOf(err) != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error wrapping the deadline, got %v", err)
	}
	if runner.calls != 1 {
		t.Fatalf("compensation ran after an ambiguous commit: %d calls", runner.calls)
	}

	rows := outboxRows(t, client.DB())
	if got := eventTypes(rows); !reflect.DeepEqual(got, []enums.OutboxEventType{enums.EventOrderReserved}) {
		t.Fatalf("expected only the committed reservation event, got %v", got)
	}
	assertReserved(t, client.DB(), 1, 2)
}

func TestCancelLostCommitIsNotReleaseFailure(t *testing.T) {
	client := newTestClient(t, stock{productID: 1, total: 5, reserved: 2})
	runner := &scriptedRunner{inner: client, commitLost: map[int]error{1: context.DeadlineExceeded}}
	svc := newTestService(t, runner)

	if _, err := svc.Cancel(context.Background(), cancellation(1, LineItem{ProductID: 1, Quantity: 2})); err == nil {
		t.Fatal("expected an unknown commit outcome to be returned as an error")
	}
	if got := eventTypes(outboxRows(t, client.DB())); !reflect.DeepEqual(got, []enums.OutboxEventType{enums.EventOrderCancelled}) {
		t.Fatalf("expected only the committed cancellation event, got %v", got)
	}
}

func TestReserveMissingTableIsDependencyError(t *testing.T) {
	client := newTestClient(t)
	if err := client.DB().Migrator().DropTable("inventory"); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	svc := newTestService(t, client)

	_, err := svc.Reserve(context.Background(), order(1, LineItem{ProductID: 1, Quantity: 1}))
	if pkgerrors.CodeOf(err) != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if rows := outboxRows(t, client.DB()); len(rows) != 0 {
		t.Fatalf("expected no outbox rows, got %d", len(rows))
	}
}

func TestCompensationFailureIsReturned(t *testing.T) {
	client := newTestClient(t, stock{productID: 1, total: 1})
	runner := &scriptedRunner{inner: client, failOn: map[int]error{2: errConnectionRefused}}
	svc := newTestService(t, runner)

	outcome, err := svc.Reserve(context.Background(), order(1, LineItem{ProductID: 1, Quantity: 2}))
	if pkgerrors.CodeOf(err) != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if outcome.Kind != OutcomeRejected {
		t.Fatalf("expected rejected outcome, got %s", outcome.Kind)
	}
	if rows := outboxRows(t, client.DB()); len(rows) != 0 {
		t.Fatalf("expected no outbox rows, got %d", len(rows))
	}
	assertReserved(t, client.DB(), 1, 0)
}

func TestTimedOutTransactionTakesRejectionPath(t *testing.T) {
	client := newTestClient(t, stock{productID: 1, total: 5})
	runner := &scriptedRunner{inner: client, stall: map[int]bool{1: true}}
	svc := newTestServiceWithTimeout(t, runner, 20*time.Millisecond)

	outcome, err := svc.Reserve(context.Background(), order(4, LineItem{ProductID: 1, Quantity: 1}))
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if outcome.Kind != OutcomeRejected || outcome.Reason != reasonTimeout {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if got := eventTypes(outboxRows(t, client.DB())); !reflect.DeepEqual(got, []enums.OutboxEventType{enums.EventOrderRejected}) {
		t.Fatalf("expected a single rejection, got %v", got)
	}
	assertReserved(t, client.DB(), 1, 0)
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	const (
		stockLevel = 5
		orders     = 20
	)
	client := newTestClient(t, stock{productID: 1, total: stockLevel})
	svc := newTestService(t, client)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		reserved int
		rejected int
	)
	for i := 1; i <= orders; i++ {
		wg.Add(1)
		go func(orderID int64) {
			defer wg.Done()
			outcome, err := svc.Reserve(context.Background(), order(orderID, LineItem{ProductID: 1, Quantity: 1}))
			if err != nil {
				t.Errorf("order %d: %v", orderID, err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			switch outcome.Kind {
			case OutcomeReserved:
				reserved++
			case OutcomeRejected:
				rejected++
			}
		}(int64(i))
	}
	wg.Wait()

	if reserved != stockLevel || rejected != orders-stockLevel {
		t.Fatalf("expected %d reserved and %d rejected, got %d and %d", stockLevel, orders-stockLevel, reserved, rejected)
	}
	assertReserved(t, client.DB(), 1, stockLevel)

	counts := map[enums.OutboxEventType]int{}
	for _, row := range outboxRows(t, client.DB()) {
		counts[row.EventType]++
	}
	if counts[enums.EventOrderReserved] != stockLevel || counts[enums.EventOrderRejected] != orders-stockLevel {
		t.Fatalf("unexpected event counts %v", counts)
	}
}

func TestNewServiceValidatesParams(t *testing.T) {
	if _, err := NewService(ServiceParams{}); err == nil {
		t.Fatal("expected missing ledger error")
	}

	client := newTestClient(t)
	ledger, err := NewLedger(client, outbox.NewService(outbox.NewRepository(), nil))
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	if _, err := NewService(ServiceParams{Ledger: ledger, Logger: logger.Nop()}); err == nil {
		t.Fatal("expected missing timeout error")
	}
}
