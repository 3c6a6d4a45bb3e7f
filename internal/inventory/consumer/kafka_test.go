package consumer

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/angelmondragon/inventory-service/internal/inventory"
	"github.com/angelmondragon/inventory-service/pkg/enums"
	"github.com/angelmondragon/inventory-service/pkg/logger"
)

var errReaderDrained = errors.New("reader drained")

type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return kafka.Message{}, err
	}
	if len(f.messages) == 0 {
		return kafka.Message{}, errReaderDrained
	}
	msg := f.messages[0]
	f.messages = f.messages[1:]
	return msg, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func kafkaMessage(offset int64, body string) kafka.Message {
	return kafka.Message{
		Topic:     "inventory.reserve_order",
		Partition: 2,
		Offset:    offset,
		Value:     []byte(body),
		Headers:   []kafka.Header{{Key: "traceparent", Value: []byte("00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01")}},
	}
}

func newTestKafkaConsumer(t *testing.T, reader *fakeReader, h *Handler) *KafkaConsumer {
	t.Helper()
	c, err := NewKafkaConsumer(reader, enums.QueueReserveOrder, h, logger.Nop())
	if err != nil {
		t.Fatalf("NewKafkaConsumer: %v", err)
	}
	return c
}

func TestDeliveryFromKafka(t *testing.T) {
	d := deliveryFromKafka(enums.QueueReserveOrder, kafkaMessage(17, reserveBody))

	if d.ID != "inventory.reserve_order/2/17" {
		t.Fatalf("unexpected id %q", d.ID)
	}
	if d.Queue != enums.QueueReserveOrder || string(d.Body) != reserveBody {
		t.Fatalf("unexpected delivery %+v", d)
	}
	if _, ok := d.Attributes["traceparent"]; !ok {
		t.Fatalf("expected headers copied into attributes, got %v", d.Attributes)
	}
}

func TestKafkaConsumerCommitsAcceptedMessages(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{kafkaMessage(1, reserveBody), kafkaMessage(2, reserveBody)}}
	eng := &fakeEngine{}
	h, _ := newTestHandler(t, eng, newFakeDedupe())
	c := newTestKafkaConsumer(t, reader, h)

	if err := c.Run(context.Background()); !errors.Is(err, errReaderDrained) {
		t.Fatalf("expected drained reader, got %v", err)
	}
	if !reflect.DeepEqual(reader.committed, []int64{1, 2}) {
		t.Fatalf("unexpected commits %v", reader.committed)
	}
	if eng.reserveCount() != 2 {
		t.Fatalf("expected 2 reserves, got %d", eng.reserveCount())
	}
	if !reader.closed {
		t.Fatal("expected reader to be closed")
	}
}

func TestKafkaConsumerRetriesBeforeCommitting(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{kafkaMessage(5, reserveBody)}}
	attempts := 0
	eng := &fakeEngine{reserveFn: func(req inventory.OrderRequested) (inventory.Outcome, error) {
		attempts++
		if attempts < 3 {
			return inventory.Outcome{}, errors.New("db unavailable")
		}
		return inventory.Outcome{Kind: inventory.OutcomeReserved, OrderID: req.OrderID}, nil
	}}
	h, _ := newTestHandler(t, eng, newFakeDedupe())
	c := newTestKafkaConsumer(t, reader, h)

	var waits []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	if err := c.Run(context.Background()); !errors.Is(err, errReaderDrained) {
		t.Fatalf("expected drained reader, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if !reflect.DeepEqual(waits, []time.Duration{kafkaRetryInitial, 2 * kafkaRetryInitial}) {
		t.Fatalf("unexpected backoff %v", waits)
	}
	if !reflect.DeepEqual(reader.committed, []int64{5}) {
		t.Fatalf("unexpected commits %v", reader.committed)
	}
}

func TestKafkaConsumerSkipsMalformedMessageAfterCap(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{kafkaMessage(7, `not json`), kafkaMessage(8, reserveBody)}}
	eng := &fakeEngine{}
	h, _ := newTestHandler(t, eng, newFakeDedupe())
	c := newTestKafkaConsumer(t, reader, h)

	sleeps := 0
	c.sleep = func(context.Context, time.Duration) error {
		sleeps++
		return nil
	}

	if err := c.Run(context.Background()); !errors.Is(err, errReaderDrained) {
		t.Fatalf("expected drained reader, got %v", err)
	}
	if sleeps != kafkaPoisonAttempts-1 {
		t.Fatalf("expected %d retries before skipping, got %d", kafkaPoisonAttempts-1, sleeps)
	}
	if !reflect.DeepEqual(reader.committed, []int64{7, 8}) {
		t.Fatalf("expected the malformed offset committed and the partition to move on, got %v", reader.committed)
	}
	if eng.reserveCount() != 1 {
		t.Fatalf("expected only the valid message to reach the engine, got %d", eng.reserveCount())
	}
}

func TestKafkaConsumerNeverSkipsInfrastructureFailures(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{kafkaMessage(3, reserveBody)}}
	attempts := 0
	eng := &fakeEngine{reserveFn: func(req inventory.OrderRequested) (inventory.Outcome, error) {
		attempts++
		if attempts <= kafkaPoisonAttempts+2 {
			return inventory.Outcome{}, errors.New("db unavailable")
		}
		return inventory.Outcome{Kind: inventory.OutcomeReserved, OrderID: req.OrderID}, nil
	}}
	h, _ := newTestHandler(t, eng, nil)
	c := newTestKafkaConsumer(t, reader, h)
	c.sleep = func(context.Context, time.Duration) error { return nil }

	if err := c.Run(context.Background()); !errors.Is(err, errReaderDrained) {
		t.Fatalf("expected drained reader, got %v", err)
	}
	if attempts != kafkaPoisonAttempts+3 {
		t.Fatalf("expected retries past the malformed cap, got %d attempts", attempts)
	}
	if !reflect.DeepEqual(reader.committed, []int64{3}) {
		t.Fatalf("unexpected commits %v", reader.committed)
	}
}

func TestKafkaConsumerStopsWithoutCommitOnCancel(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{kafkaMessage(9, reserveBody)}}
	eng := &fakeEngine{reserveFn: func(inventory.OrderRequested) (inventory.Outcome, error) {
		return inventory.Outcome{}, errors.New("db unavailable")
	}}
	h, _ := newTestHandler(t, eng, nil)
	c := newTestKafkaConsumer(t, reader, h)

	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	if err := c.Run(ctx); err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
	if len(reader.committed) != 0 {
		t.Fatalf("expected no commits, got %v", reader.committed)
	}
}

func TestNewKafkaConsumerValidation(t *testing.T) {
	h, _ := newTestHandler(t, &fakeEngine{}, nil)
	if _, err := NewKafkaConsumer(nil, enums.QueueReserveOrder, h, logger.Nop()); err == nil {
		t.Fatal("expected reader error")
	}
	if _, err := NewKafkaConsumer(&fakeReader{}, enums.QueueReserveOrder, nil, logger.Nop()); err == nil {
		t.Fatal("expected handler error")
	}
}
