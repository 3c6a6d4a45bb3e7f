package consumer

import (
	"context"
	"reflect"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/inventory-service/pkg/enums"
	"github.com/angelmondragon/inventory-service/pkg/logger"
)

type fakeReceiver struct {
	messages []*pubsub.Message
}

func (f *fakeReceiver) Receive(ctx context.Context, fn func(context.Context, *pubsub.Message)) error {
	for _, msg := range f.messages {
		fn(ctx, msg)
	}
	return nil
}

func newTestPubSubConsumer(t *testing.T, recv receiver, h *Handler) *PubSubConsumer {
	t.Helper()
	c, err := newPubSubConsumer(recv, enums.QueueReserveOrder, h, logger.Nop())
	if err != nil {
		t.Fatalf("newPubSubConsumer: %v", err)
	}
	return c
}

func TestDeliveryFromPubSub(t *testing.T) {
	msg := &pubsub.Message{
		ID:         "1234",
		Data:       []byte(reserveBody),
		Attributes: map[string]string{"traceparent": "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01"},
	}

	d := deliveryFromPubSub(enums.QueueCancelOrder, msg)
	if d.ID != "1234" || d.Queue != enums.QueueCancelOrder || string(d.Body) != reserveBody {
		t.Fatalf("unexpected delivery %+v", d)
	}
	if !reflect.DeepEqual(d.Attributes, msg.Attributes) {
		t.Fatalf("unexpected attributes %v", d.Attributes)
	}
}

func TestPubSubConsumerProcessesEachMessage(t *testing.T) {
	eng := &fakeEngine{}
	h, _ := newTestHandler(t, eng, newFakeDedupe())
	recv := &fakeReceiver{messages: []*pubsub.Message{
		{ID: "a", Data: []byte(reserveBody)},
		{ID: "b", Data: []byte(`{}`)},
		{ID: "a", Data: []byte(reserveBody)},
	}}
	c := newTestPubSubConsumer(t, recv, h)

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if eng.reserveCount() != 1 {
		t.Fatalf("expected duplicate and malformed messages to skip the engine, got %d calls", eng.reserveCount())
	}
}

func TestPubSubConsumerProcessResult(t *testing.T) {
	h, _ := newTestHandler(t, &fakeEngine{}, nil)
	c := newTestPubSubConsumer(t, &fakeReceiver{}, h)

	if !c.process(context.Background(), &pubsub.Message{ID: "ok", Data: []byte(reserveBody)}) {
		t.Fatal("expected a valid message to be acked")
	}
	if c.process(context.Background(), &pubsub.Message{ID: "bad", Data: []byte(`[]`)}) {
		t.Fatal("expected a malformed message to be nacked")
	}
}

func TestNewPubSubConsumerRequiresSubscription(t *testing.T) {
	h, _ := newTestHandler(t, &fakeEngine{}, nil)
	if _, err := NewPubSubConsumer(nil, enums.QueueReserveOrder, h, logger.Nop()); err == nil {
		t.Fatal("expected subscription error")
	}
}
