package consumer

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/inventory-service/pkg/logger"
)

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// PubSubConsumer feeds one Pub/Sub subscription into a Handler.
type PubSubConsumer struct {
	sub     receiver
	queue   string
	handler *Handler
	logg    *logger.Logger
}

// NewPubSubConsumer binds a subscriber to the canonical queue it carries.
func NewPubSubConsumer(sub *pubsub.Subscriber, queue string, handler *Handler, logg *logger.Logger) (*PubSubConsumer, error) {
	if sub == nil {
		return nil, fmt.Errorf("subscription required for %s", queue)
	}
	return newPubSubConsumer(sub, queue, handler, logg)
}

func newPubSubConsumer(sub receiver, queue string, handler *Handler, logg *logger.Logger) (*PubSubConsumer, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &PubSubConsumer{sub: sub, queue: queue, handler: handler, logg: logg}, nil
}

// Run starts the receive loop until the context is canceled.
func (c *PubSubConsumer) Run(ctx context.Context) error {
	c.logg.Info(c.logg.WithField(ctx, "queue", c.queue), "pubsub consumer started")
	return c.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

func (c *PubSubConsumer) process(ctx context.Context, msg *pubsub.Message) bool {
	return c.handler.Handle(ctx, deliveryFromPubSub(c.queue, msg)) == nil
}

func deliveryFromPubSub(queue string, msg *pubsub.Message) Delivery {
	return Delivery{
		ID:         msg.ID,
		Queue:      queue,
		Body:       msg.Data,
		Attributes: msg.Attributes,
	}
}
