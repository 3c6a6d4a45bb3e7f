package consumer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/angelmondragon/inventory-service/pkg/config"
	pkgerrors "github.com/angelmondragon/inventory-service/pkg/errors"
	"github.com/angelmondragon/inventory-service/pkg/logger"
)

const (
	kafkaRetryInitial = 250 * time.Millisecond
	kafkaRetryMax     = 30 * time.Second

	// Malformed messages never become valid; after this many attempts the
	// offset is logged and committed so the partition can move on.
	kafkaPoisonAttempts = 5
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaReader builds a consumer-group reader for one topic.
func NewKafkaReader(cfg config.KafkaConfig, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   topic,
		GroupID: cfg.GroupID,
		MaxWait: cfg.MaxWait,
	})
}

// KafkaConsumer feeds one Kafka topic into a Handler. Offsets are committed
// only after the handler accepts a message; a rejected message is retried in
// place with backoff, so later offsets on the partition wait behind it. A
// malformed message is skipped after kafkaPoisonAttempts.
type KafkaConsumer struct {
	reader  messageReader
	queue   string
	handler *Handler
	logg    *logger.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewKafkaConsumer(reader messageReader, queue string, handler *Handler, logg *logger.Logger) (*KafkaConsumer, error) {
	if reader == nil {
		return nil, fmt.Errorf("kafka reader required for %s", queue)
	}
	if handler == nil {
		return nil, fmt.Errorf("handler required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &KafkaConsumer{
		reader:  reader,
		queue:   queue,
		handler: handler,
		logg:    logg,
		sleep:   sleepContext,
	}, nil
}

// Run fetches until the context is canceled or the reader fails.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	c.logg.Info(c.logg.WithField(ctx, "queue", c.queue), "kafka consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch %s: %w", c.queue, err)
		}
		if err := c.deliver(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit %s: %w", c.queue, err)
		}
	}
}

func (c *KafkaConsumer) deliver(ctx context.Context, msg kafka.Message) error {
	d := deliveryFromKafka(c.queue, msg)
	backoff := kafkaRetryInitial
	malformed := 0
	for {
		err := c.handler.Handle(ctx, d)
		if err == nil {
			return nil
		}
		if pkgerrors.CodeOf(err) == pkgerrors.CodeValidation {
			malformed++
			if malformed >= kafkaPoisonAttempts {
				c.logg.Error(c.logg.WithFields(ctx, map[string]any{
					"topic":     msg.Topic,
					"partition": msg.Partition,
					"offset":    msg.Offset,
					"attempts":  malformed,
				}), "skipping malformed kafka message", err)
				return nil
			}
		}
		c.logg.Warn(c.logg.WithFields(ctx, map[string]any{
			"message_id": d.ID,
			"retry_in":   backoff.String(),
		}), "kafka message not accepted, retrying")
		if err := c.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if backoff > kafkaRetryMax {
			backoff = kafkaRetryMax
		}
	}
}

func deliveryFromKafka(queue string, msg kafka.Message) Delivery {
	attrs := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		attrs[h.Key] = string(h.Value)
	}
	return Delivery{
		ID:         msg.Topic + "/" + strconv.Itoa(msg.Partition) + "/" + strconv.FormatInt(msg.Offset, 10),
		Queue:      queue,
		Body:       msg.Value,
		Attributes: attrs,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
