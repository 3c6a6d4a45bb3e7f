//go:build integration

package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/angelmondragon/inventory-service/pkg/config"
	"github.com/angelmondragon/inventory-service/pkg/enums"
	"github.com/angelmondragon/inventory-service/pkg/logger"
)

func TestKafkaConsumerAgainstBroker(t *testing.T) {
	ctx := context.Background()

	kafkaC, err := tckafka.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("inventory-test"),
	)
	testcontainers.CleanupContainer(t, kafkaC)
	require.NoError(t, err)

	brokers, err := kafkaC.Brokers(ctx)
	require.NoError(t, err)

	topic := "inventory.reserve_order"
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		AllowAutoTopicCreation: true,
	}
	defer writer.Close()

	require.Eventually(t, func() bool {
		return writer.WriteMessages(ctx, kafka.Message{
			Value:   []byte(reserveBody),
			Headers: []kafka.Header{{Key: "traceparent", Value: []byte("00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01")}},
		}) == nil
	}, 30*time.Second, time.Second)

	eng := &fakeEngine{}
	h, _ := newTestHandler(t, eng, newFakeDedupe())
	reader := NewKafkaReader(config.KafkaConfig{
		Brokers: brokers,
		GroupID: "inventory-test",
		MaxWait: 500 * time.Millisecond,
	}, topic)
	c, err := NewKafkaConsumer(reader, enums.QueueReserveOrder, h, logger.Nop())
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- c.Run(runCtx) }()

	require.Eventually(t, func() bool {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		return len(eng.reserves) == 1
	}, time.Minute, 200*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, int64(11), eng.reserves[0].OrderID)
}
