package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	pubsubv2 "cloud.google.com/go/pubsub/v2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/angelmondragon/inventory-service/internal/inventory"
	"github.com/angelmondragon/inventory-service/internal/inventory/consumer"
	"github.com/angelmondragon/inventory-service/pkg/config"
	"github.com/angelmondragon/inventory-service/pkg/db"
	"github.com/angelmondragon/inventory-service/pkg/enums"
	"github.com/angelmondragon/inventory-service/pkg/instance"
	"github.com/angelmondragon/inventory-service/pkg/logger"
	"github.com/angelmondragon/inventory-service/pkg/metrics"
	"github.com/angelmondragon/inventory-service/pkg/migrate"
	"github.com/angelmondragon/inventory-service/pkg/outbox"
	"github.com/angelmondragon/inventory-service/pkg/outbox/idempotency"
	"github.com/angelmondragon/inventory-service/pkg/pubsub"
	"github.com/angelmondragon/inventory-service/pkg/redis"
)

const serviceName = "inventory-worker"

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: serviceName})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Instance:    instance.GetID(),
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{
		"env":       cfg.App.Env,
		"transport": cfg.Eventing.Transport,
	})

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	deps := []Dependency{{Name: "database", Conn: dbClient}}

	err = migrate.MaybeRunDev(ctx, cfg, logg, dbClient)
	requireResource(ctx, logg, "dev migrations", err)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if sqlDB, err := dbClient.SQLDB(); err == nil {
		registry.MustRegister(collectors.NewDBStatsCollector(sqlDB, "inventory"))
	}
	reservationMetrics := metrics.NewReservationMetrics(registry)

	ledger, err := inventory.NewLedger(dbClient, outbox.NewService(outbox.NewRepository(), logg))
	requireResource(ctx, logg, "ledger", err)

	engine, err := inventory.NewService(inventory.ServiceParams{
		Ledger:              ledger,
		Logger:              logg,
		Metrics:             reservationMetrics,
		TxTimeout:           cfg.Reservation.TxTimeout,
		CompensationTimeout: cfg.Reservation.CompensationTimeout,
	})
	requireResource(ctx, logg, "reservation engine", err)

	handlerParams := consumer.HandlerParams{
		Engine:  engine,
		Logger:  logg,
		Metrics: reservationMetrics,
	}
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(ctx, cfg.Redis, logg)
		requireResource(ctx, logg, "redis", err)
		deps = append(deps, Dependency{Name: "redis", Conn: redisClient})

		manager, err := idempotency.NewManager(redisClient, cfg.Eventing.ClaimTTL, cfg.Eventing.IdempotencyTTL, instance.GetID())
		requireResource(ctx, logg, "idempotency manager", err)
		handlerParams.Dedupe = manager
	} else {
		logg.Warn(ctx, "redis not configured, redelivered messages are not deduplicated")
	}

	handler, err := consumer.NewHandler(handlerParams)
	requireResource(ctx, logg, "message handler", err)

	var consumers []runner
	switch cfg.Eventing.Transport {
	case config.TransportPubSub:
		pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		requireResource(ctx, logg, "pubsub", err)
		deps = append(deps, Dependency{Name: "pubsub", Conn: pubsubClient})

		reserveSub := limitOutstanding(pubsubClient.ReserveSubscription(), cfg.Eventing.Concurrency)
		cancelSub := limitOutstanding(pubsubClient.CancelSubscription(), cfg.Eventing.Concurrency)

		reserveConsumer, err := consumer.NewPubSubConsumer(reserveSub, enums.QueueReserveOrder, handler, logg)
		requireResource(ctx, logg, "reserve subscription", err)
		cancelConsumer, err := consumer.NewPubSubConsumer(cancelSub, enums.QueueCancelOrder, handler, logg)
		requireResource(ctx, logg, "cancel subscription", err)
		consumers = append(consumers, reserveConsumer, cancelConsumer)

	case config.TransportKafka:
		reserveConsumer, err := consumer.NewKafkaConsumer(consumer.NewKafkaReader(cfg.Kafka, cfg.Kafka.ReserveTopic), enums.QueueReserveOrder, handler, logg)
		requireResource(ctx, logg, "reserve topic reader", err)
		cancelConsumer, err := consumer.NewKafkaConsumer(consumer.NewKafkaReader(cfg.Kafka, cfg.Kafka.CancelTopic), enums.QueueCancelOrder, handler, logg)
		requireResource(ctx, logg, "cancel topic reader", err)
		consumers = append(consumers, reserveConsumer, cancelConsumer)

	default:
		requireResource(ctx, logg, "transport", fmt.Errorf("unsupported transport %q", cfg.Eventing.Transport))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	service, err := NewService(ServiceParams{
		Logger:        logg,
		Dependencies:  deps,
		Consumers:     consumers,
		MetricsServer: &http.Server{Addr: cfg.Metrics.Addr, Handler: mux},
	})
	requireResource(ctx, logg, "worker service", err)
	defer func() {
		if err := service.Close(); err != nil {
			logg.Error(ctx, "failed to close worker dependencies", err)
		}
	}()

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	logg.Info(runCtx, "inventory worker ready")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "inventory worker failed", err)
		stop()
		_ = service.Close()
		os.Exit(1)
	}
}

func limitOutstanding(sub *pubsubv2.Subscriber, n int) *pubsubv2.Subscriber {
	if sub != nil && n > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = n
	}
	return sub
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
