// outbox-relayd relays events from a durable outbox to a configured sink.
package main

import (
	"context"
	"database/sql"
	"log"
	"os/signal"
	"syscall"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/relaykit/outbox"
	"github.com/relaykit/outbox/filestore"
	"github.com/relaykit/outbox/sqlstore"
)

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "outbox-relayd.yaml", "path to config file")
	pflag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("create logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := LoadConfig(configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("initialize store", zap.Error(err))
	}
	defer cleanup()

	sink, err := buildSink(cfg, logger)
	if err != nil {
		logger.Fatal("initialize sink", zap.Error(err))
	}
	defer sink.Close()

	engine := outbox.NewEngine(store, sink,
		outbox.WithLogger(logger),
		outbox.WithMetrics(outbox.NewOTelMetrics()),
		outbox.WithConcurrency(cfg.Relay.Concurrency),
		outbox.WithDeliverTimeout(cfg.Relay.deliverTimeout()),
		outbox.WithRetryPolicy(outbox.RetryPolicy{
			BaseDelay:   cfg.Relay.baseDelay(),
			MaxDelay:    cfg.Relay.maxDelay(),
			MaxAttempts: cfg.Relay.MaxAttempts,
		}),
	)

	workers := []outbox.Worker{
		outbox.NewPollWorker("relay", cfg.Relay.pollInterval(), logger, engine.ProcessPending),
	}
	if cfg.Cleanup.Enabled {
		workers = append(workers,
			outbox.NewPollWorker("cleanup", cfg.Cleanup.interval(), logger, func(ctx context.Context) error {
				removed, err := store.PurgeProcessed(ctx, cfg.Cleanup.retention())
				if err != nil {
					return err
				}
				if removed > 0 {
					logger.Info("purged processed events", zap.Int64("count", removed))
				}
				return nil
			}))
	}

	dispatcher := outbox.NewDispatcher(logger, workers...)

	logger.Info("outbox-relayd starting",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("sink", cfg.Sink.Kind))

	// Blocks until a termination signal arrives, then waits for in-flight
	// deliveries before returning.
	if err := dispatcher.Run(ctx); err != nil {
		logger.Fatal("run dispatcher", zap.Error(err))
	}

	logger.Info("outbox-relayd stopped")
}

func buildStore(ctx context.Context, cfg *Config, logger *zap.Logger) (outbox.Store, func(), error) {
	switch cfg.Storage.Backend {
	case "mysql":
		db, err := sql.Open("mysql", cfg.Storage.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		store := sqlstore.New(db, logger)
		if err := store.EnsureTable(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, func() { db.Close() }, nil
	default:
		store, err := filestore.New(cfg.Storage.Path, filestore.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}

func buildSink(cfg *Config, logger *zap.Logger) (outbox.Sink, error) {
	switch cfg.Sink.Kind {
	case "kafka":
		opts := []outbox.KafkaSinkOption{
			outbox.WithKafkaProducerProps(kafka.ConfigMap{"bootstrap.servers": cfg.Sink.Brokers}),
		}
		if cfg.Sink.Topic != "" {
			opts = append(opts, outbox.WithKafkaTopic(cfg.Sink.Topic))
		}
		return outbox.NewKafkaSink(logger, opts...)
	case "nats":
		opts := []outbox.NATSSinkOption{}
		if cfg.Sink.Subject != "" {
			opts = append(opts, outbox.WithNATSSubject(cfg.Sink.Subject))
		}
		return outbox.NewNATSSink(cfg.Sink.NATSURL, logger, opts...)
	case "amqp":
		opts := []outbox.AMQPSinkOption{outbox.WithAMQPExchange(cfg.Sink.Exchange)}
		if cfg.Sink.RoutingKey != "" {
			opts = append(opts, outbox.WithAMQPRoutingKey(cfg.Sink.RoutingKey))
		}
		return outbox.NewAMQPSink(cfg.Sink.AMQPURL, logger, opts...)
	default:
		return outbox.NewNopSink(), nil
	}
}
