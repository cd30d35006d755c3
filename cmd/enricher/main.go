package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/enrich"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/platform/config"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/platform/kafka"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/platform/logger"
	streamkafka "github.com/venkatesh-gg/streamchain-audit-pipeline/internal/stream/kafka"
)

// main consumes the audit stream, produces enriched events and per-window
// aggregates, and commits offsets after each poll.
func main() {
	cfg := config.EnricherFromEnv()
	log := logger.New(cfg.Log)

	if len(cfg.Brokers) == 0 {
		log.Error("KAFKA_BOOTSTRAP_SERVERS is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	producer, err := kafka.NewClient(cfg.Brokers, "audit-enricher-producer")
	if err != nil {
		log.Error("failed to create producer", "error", err)
		os.Exit(1)
	}
	if err := kafka.EnsureTopics(ctx, producer, cfg.Partitions, cfg.ReplicationFactor,
		cfg.InputTopic, cfg.EnrichedTopic, cfg.AggregationTopic); err != nil {
		log.Warn("topic provisioning incomplete", "error", err)
	}
	out := streamkafka.New(producer)

	processor := enrich.NewProcessor(out, cfg.EnrichedTopic, cfg.AggregationTopic,
		enrich.WithWindow(cfg.Window),
		enrich.WithLogger(log),
	)
	router := kafka.NewRouter(log, nil)
	router.Register(cfg.InputTopic, processor)

	consumerClient, err := kafka.NewClient(cfg.Brokers, "audit-enricher",
		kafka.ConsumerOpts(cfg.Group, router.Topics()...)...)
	if err != nil {
		log.Error("failed to create consumer", "error", err)
		os.Exit(1)
	}
	consumer := kafka.NewConsumer(consumerClient, router, log)

	log.Info("starting enricher",
		"group", cfg.Group,
		"input_topic", cfg.InputTopic,
		"window", cfg.Window,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error { return processor.Run(gctx, time.Second) })
	if err := g.Wait(); err != nil {
		log.Error("enricher stopped with error", "error", err)
	}

	consumerClient.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out.Close(shutdownCtx)
	log.Info("enricher stopped")
}
