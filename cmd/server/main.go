package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/archive/ipfs"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/broadcast"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/health"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/ingest"
	jwttoken "github.com/venkatesh-gg/streamchain-audit-pipeline/internal/jwt_token"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/platform/config"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/platform/httpserver"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/platform/kafka"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/platform/logger"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/platform/metrics"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/platform/middleware"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/platform/postgres"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/platform/redis"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/ports"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/query"
	"github.com/venkatesh-gg/streamchain-audit-pipeline/internal/search/elastic"
	streamkafka "github.com/venkatesh-gg/streamchain-audit-pipeline/internal/stream/kafka"
	httptransport "github.com/venkatesh-gg/streamchain-audit-pipeline/internal/transport/http"
	pgstore "github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/platform/audit/store/postgres"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Adapters that fail to initialize are wired as
// absent; the service starts degraded rather than not at all.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		log.Error("record store unavailable", "error", err)
	}
	store := pgstore.New(db)
	if store.Available() {
		if err := store.EnsureSchema(ctx); err != nil {
			log.Error("failed to ensure schema", "error", err)
		}
	}

	kc, err := kafka.NewClient(cfg.Kafka.Brokers, cfg.Kafka.ClientID)
	if err != nil {
		log.Error("stream bus unavailable", "error", err)
	}
	if err := kafka.EnsureTopics(ctx, kc, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor, cfg.Kafka.Topic); err != nil {
		log.Warn("topic provisioning incomplete", "error", err)
	}
	stream := streamkafka.New(kc)

	index, err := elastic.New(cfg.Search.URL, cfg.Search.Index)
	if err != nil {
		log.Error("search index unavailable", "error", err)
	}
	if index.Available() {
		if err := index.EnsureIndex(ctx); err != nil {
			log.Warn("failed to ensure search index", "error", err)
		}
	}

	archive := ipfs.New(cfg.Archive.URL, cfg.Archive.Timeout)

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		log.Warn("broadcast relay disabled", "error", err)
	}

	registry := broadcast.NewRegistry(
		broadcast.WithSendTimeout(cfg.Broadcast.SendTimeout),
		broadcast.WithLogger(log),
		broadcast.WithMetrics(m),
	)

	var relay *broadcast.Relay
	if rdb.Available() {
		relay = broadcast.NewRelay(rdb.Client, cfg.Redis.Channel, registry, log)
		go func() {
			if err := relay.Run(ctx); err != nil {
				log.Error("broadcast relay stopped", "error", err)
			}
		}()
	}

	pipeline := ingest.New(store,
		ingest.WithArchive(archive),
		ingest.WithStream(stream),
		ingest.WithIndex(index),
		ingest.WithBroadcaster(registry),
		ingest.WithRelay(relay),
		ingest.WithTopic(cfg.Kafka.Topic),
		ingest.WithArchiveTimeout(cfg.Pipeline.ArchiveTimeout),
		ingest.WithPersistTimeout(cfg.Pipeline.PersistTimeout),
		ingest.WithFanoutTimeout(cfg.Pipeline.FanoutTimeout),
		ingest.WithBreakerPolicy(cfg.Pipeline.BreakerThreshold, cfg.Pipeline.BreakerCooldown),
		ingest.WithLogger(log),
		ingest.WithMetrics(m),
		ingest.WithTracer(otel.Tracer("streamchain-audit-pipeline")),
	)

	adapters := []ports.Capability{store, stream, index, archive}
	if cfg.Redis.URL != "" {
		adapters = append(adapters, rdb)
	}
	checker := health.NewChecker(adapters,
		health.WithBreakers(pipeline.BreakerStates),
		health.WithLogger(log),
	)

	handler := httptransport.New(
		pipeline,
		query.NewService(store, index, log),
		checker,
		archive,
		httptransport.NewLiveHandler(registry, cfg.Broadcast.KeepAliveInterval, log),
		log,
	)

	var validator middleware.JWTValidator
	if cfg.JWTSigningKey != "" {
		validator = jwttoken.NewJWTService(cfg.JWTSigningKey, httptransport.ServiceName)
	}
	router := httptransport.NewRouter(handler, httptransport.RouterConfig{
		Logger:      log,
		Validator:   validator,
		Metrics:     promhttp.Handler(),
		CORSOrigins: cfg.CORSOrigins,
	})

	srv := httpserver.New(cfg.Addr, router)
	go func() {
		log.Info("starting audit pipeline", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	gracefulShutdown(log, cfg.ShutdownTimeout, srv, pipeline, registry, stream, rdb, db)
}

func gracefulShutdown(
	log *slog.Logger,
	timeout time.Duration,
	srv *http.Server,
	pipeline *ingest.Pipeline,
	registry *broadcast.Registry,
	stream *streamkafka.Publisher,
	rdb *redis.Client,
	db *sql.DB,
) {
	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
	if err := pipeline.Drain(ctx); err != nil {
		log.Warn("fan-out did not drain before timeout", "error", err)
	}
	registry.Close()
	stream.Close(ctx)
	if rdb.Available() {
		_ = rdb.Close()
	}
	if db != nil {
		_ = db.Close()
	}
	log.Info("shutdown complete")
}
