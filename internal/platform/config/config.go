package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	platformstrings "github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/platform/strings"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
	JWTSigningKey   string
	// CORSOrigins lists allowed browser origins; empty allows any.
	CORSOrigins []string
	Log         Log
	Database    Database
	Kafka       Kafka
	Search      Search
	Archive     Archive
	Redis       RedisConfig
	Pipeline    Pipeline
	Broadcast   Broadcast
}

// Log selects the slog handler.
type Log struct {
	Level  string
	Format string
}

// Database configures the record store.
type Database struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Kafka configures the stream bus.
type Kafka struct {
	Brokers           []string
	Topic             string
	ClientID          string
	Partitions        int32
	ReplicationFactor int16
}

// Search configures the search index.
type Search struct {
	URL   string
	Index string
}

// Archive configures the content-addressable archive.
type Archive struct {
	URL     string
	Timeout time.Duration
}

// RedisConfig configures the optional cross-instance broadcast relay.
type RedisConfig struct {
	URL          string
	Channel      string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Pipeline bounds the best-effort steps.
type Pipeline struct {
	ArchiveTimeout   time.Duration
	PersistTimeout   time.Duration
	FanoutTimeout    time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Broadcast configures live subscriber delivery.
type Broadcast struct {
	SendTimeout       time.Duration
	KeepAliveInterval time.Duration
}

// Enricher configures the stream enrichment job.
type Enricher struct {
	Log               Log
	Brokers           []string
	Group             string
	InputTopic        string
	EnrichedTopic     string
	AggregationTopic  string
	Window            time.Duration
	Partitions        int32
	ReplicationFactor int16
}

// FromEnv builds a Server config from environment variables so main stays lean.
// Empty adapter URLs leave that adapter unconfigured.
func FromEnv() Server {
	return Server{
		Addr:            envString("AUDIT_ADDR", ":8000"),
		ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		JWTSigningKey:   os.Getenv("JWT_SIGNING_KEY"),
		CORSOrigins:     envList("CORS_ALLOW_ORIGINS"),
		Log:             logFromEnv(),
		Database: Database{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Kafka: Kafka{
			Brokers:           envList("KAFKA_BOOTSTRAP_SERVERS"),
			Topic:             envString("KAFKA_TOPIC", "audit-events"),
			ClientID:          envString("KAFKA_CLIENT_ID", "audit-pipeline"),
			Partitions:        int32(envInt("KAFKA_TOPIC_PARTITIONS", 3)),
			ReplicationFactor: int16(envInt("KAFKA_REPLICATION_FACTOR", 1)),
		},
		Search: Search{
			URL:   os.Getenv("ELASTICSEARCH_URL"),
			Index: envString("ELASTICSEARCH_INDEX", "audit_records"),
		},
		Archive: Archive{
			URL:     os.Getenv("IPFS_API_URL"),
			Timeout: envDuration("IPFS_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			Channel:      envString("REDIS_BROADCAST_CHANNEL", "audit:broadcast"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Pipeline: Pipeline{
			ArchiveTimeout:   envDuration("ARCHIVE_TIMEOUT", 5*time.Second),
			PersistTimeout:   envDuration("PERSIST_TIMEOUT", 5*time.Second),
			FanoutTimeout:    envDuration("FANOUT_TIMEOUT", 5*time.Second),
			BreakerThreshold: envInt("SINK_BREAKER_THRESHOLD", 5),
			BreakerCooldown:  envDuration("SINK_BREAKER_COOLDOWN", 30*time.Second),
		},
		Broadcast: Broadcast{
			SendTimeout:       envDuration("BROADCAST_SEND_TIMEOUT", 5*time.Second),
			KeepAliveInterval: envDuration("BROADCAST_KEEPALIVE", 30*time.Second),
		},
	}
}

// EnricherFromEnv builds the enrichment job config.
func EnricherFromEnv() Enricher {
	return Enricher{
		Log:               logFromEnv(),
		Brokers:           envList("KAFKA_BOOTSTRAP_SERVERS"),
		Group:             envString("ENRICHER_GROUP", "audit-enrichment-group"),
		InputTopic:        envString("KAFKA_TOPIC", "audit-events"),
		EnrichedTopic:     envString("ENRICHED_TOPIC", "enriched-events"),
		AggregationTopic:  envString("AGGREGATION_TOPIC", "event-aggregations"),
		Window:            envDuration("AGGREGATION_WINDOW", time.Minute),
		Partitions:        int32(envInt("KAFKA_TOPIC_PARTITIONS", 3)),
		ReplicationFactor: int16(envInt("KAFKA_REPLICATION_FACTOR", 1)),
	}
}

func logFromEnv() Log {
	return Log{
		Level:  envString("LOG_LEVEL", "info"),
		Format: envString("LOG_FORMAT", "json"),
	}
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envList(key string) []string {
	return platformstrings.SplitList(os.Getenv(key), ",")
}
