package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Relay forwards broadcast payloads between instances over a Redis channel so
// subscribers connected to any instance see every record. Each instance tags
// what it publishes with its origin id and ignores its own messages.
type Relay struct {
	client   *redis.Client
	channel  string
	origin   string
	registry *Registry
	logger   *slog.Logger
}

type relayEnvelope struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

// NewRelay builds a relay delivering remote payloads to registry.
func NewRelay(client *redis.Client, channel string, registry *Registry, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		client:   client,
		channel:  channel,
		origin:   uuid.NewString(),
		registry: registry,
		logger:   logger,
	}
}

func (r *Relay) Name() string { return "relay" }

func (r *Relay) Available() bool { return r != nil && r.client != nil }

// Origin returns this instance's origin id.
func (r *Relay) Origin() string { return r.origin }

// Publish sends payload to the other instances.
func (r *Relay) Publish(ctx context.Context, payload []byte) error {
	data, err := json.Marshal(relayEnvelope{Origin: r.origin, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal relay envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish relay envelope: %w", err)
	}
	return nil
}

// Run subscribes to the channel and re-broadcasts remote payloads locally
// until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe relay channel: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver(ctx, msg.Payload)
		}
	}
}

func (r *Relay) deliver(ctx context.Context, raw string) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		r.logger.WarnContext(ctx, "discarding malformed relay message", "error", err)
		return
	}
	if env.Origin == r.origin {
		return
	}
	res := r.registry.Broadcast(ctx, env.Payload)
	r.logger.DebugContext(ctx, "relayed broadcast delivered",
		"origin", env.Origin,
		"delivered", res.Delivered,
		"dropped", res.Dropped,
	)
}
