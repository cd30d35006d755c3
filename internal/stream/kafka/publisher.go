// Package kafka publishes stream messages with franz-go.
package kafka

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/platform/sentinel"
)

// Publisher produces keyed records synchronously so the caller sees the
// broker's acknowledgement or error.
type Publisher struct {
	client *kgo.Client
}

func New(client *kgo.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Name() string { return "kafka" }

func (p *Publisher) Available() bool { return p != nil && p.client != nil }

func (p *Publisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if !p.Available() {
		return sentinel.ErrNotConfigured
	}
	rec := &kgo.Record{Topic: topic, Key: []byte(key), Value: payload}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	return nil
}

func (p *Publisher) Ping(ctx context.Context) error {
	if !p.Available() {
		return sentinel.ErrNotConfigured
	}
	return p.client.Ping(ctx)
}

// Close flushes buffered records and closes the client.
func (p *Publisher) Close(ctx context.Context) {
	if !p.Available() {
		return
	}
	_ = p.client.Flush(ctx)
	p.client.Close()
}
