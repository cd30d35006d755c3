// Package memory records published stream messages in process.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/platform/sentinel"
)

// Message is one published record.
type Message struct {
	Topic   string
	Key     string
	Payload []byte
}

// Publisher appends every message to an in-memory log.
type Publisher struct {
	mu        sync.RWMutex
	messages  []Message
	available bool
	failWith  error
}

func New() *Publisher {
	return &Publisher{available: true}
}

func (p *Publisher) Name() string { return "kafka" }

func (p *Publisher) Available() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.available
}

func (p *Publisher) SetAvailable(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.available = v
}

// FailWith makes subsequent Publish calls fail; nil restores normal behavior.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWith = err
}

func (p *Publisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return fmt.Errorf("produce to %s: %w", topic, p.failWith)
	}
	p.messages = append(p.messages, Message{
		Topic:   topic,
		Key:     key,
		Payload: append([]byte(nil), payload...),
	})
	return nil
}

func (p *Publisher) Ping(_ context.Context) error {
	if !p.Available() {
		return sentinel.ErrUnavailable
	}
	return nil
}

// Messages returns everything published to topic, oldest first. An empty
// topic returns all messages.
func (p *Publisher) Messages(topic string) []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Message
	for _, m := range p.messages {
		if topic == "" || m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
