// Package bus carries ledger entries, run reports, and inbound signals over
// Kafka. Publishing is best-effort; the SQLite store stays the source of
// truth.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/callcatcherops/autonomy/internal/config"
)

// Publisher sends keyed messages to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
	Close() error
}

// KafkaPublisher writes synchronously with leader acks.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher returns a publisher for the configured brokers. The topic
// is chosen per message.
func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
		Time:  time.Now(),
	})
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

// Message is one consumed record.
type Message struct {
	Topic string
	Key   []byte
	Value []byte
	Time  time.Time
}

// Drain reads a topic with a consumer group until no message arrives for
// idle, or ctx ends. Offsets are committed as messages are read.
func Drain(ctx context.Context, cfg config.KafkaConfig, topic string, idle time.Duration, handle func(Message) error) (int, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	defer reader.Close()

	n := 0
	for {
		readCtx, cancel := context.WithTimeout(ctx, idle)
		msg, err := reader.ReadMessage(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return n, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return n, nil
			}
			return n, err
		}
		n++
		if err := handle(Message{Topic: msg.Topic, Key: msg.Key, Value: msg.Value, Time: msg.Time}); err != nil {
			slog.Warn("bus: handler failed", "topic", topic, "offset", msg.Offset, "error", err)
		}
	}
}

// MemoryBus is an in-process Publisher used in tests and when Kafka is off
// but a caller still wants to observe published messages.
type MemoryBus struct {
	mu       sync.Mutex
	messages []Message
	closed   bool
}

// NewMemoryBus returns an empty bus.
func NewMemoryBus() *MemoryBus { return &MemoryBus{} }

func (b *MemoryBus) Publish(_ context.Context, topic string, key, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("bus closed")
	}
	b.messages = append(b.messages, Message{Topic: topic, Key: key, Value: value, Time: time.Now()})
	return nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

// Messages returns a copy of everything published to topic.
func (b *MemoryBus) Messages(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Message
	for _, m := range b.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
