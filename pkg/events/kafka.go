package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the sink needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a synchronous writer that waits for all replicas.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// KafkaSink publishes events as JSON keyed by their first fingerprint, so
// every event about one order lands on the same partition.
type KafkaSink struct {
	writer MessageWriter
}

func NewKafkaSink(w MessageWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Handle(ctx context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   ev.Key(),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
		Time: time.Unix(ev.Timestamp, 0),
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
