package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/jensholdgaard/draft-auction/internal/config"
	"github.com/jensholdgaard/draft-auction/internal/event"
)

// KafkaSink writes events to a topic keyed by scope, so one partition holds
// a scope's events in admission order.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaSink creates a synchronous producer for cfg.Brokers.
func NewKafkaSink(cfg config.KafkaConfig) (*KafkaSink, error) {
	kc := sarama.NewConfig()
	kc.Producer.RequiredAcks = sarama.WaitForAll
	kc.Producer.Retry.Max = 3
	kc.Producer.Return.Successes = true
	kc.Producer.Idempotent = true
	kc.Net.MaxOpenRequests = 1
	kc.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kc)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}
	return NewKafkaSinkFromProducer(producer, cfg.Topic), nil
}

// NewKafkaSinkFromProducer wraps an existing producer.
func NewKafkaSinkFromProducer(producer sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Name() string { return "kafka" }

// Send produces e and waits for the broker acknowledgement.
func (s *KafkaSink) Send(_ context.Context, e event.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(e.Scope),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(e.Type)},
			{Key: []byte("event-id"), Value: []byte(e.ID)},
		},
	}
	if _, _, err := s.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("producing to %s: %w", s.topic, err)
	}
	return nil
}

// Close flushes and closes the producer.
func (s *KafkaSink) Close() error {
	return s.producer.Close()
}
