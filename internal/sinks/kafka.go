package sinks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/kafka"

	"github.com/spacesedan/sentibatch/config"
	"github.com/spacesedan/sentibatch/internal/clients"
	"github.com/spacesedan/sentibatch/internal/models"
)

// KafkaSink publishes one message per verdict and waits for every delivery
// report before returning.
type KafkaSink struct {
	producer     *kafka.Producer
	topic        string
	flushTimeout int
}

func NewKafkaSink(cfg config.Kafka) (*KafkaSink, error) {
	p, err := clients.NewKafkaProducer(cfg)
	if err != nil {
		return nil, err
	}
	return &KafkaSink{
		producer:     p,
		topic:        cfg.Topic,
		flushTimeout: int(cfg.FlushTimeout.Milliseconds()),
	}, nil
}

func (s *KafkaSink) Name() string {
	return config.SinkKafka
}

func (s *KafkaSink) Export(ctx context.Context, entries []models.VerdictEntry) error {
	if len(entries) == 0 {
		return nil
	}

	deliveries := make(chan kafka.Event, len(entries))
	sent := 0
	for _, e := range entries {
		msg, err := newVerdictMessage(s.topic, e)
		if err != nil {
			return err
		}
		if err := s.producer.Produce(msg, deliveries); err != nil {
			return fmt.Errorf("[KafkaSink] produce: %w", err)
		}
		sent++
	}

	for i := 0; i < sent; i++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("[KafkaSink] waiting for deliveries: %w", ctx.Err())
		case ev := <-deliveries:
			m, ok := ev.(*kafka.Message)
			if !ok {
				continue
			}
			if m.TopicPartition.Error != nil {
				return fmt.Errorf("[KafkaSink] delivery failed: %w", m.TopicPartition.Error)
			}
		}
	}
	return nil
}

func (s *KafkaSink) Close() error {
	clients.CloseKafkaProducer(s.producer, s.flushTimeout)
	return nil
}

func newVerdictMessage(topic string, e models.VerdictEntry) (*kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("[KafkaSink] marshal verdict: %w", err)
	}

	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(e.HeadlineID),
		Value:          value,
		Headers: []kafka.Header{
			{Key: "run_id", Value: []byte(e.RunID)},
			{Key: "classifier", Value: []byte(e.Classifier)},
		},
	}, nil
}
