package clients

import (
	"fmt"
	"log/slog"

	"github.com/confluentinc/confluent-kafka-go/kafka"

	"github.com/spacesedan/sentibatch/config"
)

// NewKafkaProducer creates an idempotent producer. Delivery reports are
// consumed through per-call delivery channels, so the Events channel is
// left unused.
func NewKafkaProducer(cfg config.Kafka) (*kafka.Producer, error) {
	slog.Info("[KafkaClient] Connecting to Kafka", slog.String("broker", cfg.Broker))

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":   cfg.Broker,
		"security.protocol":   "PLAINTEXT",
		"api.version.request": "true",
		"enable.idempotence":  true,
		"acks":                "all",
		"client.id":           "sentibatch",
	})
	if err != nil {
		return nil, fmt.Errorf("[KafkaClient] Failed to create producer: %w", err)
	}

	slog.Info("[KafkaClient] Kafka Producer initialized successfully")
	return p, nil
}

func CloseKafkaProducer(p *kafka.Producer, timeoutMs int) {
	if p == nil {
		return
	}
	slog.Info("[KafkaClient] Flushing Kafka producer before shutdown...")
	if remaining := p.Flush(timeoutMs); remaining > 0 {
		slog.Warn("[KafkaClient] Not all messages were delivered before shutdown",
			slog.Int("remaining", remaining))
	}
	p.Close()
	slog.Info("[KafkaClient] Kafka producer shut down")
}
