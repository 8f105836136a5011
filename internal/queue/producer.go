// Package queue hands jobs to out-of-process workers: push notification
// delivery and link preview fetching.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// Producer publishes a JSON payload to a topic. Keys pick the partition, so
// jobs for one user (or message) stay ordered.
type Producer interface {
	Publish(ctx context.Context, topic, key string, payload any) error
	Close() error
}

type KafkaProducer struct {
	producer sarama.SyncProducer
	logger   *zap.Logger
}

func newSaramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_8_0_0
	cfg.ClientID = "chorus"
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 2
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Net.DialTimeout = 5 * time.Second
	cfg.Net.WriteTimeout = 5 * time.Second
	return cfg
}

func NewKafkaProducer(brokers []string, logger *zap.Logger) (*KafkaProducer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers is empty")
	}
	cfg := newSaramaConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sarama config: %w", err)
	}
	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaProducerFrom(p, logger), nil
}

// NewKafkaProducerFrom wraps an existing producer (sarama mocks in tests).
func NewKafkaProducerFrom(p sarama.SyncProducer, logger *zap.Logger) *KafkaProducer {
	return &KafkaProducer{producer: p, logger: logger.Named("kafka")}
}

func (k *KafkaProducer) Publish(ctx context.Context, topic, key string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	partition, offset, err := k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(body),
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	k.logger.Debug("job published",
		zap.String("topic", topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

func (k *KafkaProducer) Close() error {
	return k.producer.Close()
}

// LogProducer is used when no broker is configured. Jobs are logged and
// dropped.
type LogProducer struct {
	logger *zap.Logger
}

func NewLogProducer(logger *zap.Logger) *LogProducer {
	return &LogProducer{logger: logger.Named("queue")}
}

func (l *LogProducer) Publish(_ context.Context, topic, key string, _ any) error {
	l.logger.Debug("job dropped, no broker configured",
		zap.String("topic", topic),
		zap.String("key", key),
	)
	return nil
}

func (l *LogProducer) Close() error { return nil }
