package eventbus

import (
	"context"
	"fmt"

	"gigworks-controlplane/pkg/config"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("eventbus",
	fx.Provide(
		NewKafkaPublisher,
		NewEmitter,
	),
)

// Publisher is the durable topic transport. A nil error means the broker has
// accepted the message (at-least-once from here on).
type Publisher interface {
	Publish(ctx context.Context, topic string, key string, value []byte) error
}

type KafkaPublisher struct {
	producer *kafka.Producer
}

func NewKafkaPublisher(lc fx.Lifecycle, cfg *config.Config) (Publisher, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Kafka.Addrs,
		"acks":              "all",
	})
	if err != nil {
		zap.L().Error("[Kafka] Failed to create producer", zap.Error(err))
		return nil, err
	}

	zap.L().Info("[Kafka] Producer configured", zap.String("addrs", cfg.Kafka.Addrs))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			producer.Flush(5000)
			producer.Close()
			return nil
		},
	})

	return &KafkaPublisher{producer: producer}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, key string, value []byte) error {
	delivery := make(chan kafka.Event, 1)

	err := p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          value,
	}, delivery)
	if err != nil {
		return fmt.Errorf("kafka produce: %w", err)
	}

	select {
	case ev := <-delivery:
		m, ok := ev.(*kafka.Message)
		if !ok {
			return fmt.Errorf("kafka delivery: unexpected event %T", ev)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("kafka delivery: %w", m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
