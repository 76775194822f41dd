package repository

import (
	"context"

	"github.com/victorescoto/fiap-ml-finance/internal/domain/models"
	domrepo "github.com/victorescoto/fiap-ml-finance/internal/domain/repository"
	pkgkafka "github.com/victorescoto/fiap-ml-finance/pkg/kafka"
)

// KafkaEventPublisher implements EventPublisher on a Kafka topic, keyed by symbol so
// events of one series stay ordered.
type KafkaEventPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

var _ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)

func NewKafkaEventPublisher(producer *pkgkafka.Producer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, e models.Event) error {
	return p.producer.Publish(ctx, p.topic, e)
}

// PublishBatch sends several events in one write.
func (p *KafkaEventPublisher) PublishBatch(ctx context.Context, events []models.Event) error {
	return p.producer.Publish(ctx, p.topic, pkgkafka.Records(events)...)
}

func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NopEventPublisher drops events. Used when no broker is configured.
type NopEventPublisher struct{}

func (NopEventPublisher) Publish(context.Context, models.Event) error        { return nil }
func (NopEventPublisher) PublishBatch(context.Context, []models.Event) error { return nil }
func (NopEventPublisher) Close() error                                       { return nil }
