package usecase

import (
	"context"
	"encoding/json"

	"github.com/victorescoto/fiap-ml-finance/internal/domain/models"
	drepo "github.com/victorescoto/fiap-ml-finance/internal/domain/repository"
	pkgkafka "github.com/victorescoto/fiap-ml-finance/pkg/kafka"
)

// StoreEventsHandler consumes store events and drops stale serving caches.
type StoreEventsHandler struct {
	topic   string
	serving *Serving
	metrics drepo.Metrics
}

var _ pkgkafka.MessageHandler = (*StoreEventsHandler)(nil)

func NewStoreEventsHandler(topic string, serving *Serving, metrics drepo.Metrics) *StoreEventsHandler {
	return &StoreEventsHandler{topic: topic, serving: serving, metrics: metrics}
}

func (h *StoreEventsHandler) Topic() string { return h.topic }

func (h *StoreEventsHandler) Handle(ctx context.Context, b []byte) error {
	var e models.Event
	if err := json.Unmarshal(b, &e); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	if err := h.serving.Invalidate(ctx, e); err != nil {
		h.metrics.RecordError("cache_invalidate")
		return err
	}
	return nil
}
