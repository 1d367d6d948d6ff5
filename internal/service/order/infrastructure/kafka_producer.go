// internal/service/order/infrastructure/kafka_producer.go
package infrastructure

import (
	"context"
	"encoding/json"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/pkg/mq"
	"bazaar/internal/service/order/domain"

	"github.com/segmentio/kafka-go"
)

// OrderEventProducer 把订单领域事件发布到 Kafka，实现 port.EventPublisher。
// 分区键用 OrderID，同一订单的事件保持有序。
type OrderEventProducer struct {
	writer *kafka.Writer
}

func NewOrderEventProducer(writer *kafka.Writer) *OrderEventProducer {
	return &OrderEventProducer{writer: writer}
}

func (p *OrderEventProducer) PublishOrderPlaced(ctx context.Context, event *domain.OrderPlaced) error {
	return p.publish(ctx, event.OrderID, "order.placed", event)
}

func (p *OrderEventProducer) PublishOrderPaid(ctx context.Context, event *domain.OrderPaid) error {
	return p.publish(ctx, event.OrderID, "order.paid", event)
}

func (p *OrderEventProducer) PublishOrderCancelled(ctx context.Context, event *domain.OrderCancelled) error {
	return p.publish(ctx, event.OrderID, "order.cancelled", event)
}

type eventEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (p *OrderEventProducer) publish(ctx context.Context, key, eventType string, payload interface{}) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("event_type", eventType).Msg("Failed to marshal order event")
		return err
	}
	envelope, err := json.Marshal(eventEnvelope{Type: eventType, Payload: payloadBytes})
	if err != nil {
		return err
	}

	if err := mq.ProduceMessage(ctx, p.writer, []byte(key), envelope); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("event_type", eventType).Msg("Failed to produce order event")
		return err
	}
	return nil
}
