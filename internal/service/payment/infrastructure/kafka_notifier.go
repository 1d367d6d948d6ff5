// internal/service/payment/infrastructure/kafka_notifier.go
package infrastructure

import (
	"context"
	"encoding/json"
	"time"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/pkg/mq"

	"github.com/segmentio/kafka-go"
)

// paymentNotification 是支付结果通知的消息体。
type paymentNotification struct {
	OrderID string  `json:"orderId"`
	UserID  string  `json:"userId"`
	Result  string  `json:"result"`
	Amount  float64 `json:"amount,omitempty"`
	Reason  string  `json:"reason,omitempty"`
	At      string  `json:"at"`
}

// KafkaNotifier 把支付结果发到通知主题，实现 port.NotificationPort。
type KafkaNotifier struct {
	writer *kafka.Writer
}

func NewKafkaNotifier(writer *kafka.Writer) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

func (n *KafkaNotifier) PaymentSucceeded(ctx context.Context, orderID, userID string, amount float64) error {
	return n.send(ctx, paymentNotification{
		OrderID: orderID,
		UserID:  userID,
		Result:  "succeeded",
		Amount:  amount,
		At:      time.Now().Format(time.RFC3339),
	})
}

func (n *KafkaNotifier) PaymentFailed(ctx context.Context, orderID, userID, reason string) error {
	return n.send(ctx, paymentNotification{
		OrderID: orderID,
		UserID:  userID,
		Result:  "failed",
		Reason:  reason,
		At:      time.Now().Format(time.RFC3339),
	})
}

func (n *KafkaNotifier) send(ctx context.Context, msg paymentNotification) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return mq.ProduceMessage(ctx, n.writer, []byte(msg.OrderID), payload)
}

// sagaAlert 是需要人工介入的编排告警消息体。
type sagaAlert struct {
	SagaID  string `json:"sagaId"`
	OrderID string `json:"orderId"`
	Step    string `json:"step"`
	Reason  string `json:"reason"`
	At      string `json:"at"`
}

// KafkaAlertProducer 把 STUCK 告警发到告警主题，实现 port.AlertPort。
// 运维网关订阅该主题并推送给值班人员。
type KafkaAlertProducer struct {
	writer *kafka.Writer
}

func NewKafkaAlertProducer(writer *kafka.Writer) *KafkaAlertProducer {
	return &KafkaAlertProducer{writer: writer}
}

func (p *KafkaAlertProducer) SagaStuck(ctx context.Context, sagaID, orderID, step, reason string) error {
	payload, err := json.Marshal(sagaAlert{
		SagaID:  sagaID,
		OrderID: orderID,
		Step:    step,
		Reason:  reason,
		At:      time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	logger.Ctx(ctx).Error().
		Str("saga_id", sagaID).
		Str("order_id", orderID).
		Str("step", step).
		Msg("Saga stuck, alert raised")
	return mq.ProduceMessage(ctx, p.writer, []byte(sagaID), payload)
}
