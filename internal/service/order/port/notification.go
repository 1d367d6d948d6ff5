// internal/service/order/port/notification.go
package port

import (
	"context"

	"bazaar/internal/service/order/domain"
)

// EventPublisher 是订单领域事件的出站端口。
// 事件发布失败不阻断主流程，由实现方记录并告警。
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *domain.OrderPlaced) error
	PublishOrderPaid(ctx context.Context, event *domain.OrderPaid) error
	PublishOrderCancelled(ctx context.Context, event *domain.OrderCancelled) error
}
