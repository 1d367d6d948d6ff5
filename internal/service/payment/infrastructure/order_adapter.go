// internal/service/payment/infrastructure/order_adapter.go
package infrastructure

import (
	"context"
	"fmt"

	orderapp "bazaar/internal/service/order/application"
	orderdomain "bazaar/internal/service/order/domain"
	"bazaar/internal/service/payment/port"
)

// OrderAdapter 把订单应用服务适配成支付编排的 OrderPort。
// 单体部署下这是进程内调用，拆分后可以换成 RPC 适配器。
type OrderAdapter struct {
	orders *orderapp.OrderApplicationService
}

func NewOrderAdapter(orders *orderapp.OrderApplicationService) *OrderAdapter {
	return &OrderAdapter{orders: orders}
}

func (a *OrderAdapter) GetPayable(ctx context.Context, orderID string) (*port.PayableOrder, error) {
	orderEntity, err := a.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if orderEntity.State != orderdomain.StatePendingPayment {
		return nil, fmt.Errorf("order %s is %s, not payable: %w", orderID, orderEntity.State, orderdomain.ErrInvalidTransition)
	}
	return &port.PayableOrder{
		OrderID:     orderEntity.ID,
		UserID:      orderEntity.UserID,
		CouponCode:  orderEntity.CouponCode,
		FinalAmount: orderEntity.FinalAmount,
	}, nil
}

func (a *OrderAdapter) MarkPaid(ctx context.Context, orderID string) error {
	return a.orders.MarkPaid(ctx, orderID)
}

func (a *OrderAdapter) MarkCancelled(ctx context.Context, orderID, reason string) error {
	return a.orders.MarkCancelled(ctx, orderID, reason)
}
