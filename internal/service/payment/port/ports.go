// internal/service/payment/port/ports.go
package port

import "context"

// PayableOrder 是支付编排需要的订单快照。
type PayableOrder struct {
	OrderID     string
	UserID      string
	CouponCode  string
	FinalAmount float64
}

// OrderPort 是订单服务的出站端口。
type OrderPort interface {
	// GetPayable 加载待支付订单的快照，订单不在待支付状态时返回错误。
	GetPayable(ctx context.Context, orderID string) (*PayableOrder, error)
	MarkPaid(ctx context.Context, orderID string) error
	MarkCancelled(ctx context.Context, orderID, reason string) error
}

// BalancePort 是资金账户的出站端口。
type BalancePort interface {
	Deduct(ctx context.Context, userID string, amount float64) error
	Refund(ctx context.Context, userID string, amount float64) error
}

// InventoryPort 是库存服务的出站端口。
// ConfirmForOrder 返回实际扣减的 SKU 数量，补偿时原样传回；
// ConfirmedForOrder 供崩溃恢复重建该清单。
type InventoryPort interface {
	ConfirmForOrder(ctx context.Context, orderID string) (map[string]int, error)
	ConfirmedForOrder(ctx context.Context, orderID string) (map[string]int, error)
	RestoreForOrder(ctx context.Context, orderID string, confirmed map[string]int) error
}

// CouponPort 是优惠券核销的出站端口。
type CouponPort interface {
	MarkUsed(ctx context.Context, couponCode, orderID string, orderAmount float64) error
	MarkUnused(ctx context.Context, couponCode string) error
}

// NotificationPort 发送支付结果通知。
// 通知是尽力而为的：失败只记录，不影响编排结果。
type NotificationPort interface {
	PaymentSucceeded(ctx context.Context, orderID, userID string, amount float64) error
	PaymentFailed(ctx context.Context, orderID, userID, reason string) error
}

// AlertPort 上报需要人工介入的编排实例。
type AlertPort interface {
	SagaStuck(ctx context.Context, sagaID, orderID, step, reason string) error
}
