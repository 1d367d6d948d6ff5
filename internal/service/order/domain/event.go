// internal/service/order/domain/event.go
package domain

import "time"

// OrderPlaced 是订单创建成功、库存预占完成后发布的事件。
type OrderPlaced struct {
	OrderID      string    `json:"orderId"`
	UserID       string    `json:"userId"`
	TotalAmount  float64   `json:"totalAmount"`
	PlacedAt     time.Time `json:"placedAt"`
	PaymentDueBy time.Time `json:"paymentDueBy"`
}

// OrderPaid 是支付编排全部成功后发布的事件。
type OrderPaid struct {
	OrderID    string    `json:"orderId"`
	UserID     string    `json:"userId"`
	PaidAmount float64   `json:"paidAmount"`
	PaidAt     time.Time `json:"paidAt"`
}

// OrderCancelled 是订单被取消（用户主动、支付补偿或预占超时）后发布的事件。
type OrderCancelled struct {
	OrderID     string    `json:"orderId"`
	UserID      string    `json:"userId"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelledAt"`
}
