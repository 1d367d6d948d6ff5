// internal/service/order/domain/order.go
package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrEmptyOrder        = errors.New("cannot create order with empty required fields")
	ErrInvalidTransition = errors.New("invalid order state transition")
)

// OrderItem 是订单中的一个商品行。
type OrderItem struct {
	SKU      string
	Quantity int
	Price    float64
}

// Order 是订单聚合的根实体
type Order struct {
	ID          string
	UserID      string
	Items       []OrderItem
	CouponCode  string
	TotalAmount float64
	FinalAmount float64
	State       State
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// 工厂函数: NewOrder 用于创建一个新的订单实例
func NewOrder(id, userID string, items []OrderItem, couponCode string) (*Order, error) {
	if id == "" || userID == "" || len(items) == 0 {
		return nil, ErrEmptyOrder
	}
	for _, item := range items {
		if item.SKU == "" || item.Quantity <= 0 {
			return nil, fmt.Errorf("invalid order item %q: %w", item.SKU, ErrEmptyOrder)
		}
	}

	var total float64
	for _, item := range items {
		total += item.Price * float64(item.Quantity)
	}

	now := time.Now()
	return &Order{
		ID:          id,
		UserID:      userID,
		Items:       items,
		CouponCode:  couponCode,
		TotalAmount: total,
		FinalAmount: total,
		State:       StateCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ApplyDiscount 设置优惠后的应付金额。
func (o *Order) ApplyDiscount(discount float64) {
	final := o.TotalAmount - discount
	if final < 0 {
		final = 0
	}
	o.FinalAmount = final
	o.UpdatedAt = time.Now()
}

func (o *Order) transitionTo(target State) error {
	if !o.State.CanTransitionTo(target) {
		return fmt.Errorf("order %s: %s -> %s: %w", o.ID, o.State, target, ErrInvalidTransition)
	}
	o.State = target
	o.UpdatedAt = time.Now()
	return nil
}

// MarkAsPendingPayment 将订单状态更新为等待支付
// 这个方法只负责状态流转，不负责调用外部服务
func (o *Order) MarkAsPendingPayment() error {
	return o.transitionTo(StatePendingPayment)
}

// MarkAsPaid 在支付编排全部成功后把订单置为已支付。
func (o *Order) MarkAsPaid() error {
	return o.transitionTo(StatePaid)
}

// Cancel 取消订单：用户主动取消、支付失败补偿或预占超时都走这里。
func (o *Order) Cancel() error {
	return o.transitionTo(StateCancelled)
}

// MarkAsFailed 将订单标记为失败
func (o *Order) MarkAsFailed() error {
	return o.transitionTo(StateFailed)
}
