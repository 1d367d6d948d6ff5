// internal/service/order/infrastructure/models.go
package infrastructure

import (
	"time"

	"bazaar/internal/service/order/domain"
)

// OrderModel 对应数据库中的 orders 表
type OrderModel struct {
	ID          string       `gorm:"primaryKey;size:64"`
	UserID      string       `gorm:"index;size:64"`
	CouponCode  string       `gorm:"size:64"`
	TotalAmount float64      `gorm:"type:decimal(12,2)"`
	FinalAmount float64      `gorm:"type:decimal(12,2)"`
	State       domain.State `gorm:"index;size:32"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Items []OrderItemModel `gorm:"foreignKey:OrderID;references:ID"`
}

// TableName 指定 GORM 应该使用的表名
func (OrderModel) TableName() string {
	return "orders"
}

// OrderItemModel 对应数据库中的 order_item 表
type OrderItemModel struct {
	ID       int64  `gorm:"primaryKey;autoIncrement"`
	OrderID  string `gorm:"index;size:64"`
	SKU      string `gorm:"size:64"`
	Quantity int
	Price    float64 `gorm:"type:decimal(12,2)"`
}

// TableName 指定 GORM 应该使用的表名
func (OrderItemModel) TableName() string {
	return "order_item"
}

func toModel(o *domain.Order) *OrderModel {
	m := &OrderModel{
		ID:          o.ID,
		UserID:      o.UserID,
		CouponCode:  o.CouponCode,
		TotalAmount: o.TotalAmount,
		FinalAmount: o.FinalAmount,
		State:       o.State,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
	for _, item := range o.Items {
		m.Items = append(m.Items, OrderItemModel{
			OrderID:  o.ID,
			SKU:      item.SKU,
			Quantity: item.Quantity,
			Price:    item.Price,
		})
	}
	return m
}

func (m *OrderModel) toDomain() *domain.Order {
	o := &domain.Order{
		ID:          m.ID,
		UserID:      m.UserID,
		CouponCode:  m.CouponCode,
		TotalAmount: m.TotalAmount,
		FinalAmount: m.FinalAmount,
		State:       m.State,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	for _, item := range m.Items {
		o.Items = append(o.Items, domain.OrderItem{
			SKU:      item.SKU,
			Quantity: item.Quantity,
			Price:    item.Price,
		})
	}
	return o
}
