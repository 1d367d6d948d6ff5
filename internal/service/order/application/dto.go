// internal/service/order/application/dto.go
package application

// OrderItemInput 是创建订单时的一个商品行。
type OrderItemInput struct {
	SKU      string  `json:"sku"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// CreateOrderCommand 是创建订单用例的输入数据
type CreateOrderCommand struct {
	OrderID    string           `json:"orderId,omitempty"`
	UserID     string           `json:"userId"`
	Items      []OrderItemInput `json:"items"`
	CouponCode string           `json:"couponCode,omitempty"`
}
