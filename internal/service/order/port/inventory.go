// internal/service/order/port/inventory.go
package port

import (
	"context"
)

// InventoryService 是库存服务的出站端口。
type InventoryService interface {
	// ReserveForOrder 为给定的订单预占全部商品行，任一失败则整体回滚。
	ReserveForOrder(ctx context.Context, orderID string, items map[string]int) error

	// ReleaseForOrder 是 ReserveForOrder 的补偿操作，释放该订单的全部预占。
	ReleaseForOrder(ctx context.Context, orderID string) error
}
