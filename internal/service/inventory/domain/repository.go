// internal/service/inventory/domain/repository.go
package domain

import (
	"context"
	"time"
)

// InventoryRepository 是库存行的仓储端口。
// UpdateWithLock 是五个库存操作共用的读-改-写原语：
// 实现必须在同一个事务里对目标行加排他锁 (SELECT ... FOR UPDATE)，
// 调用 mutate，成功则写回并提交，mutate 返回错误则整体回滚。
type InventoryRepository interface {
	Get(ctx context.Context, sku string) (*Inventory, error)
	Create(ctx context.Context, inv *Inventory) error
	UpdateWithLock(ctx context.Context, sku string, mutate func(inv *Inventory) error) (*Inventory, error)
}

// ReservationRepository 是预占记录的仓储端口。
type ReservationRepository interface {
	Create(ctx context.Context, r *Reservation) error
	Get(ctx context.Context, orderID, sku string) (*Reservation, error)
	FindByOrderStatus(ctx context.Context, orderID string, status ReservationStatus) ([]*Reservation, error)
	// FindExpiredActive 返回 expiresAt 已过且仍为 ACTIVE 的预占，供清扫任务使用。
	FindExpiredActive(ctx context.Context, now time.Time, limit int) ([]*Reservation, error)
	// TransitionStatus 以 CAS 方式把状态从 from 改为 to。
	// 返回 false 表示记录已不在 from 状态（被并发方抢先处理），调用方应跳过。
	TransitionStatus(ctx context.Context, orderID, sku string, from, to ReservationStatus) (bool, error)
}
