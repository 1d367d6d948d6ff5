// internal/service/order/domain/repository.go
package domain

import "context"

// OrderRepository 定义了订单聚合的持久化接口。
// 它位于领域层，但由基础设施层实现。
type OrderRepository interface {
	// Save 保存一个订单聚合（用于创建或更新）。
	Save(ctx context.Context, order *Order) error

	// FindByID 根据 ID 查找一个订单聚合。
	FindByID(ctx context.Context, id string) (*Order, error)

	// TransitionState 是 CAS 式状态迁移：只有当前状态等于 from 时才更新为 to，
	// 返回 false 表示状态已被并发方改走。
	TransitionState(ctx context.Context, id string, from, to State) (bool, error)
}
