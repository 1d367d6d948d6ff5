// internal/service/payment/domain/repository.go
package domain

import "context"

// SagaRepository 是编排实例的持久化端口。
// AppendStep 必须在步骤副作用提交之后、且只在之后调用——
// 日志里有的步骤一定执行过，日志里没有的步骤视为未执行。
type SagaRepository interface {
	Create(ctx context.Context, instance *Instance) error
	Get(ctx context.Context, sagaID string) (*Instance, error)
	AppendStep(ctx context.Context, sagaID, step string) error
	UpdateStatus(ctx context.Context, sagaID string, status Status, failedStep, reason string) error
	// FindByStatus 按状态捞取实例，供恢复任务和运维面使用。
	FindByStatus(ctx context.Context, status Status, limit int) ([]*Instance, error)
}
