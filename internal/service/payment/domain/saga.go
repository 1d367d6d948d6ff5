// internal/service/payment/domain/saga.go
package domain

import (
	"errors"
	"fmt"
	"time"
)

var ErrSagaNotFound = errors.New("saga instance not found")

// Status 是支付编排实例的生命周期状态。
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED" // 正向失败且补偿全部成功
	StatusStuck     Status = "STUCK"  // 补偿也失败了，需要人工介入
)

// Instance 是一次支付编排的持久化实例。
// CompletedSteps 是只追加的步骤日志：一个步骤只有在它的
// 副作用提交之后才会被记入，崩溃恢复据此决定补偿范围。
type Instance struct {
	SagaID         string
	OrderID        string
	UserID         string
	Status         Status
	CompletedSteps []string
	FailedStep     string
	FailureReason  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasCompleted 判断某个步骤是否已记入日志。
func (i *Instance) HasCompleted(step string) bool {
	for _, s := range i.CompletedSteps {
		if s == step {
			return true
		}
	}
	return false
}

// ExecutionError 包装编排执行中某个步骤的失败。
type ExecutionError struct {
	SagaID string
	Step   string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("saga %s: step %s failed: %v", e.SagaID, e.Step, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
