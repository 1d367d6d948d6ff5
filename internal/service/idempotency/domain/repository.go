// internal/service/idempotency/domain/repository.go
package domain

import (
	"context"
	"time"
)

// Repository 是幂等记录的仓储端口。
// 所有状态迁移都是 CAS 式的条件更新，返回 false 表示目标行已不在期望状态。
type Repository interface {
	// Insert 插入新记录；键已存在时返回 ErrDuplicateKey。
	Insert(ctx context.Context, r *Record) error
	Get(ctx context.Context, key string) (*Record, error)

	// Complete 把 PROCESSING 记录置为 COMPLETED 并存储响应。
	Complete(ctx context.Context, key string, response []byte) (bool, error)
	// Fail 把 PROCESSING 记录置为 FAILED 并存储失败原因。
	Fail(ctx context.Context, key string, reason string) (bool, error)
	// ResetForRetry 原地复用 FAILED 记录发起新一轮尝试 (upsert 语义，不破坏唯一约束)：
	// 状态回到 PROCESSING，响应与错误清空，attempts 加一。
	ResetForRetry(ctx context.Context, key, requestType, userID, entityID string) (bool, error)

	// FailZombies 把 updated_at 早于 cutoff 的 PROCESSING 记录批量置为 FAILED。
	FailZombies(ctx context.Context, cutoff time.Time, reason string) (int64, error)
	// PurgeTerminal 物理删除 created_at 早于 cutoff 的终态记录。
	PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error)
}
