// internal/service/account/domain/repository.go
package domain

import "context"

// AccountRepository 是账户持久化的仓储端口。
// UpdateWithLock 在排他行锁内加载账户、执行 mutate 并写回，
// 与库存仓储的锁语义保持一致。
type AccountRepository interface {
	Get(ctx context.Context, userID string) (*Account, error)
	Create(ctx context.Context, account *Account) error
	UpdateWithLock(ctx context.Context, userID string, mutate func(*Account) error) error
}
