// internal/service/coupon/port/quota.go
package port

import (
	"context"
	"errors"
	"time"
)

var (
	ErrExhausted          = errors.New("coupon quota exhausted")
	ErrAlreadyIssued      = errors.New("coupon already issued to this user")
	ErrQuotaUninitialized = errors.New("coupon quota is not initialized")
)

// CounterSetStore 是限量发放依赖的原子计数器/去重集合抽象。
// 生产实现基于 Redis；发放逻辑只能通过这里的原子原语组合，
// 绝不引入互斥锁，也绝不使用包级可变状态。
type CounterSetStore interface {
	Set(ctx context.Context, key string, value int64, ttl time.Duration) error
	Get(ctx context.Context, key string) (int64, error)
	Incr(ctx context.Context, key string) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)
	// SAdd 把 member 加入集合，返回 member 是否为新成员。
	SAdd(ctx context.Context, key, member string) (bool, error)
	SRem(ctx context.Context, key, member string) error
	SCard(ctx context.Context, key string) (int64, error)
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}
