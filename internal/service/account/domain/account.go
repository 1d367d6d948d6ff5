// internal/service/account/domain/account.go
package domain

import (
	"errors"
	"time"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

// Account 代表用户的资金账户。
// 余额变动只能通过 Deduct / Refund 这两个入口完成，
// 持久层必须在行锁保护下执行这些变更。
type Account struct {
	UserID    string
	Balance   float64
	UpdatedAt time.Time
}

// Deduct 扣减余额，余额不足返回 ErrInsufficientBalance。
func (a *Account) Deduct(amount float64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if a.Balance < amount {
		return ErrInsufficientBalance
	}
	a.Balance -= amount
	a.UpdatedAt = time.Now()
	return nil
}

// Refund 返还余额，是 Deduct 的补偿操作。
func (a *Account) Refund(amount float64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	a.Balance += amount
	a.UpdatedAt = time.Now()
	return nil
}
